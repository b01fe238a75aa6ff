package transform

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/queryvault/queryvault/internal/query"
)

// EncodeParquet writes a single result set as a parquet file. Column values
// are rendered with FormatValue so the schema stays uniform regardless of the
// underlying database types, matching the CSV export.
func EncodeParquet(resultSet query.ResultSet) ([]byte, error) {
	if len(resultSet.Columns) == 0 {
		return nil, fmt.Errorf("result set has no columns")
	}

	group := parquet.Group{}
	for _, column := range resultSet.Columns {
		group[column.Name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("results", group)

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)

	rows := make([]map[string]any, 0, len(resultSet.Rows))
	for _, row := range resultSet.Rows {
		record := make(map[string]any, len(resultSet.Columns))
		for i, column := range resultSet.Columns {
			if i < len(row) && row[i] != nil {
				record[column.Name] = FormatValue(row[i])
			}
		}
		rows = append(rows, record)
	}

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
