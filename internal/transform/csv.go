package transform

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/queryvault/queryvault/internal/query"
)

// WriteCSV streams every result set as RFC 4180 CSV: a header row of column
// names followed by the data rows. Multiple result sets are separated by a
// blank record so concatenated cross-site output stays parseable.
func WriteCSV(w io.Writer, results *query.QueryResults) error {
	if results == nil || len(results.ResultSets) == 0 {
		return nil
	}

	writer := csv.NewWriter(w)
	for i, resultSet := range results.ResultSets {
		if i > 0 {
			writer.Flush()
			if err := writer.Error(); err != nil {
				return fmt.Errorf("flush csv: %w", err)
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return fmt.Errorf("separate result sets: %w", err)
			}
		}
		if err := writeResultSet(writer, resultSet); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeResultSet(writer *csv.Writer, resultSet query.ResultSet) error {
	header := make([]string, len(resultSet.Columns))
	for i, column := range resultSet.Columns {
		header[i] = column.Name
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(resultSet.Columns))
	for _, row := range resultSet.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}
