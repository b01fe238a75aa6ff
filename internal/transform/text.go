package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/queryvault/queryvault/internal/query"
)

// ToText rewrites tabular result sets into fixed-width text blocks appended
// to the result messages. Grids are only kept when the caller did not force
// text and exactly one result set came back; anything else renders as text
// because the grid consumer cannot represent it.
func ToText(results *query.QueryResults, force bool) {
	if results == nil {
		return
	}
	if !force && len(results.ResultSets) == 1 {
		return
	}

	for _, resultSet := range results.ResultSets {
		block := renderResultSet(resultSet)
		if block != "" {
			results.AppendMessage(block)
		}
	}
	results.ResultSets = nil
	results.TextOnly = true
}

func renderResultSet(resultSet query.ResultSet) string {
	if len(resultSet.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(resultSet.Columns))
	cells := make([][]string, 0, len(resultSet.Rows))
	for i, column := range resultSet.Columns {
		widths[i] = len(column.Name)
	}
	for _, row := range resultSet.Rows {
		line := make([]string, len(resultSet.Columns))
		for i := range resultSet.Columns {
			if i < len(row) {
				line[i] = FormatValue(row[i])
			}
			if len(line[i]) > widths[i] {
				widths[i] = len(line[i])
			}
		}
		cells = append(cells, line)
	}

	var b strings.Builder
	if resultSet.Site != "" {
		b.WriteString(resultSet.Site)
		b.WriteString("\n\n")
	}
	for i, column := range resultSet.Columns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pad(column.Name, widths[i]))
	}
	b.WriteByte('\n')
	for i := range resultSet.Columns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.Repeat("-", widths[i]))
	}
	for _, line := range cells {
		b.WriteByte('\n')
		for i, cell := range line {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(pad(cell, widths[i]))
		}
	}
	return b.String()
}

// FormatValue renders a result cell the same way for text, CSV, and parquet
// exports. Nil renders empty.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", typed), "0"), ".")
	default:
		return fmt.Sprint(typed)
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
