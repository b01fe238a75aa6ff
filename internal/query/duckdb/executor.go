package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/site"
)

// Executor runs bound SQL against a site's DuckDB database. Site databases
// are opened read-only; queries never mutate a target.
type Executor struct {
	QueryTimeout time.Duration
}

func NewExecutor(queryTimeout time.Duration) *Executor {
	return &Executor{QueryTimeout: queryTimeout}
}

func (e *Executor) Execute(ctx context.Context, target site.Site, sqlText string, withPlan bool) (query.Execution, error) {
	if strings.TrimSpace(sqlText) == "" {
		return query.Execution{}, fmt.Errorf("sql is required")
	}

	db, err := sql.Open("duckdb", dsnFor(target))
	if err != nil {
		return query.Execution{}, fmt.Errorf("open site database %q: %w", target.Name, err)
	}
	defer func() { _ = db.Close() }()

	if e.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.QueryTimeout)
		defer cancel()
	}

	execution := query.Execution{}
	if withPlan {
		plan, err := capturePlan(ctx, db, sqlText)
		if err != nil {
			return query.Execution{}, err
		}
		execution.ExecutionPlan = plan
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Execution{}, err
	}
	defer func() { _ = rows.Close() }()

	for {
		resultSet, err := scanResultSet(rows)
		if err != nil {
			return query.Execution{}, err
		}
		execution.ResultSets = append(execution.ResultSets, resultSet)
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return query.Execution{}, err
	}
	return execution, nil
}

func scanResultSet(rows *sql.Rows) (query.ResultSet, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("result columns: %w", err)
	}

	resultSet := query.ResultSet{
		Columns: make([]query.Column, 0, len(columnTypes)),
		Rows:    make([][]any, 0),
	}
	for _, columnType := range columnTypes {
		resultSet.Columns = append(resultSet.Columns, query.Column{
			Name: columnType.Name(),
			Type: columnType.DatabaseTypeName(),
		})
	}

	for rows.Next() {
		values := make([]any, len(columnTypes))
		scanTargets := make([]any, len(columnTypes))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		resultSet.Rows = append(resultSet.Rows, normalizeValues(values))
	}
	return resultSet, nil
}

// capturePlan wraps DuckDB's EXPLAIN output into a small JSON document so the
// plan endpoint can serve a structured artifact.
func capturePlan(ctx context.Context, db *sql.DB, sqlText string) (string, error) {
	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	var sections []string
	for rows.Next() {
		var key, value any
		if err := rows.Scan(&key, &value); err != nil {
			return "", fmt.Errorf("scan plan row: %w", err)
		}
		sections = append(sections, fmt.Sprintf("%v\n%v", key, value))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	document, err := json.Marshal(map[string]string{
		"format": "duckdb",
		"plan":   strings.Join(sections, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("encode plan document: %w", err)
	}
	return string(document), nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func dsnFor(target site.Site) string {
	if target.DatabasePath == "" {
		return ""
	}
	return target.DatabasePath + "?access_mode=read_only"
}
