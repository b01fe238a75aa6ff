package duckdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/queryvault/queryvault/internal/site"
)

func newSiteDatabase(t *testing.T) site.Site {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.duckdb")
	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	statements := []string{
		`CREATE TABLE posts (id BIGINT, title VARCHAR, score BIGINT)`,
		`INSERT INTO posts VALUES (1, 'first', 10), (2, 'second', 5)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("seed site database: %v", err)
		}
	}
	return site.Site{ID: 1, Name: "testsite", DatabasePath: path}
}

func TestExecuteReturnsRows(t *testing.T) {
	target := newSiteDatabase(t)
	executor := NewExecutor(30 * time.Second)

	execution, err := executor.Execute(context.Background(), target, "SELECT id, title FROM posts ORDER BY id", false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(execution.ResultSets) != 1 {
		t.Fatalf("result set count = %d", len(execution.ResultSets))
	}
	resultSet := execution.ResultSets[0]
	if len(resultSet.Columns) != 2 || resultSet.Columns[0].Name != "id" {
		t.Fatalf("columns = %+v", resultSet.Columns)
	}
	if len(resultSet.Rows) != 2 {
		t.Fatalf("row count = %d", len(resultSet.Rows))
	}
	if resultSet.Rows[0][1] != "first" {
		t.Fatalf("first title = %v", resultSet.Rows[0][1])
	}
}

func TestExecuteCapturesPlan(t *testing.T) {
	target := newSiteDatabase(t)
	executor := NewExecutor(30 * time.Second)

	execution, err := executor.Execute(context.Background(), target, "SELECT count(*) FROM posts", true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if execution.ExecutionPlan == "" {
		t.Fatal("expected captured execution plan")
	}
	if !strings.Contains(execution.ExecutionPlan, `"format":"duckdb"`) {
		t.Fatalf("plan document = %q", execution.ExecutionPlan)
	}
}

func TestExecuteSurfacesDatabaseError(t *testing.T) {
	target := newSiteDatabase(t)
	executor := NewExecutor(30 * time.Second)

	_, err := executor.Execute(context.Background(), target, "SELECT nope FROM posts", false)
	if err == nil {
		t.Fatal("expected execution error")
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	executor := NewExecutor(time.Second)
	if _, err := executor.Execute(context.Background(), site.Site{Name: "x"}, "  ", false); err == nil {
		t.Fatal("expected error for empty sql")
	}
}
