package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Column describes one column of an inspected table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// Engine abstracts the backend-specific parts of the database tool:
// connecting and schema introspection. Statement execution itself goes
// through database/sql and is backend-neutral.
type Engine interface {
	Name() string
	Connect(ctx context.Context) (*sql.DB, error)
	ListTables(ctx context.Context, db *sql.DB) ([]string, error)
	InspectTable(ctx context.Context, db *sql.DB, table string) ([]Column, error)
	Schema(ctx context.Context, db *sql.DB) (string, error)
}

func formatColumns(table string, cols []Column) string {
	out := fmt.Sprintf("Table %s:\n", table)
	for _, c := range cols {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		out += fmt.Sprintf("  %s %s %s", c.Name, c.Type, null)
		if c.Default != "" {
			out += " DEFAULT " + c.Default
		}
		out += "\n"
	}
	return out
}
