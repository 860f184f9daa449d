package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteEngine backs the database tool with a single SQLite file. This is
// the default: no server, state persists in the workspace.
type SQLiteEngine struct {
	Path string
}

func NewSQLiteEngine(path string) *SQLiteEngine {
	return &SQLiteEngine{Path: path}
}

func (e *SQLiteEngine) Name() string {
	return "sqlite"
}

func (e *SQLiteEngine) Connect(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", e.Path)
	if err != nil {
		return nil, err
	}
	// Single connection: SQLite serializes writers anyway and one handle
	// keeps transaction state unambiguous.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (e *SQLiteEngine) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (e *SQLiteEngine) InspectTable(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: ctype, Nullable: notNull == 0, Default: dflt.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	return cols, nil
}

func (e *SQLiteEngine) Schema(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var parts []string
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return "", err
		}
		parts = append(parts, ddl+";")
	}
	return strings.Join(parts, "\n"), rows.Err()
}
