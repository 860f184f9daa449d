package database

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresEngine backs the database tool with a Postgres server reachable
// via DSN. Selected when database.dsn is configured.
type PostgresEngine struct {
	DSN string
}

func NewPostgresEngine(dsn string) *PostgresEngine {
	return &PostgresEngine{DSN: dsn}
}

func (e *PostgresEngine) Name() string {
	return "postgres"
}

func (e *PostgresEngine) Connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", e.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (e *PostgresEngine) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
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

func (e *PostgresEngine) InspectTable(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &c.Default); err != nil {
			return nil, err
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errTableMissing(table)
	}
	return cols, nil
}

func (e *PostgresEngine) Schema(ctx context.Context, db *sql.DB) (string, error) {
	tables, err := e.ListTables(ctx, db)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, table := range tables {
		cols, err := e.InspectTable(ctx, db, table)
		if err != nil {
			return "", err
		}
		sb.WriteString(formatColumns(table, cols))
	}
	return sb.String(), nil
}
