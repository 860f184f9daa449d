package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

const (
	OpQuery        = "query"
	OpExec         = "exec"
	OpBegin        = "begin"
	OpCommit       = "commit"
	OpRollback     = "rollback"
	OpListTables   = "list_tables"
	OpInspectTable = "inspect_table"
	OpGetSchema    = "get_schema"
)

const defaultMaxRows = 200

// Database executes SQL against a backend engine. Every mutating call runs
// in an implicit transaction unless the planner has opened an explicit one;
// at most one explicit transaction is open at a time.
type Database struct {
	engine  Engine
	timeout time.Duration
	maxRows int
}

type Option func(*Database)

func WithStatementTimeout(timeout time.Duration) Option {
	return func(d *Database) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithMaxRows(limit int) Option {
	return func(d *Database) {
		if limit > 0 {
			d.maxRows = limit
		}
	}
}

func New(engine Engine, opts ...Option) *Database {
	d := &Database{engine: engine, timeout: 30 * time.Second, maxRows: defaultMaxRows}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Database) Kind() session.Kind {
	return session.KindDatabase
}

func (d *Database) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	st, _ := sess.Resource.(*State)
	switch call.Op {
	case OpListTables, OpGetSchema:
		return tool.Accept()
	case OpInspectTable:
		if tool.StringArg(call.Args, "table") == "" {
			return tool.Reject("table is required")
		}
		return tool.Accept()
	case OpBegin:
		if st != nil && st.tx != nil {
			return tool.Reject("a transaction is already open; commit or rollback first")
		}
		return tool.Accept()
	case OpCommit, OpRollback:
		if st == nil || st.tx == nil {
			return tool.Reject("no open transaction")
		}
		return tool.Accept()
	case OpQuery, OpExec:
	default:
		return tool.Reject("unknown database op %q", call.Op)
	}

	stmt := tool.StringArg(call.Args, "statement")
	if stmt == "" {
		return tool.Reject("statement is required")
	}
	class := Classify(stmt)
	if call.Op == OpQuery && class.Mutating() {
		return tool.Reject("statement is mutating (%s); use exec", class)
	}
	if call.Op == OpExec && class == ClassTxn {
		return tool.Reject("use the begin/commit/rollback ops for transaction control")
	}
	if sess.SafeMode && call.Op == OpExec {
		if reason := DestructiveReason(stmt); reason != "" {
			return tool.Reject("%s", reason)
		}
	}
	if st != nil && len(st.tables) > 0 && class != ClassDDL {
		known := map[string]bool{}
		for _, t := range st.tables {
			known[strings.ToLower(t)] = true
		}
		for _, ref := range ReferencedTables(stmt) {
			if !known[ref] {
				return tool.Reject("statement references unknown table %q (known: %s)", ref, strings.Join(st.tables, ", "))
			}
		}
	}
	return tool.Accept()
}

func (d *Database) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	if sess.NoExec {
		return tool.OkWithEffects("in mock mode, statement did not run", "none"), nil
	}
	st, err := d.ensure(ctx, sess)
	if err != nil {
		return tool.Fail(errinfo.KindResourceUnavailable, err.Error()), nil
	}
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.dispatch(runCtx, call, st)
	if runCtx.Err() == context.DeadlineExceeded {
		return tool.Fail(errinfo.KindTimeout, fmt.Sprintf("statement exceeded %s", d.timeout)), nil
	}
	return result, err
}

func (d *Database) dispatch(ctx context.Context, call tool.Call, st *State) (tool.Result, error) {
	switch call.Op {
	case OpQuery:
		return d.query(ctx, st, tool.StringArg(call.Args, "statement"))
	case OpExec:
		return d.exec(ctx, st, tool.StringArg(call.Args, "statement"))
	case OpBegin:
		return d.begin(ctx, st)
	case OpCommit:
		return d.commit(st)
	case OpRollback:
		return d.rollback(st)
	case OpListTables:
		return d.listTables(ctx, st)
	case OpInspectTable:
		return d.inspectTable(ctx, st, tool.StringArg(call.Args, "table"))
	case OpGetSchema:
		return d.getSchema(ctx, st)
	}
	return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("unknown database op %q", call.Op)), nil
}

func (d *Database) query(ctx context.Context, st *State, stmt string) (tool.Result, error) {
	rows, err := st.querier().QueryContext(ctx, stmt)
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, Diagnose(err, st.tables)), nil
	}
	defer rows.Close()
	output, truncated, err := d.formatRows(rows)
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	return tool.Result{Success: true, Output: output, Truncated: truncated}, nil
}

// exec runs a mutating statement. Inside an explicit transaction it joins
// it; otherwise it gets an implicit transaction that commits on success and
// rolls back on any error, so a failed statement never half-applies.
func (d *Database) exec(ctx context.Context, st *State, stmt string) (tool.Result, error) {
	if st.tx != nil {
		res, err := st.tx.ExecContext(ctx, stmt)
		if err != nil {
			return tool.Fail(errinfo.KindExecutionFailed, Diagnose(err, st.tables)), nil
		}
		return tool.OkWithEffects(execSummary(res), "uncommitted (explicit transaction open)"), nil
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(errinfo.KindResourceUnavailable, err.Error()), nil
	}
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return tool.Fail(errinfo.KindExecutionFailed, Diagnose(err, st.tables)), nil
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	st.refreshTables(ctx, d.engine)
	return tool.OkWithEffects(execSummary(res), "committed"), nil
}

func (d *Database) begin(ctx context.Context, st *State) (tool.Result, error) {
	if st.tx != nil {
		return tool.Fail(errinfo.KindValidationFailed, "a transaction is already open"), nil
	}
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(errinfo.KindResourceUnavailable, err.Error()), nil
	}
	st.tx = tx
	return tool.Ok("Transaction started."), nil
}

func (d *Database) commit(st *State) (tool.Result, error) {
	if st.tx == nil {
		return tool.Fail(errinfo.KindValidationFailed, "no open transaction"), nil
	}
	err := st.tx.Commit()
	st.tx = nil
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	st.refreshTables(context.Background(), d.engine)
	return tool.Ok("Transaction committed."), nil
}

func (d *Database) rollback(st *State) (tool.Result, error) {
	if st.tx == nil {
		return tool.Fail(errinfo.KindValidationFailed, "no open transaction"), nil
	}
	err := st.tx.Rollback()
	st.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	return tool.Ok("Transaction rolled back."), nil
}

func (d *Database) listTables(ctx context.Context, st *State) (tool.Result, error) {
	tables, err := d.engine.ListTables(ctx, st.db)
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	st.tables = tables
	if len(tables) == 0 {
		return tool.Ok("No tables."), nil
	}
	return tool.Ok(strings.Join(tables, "\n")), nil
}

func (d *Database) inspectTable(ctx context.Context, st *State, table string) (tool.Result, error) {
	cols, err := d.engine.InspectTable(ctx, st.db, table)
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, Diagnose(err, st.tables)), nil
	}
	return tool.Ok(formatColumns(table, cols)), nil
}

func (d *Database) getSchema(ctx context.Context, st *State) (tool.Result, error) {
	schema, err := d.engine.Schema(ctx, st.db)
	if err != nil {
		return tool.Fail(errinfo.KindExecutionFailed, err.Error()), nil
	}
	if schema == "" {
		schema = "Empty schema."
	}
	return tool.Ok(schema), nil
}

func (d *Database) formatRows(rows *sql.Rows) (string, bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", false, err
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(cols, "\t"))
	sb.WriteString("\n")
	count := 0
	truncated := false
	for rows.Next() {
		if count >= d.maxRows {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", false, err
		}
		cells := make([]string, len(cols))
		for i, v := range values {
			cells[i] = renderValue(v)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	sb.WriteString(fmt.Sprintf("(%d rows", count))
	if truncated {
		sb.WriteString(", truncated")
	}
	sb.WriteString(")")
	return sb.String(), truncated, nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func execSummary(res sql.Result) string {
	if res == nil {
		return "OK"
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "OK"
	}
	return fmt.Sprintf("%d row(s) affected", n)
}

func (d *Database) ensure(ctx context.Context, sess *session.Session) (*State, error) {
	if st, ok := sess.Resource.(*State); ok {
		return st, nil
	}
	db, err := d.engine.Connect(ctx)
	if err != nil {
		return nil, err
	}
	st := &State{db: db}
	st.refreshTables(ctx, d.engine)
	sess.Resource = st
	return st, nil
}

func (d *Database) Schema() llm.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{OpQuery, OpExec, OpBegin, OpCommit, OpRollback, OpListTables, OpInspectTable, OpGetSchema},
				"description": "Database operation to perform",
			},
			"statement": map[string]any{"type": "string", "description": "SQL statement for query or exec"},
			"table":     map[string]any{"type": "string", "description": "Table name for inspect_table"},
		},
		"required": []string{"op"},
	}
	raw, _ := json.Marshal(schema)
	return llm.Tool{
		Name:        string(session.KindDatabase),
		Description: "Run SQL against the workspace database. Mutations are transactional; use begin/commit/rollback for multi-statement work.",
		InputSchema: raw,
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// State is the database session resource: the open connection, the open
// explicit transaction if any, and a cached table list for diagnostics.
type State struct {
	db     *sql.DB
	tx     *sql.Tx
	tables []string
}

func (s *State) querier() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *State) refreshTables(ctx context.Context, engine Engine) {
	if tables, err := engine.ListTables(ctx, s.db); err == nil {
		s.tables = tables
	}
}

// Close rolls back any uncommitted transaction before closing the handle.
func (s *State) Close(ctx context.Context) error {
	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		s.tx = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
	}
	return errors.Join(errs...)
}

func (s *State) Describe() map[string]any {
	return map[string]any{
		"open_transaction": s.tx != nil,
		"tables":           append([]string(nil), s.tables...),
	}
}
