package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbench/internal/errinfo"
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

func newFixture(t *testing.T) (*Database, *session.Session) {
	t.Helper()
	d := New(NewSQLiteEngine(filepath.Join(t.TempDir(), "test.db")))
	sess := &session.Session{ID: "test-db", Kind: session.KindDatabase}
	return d, sess
}

func dbCall(op string, args map[string]any) tool.Call {
	return tool.Call{Kind: session.KindDatabase, Op: op, Args: args}
}

func run(t *testing.T, d *Database, sess *session.Session, op string, args map[string]any) tool.Result {
	t.Helper()
	result, err := d.Execute(context.Background(), dbCall(op, args), sess)
	require.NoError(t, err)
	return result
}

func countUsers(t *testing.T, d *Database, sess *session.Session) string {
	t.Helper()
	result := run(t, d, sess, OpQuery, map[string]any{"statement": "SELECT COUNT(*) FROM users"})
	require.True(t, result.Success, result.Reason)
	return result.Output
}

func TestExecAndQuery(t *testing.T) {
	d, sess := newFixture(t)

	result := run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"})
	require.True(t, result.Success, result.Reason)
	assert.Equal(t, "committed", result.SideEffects)

	result = run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES ('ada')"})
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, result.Output, "1 row(s) affected")

	result = run(t, d, sess, OpQuery, map[string]any{"statement": "SELECT name FROM users"})
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, result.Output, "ada")
	assert.Contains(t, result.Output, "(1 rows)")
}

func TestImplicitTransactionRollsBackOnError(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"})

	result := run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES (NULL)"})
	assert.False(t, result.Success)
	assert.Equal(t, errinfo.KindExecutionFailed, result.ErrorKind)
	assert.Contains(t, countUsers(t, d, sess), "0")
}

func TestExplicitTransactionAtomicity(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"})
	run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES ('before')"})

	result := run(t, d, sess, OpBegin, nil)
	require.True(t, result.Success, result.Reason)

	result = run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES ('inside')"})
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, result.SideEffects, "uncommitted")

	// A failing statement mid-sequence, then rollback: state as before begin.
	result = run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (nope) VALUES (1)"})
	assert.False(t, result.Success)

	result = run(t, d, sess, OpRollback, nil)
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, countUsers(t, d, sess), "1")
}

func TestCommitPersists(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"})
	run(t, d, sess, OpBegin, nil)
	run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES ('kept')"})
	result := run(t, d, sess, OpCommit, nil)
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, countUsers(t, d, sess), "1")
}

func TestAtMostOneOpenTransaction(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE t (id INT)"})
	run(t, d, sess, OpBegin, nil)

	outcome := d.Validate(dbCall(OpBegin, nil), sess)
	assert.False(t, outcome.Accepted)

	result := run(t, d, sess, OpBegin, nil)
	assert.False(t, result.Success)
	assert.Equal(t, errinfo.KindValidationFailed, result.ErrorKind)

	run(t, d, sess, OpRollback, nil)
}

func TestCommitWithoutTransactionRejected(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE t (id INT)"})
	for _, op := range []string{OpCommit, OpRollback} {
		outcome := d.Validate(dbCall(op, nil), sess)
		assert.False(t, outcome.Accepted, op)
	}
}

func TestTeardownRollsBackOpenTransaction(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"})
	run(t, d, sess, OpBegin, nil)
	run(t, d, sess, OpExec, map[string]any{"statement": "INSERT INTO users (name) VALUES ('doomed')"})

	st := sess.Resource.(*State)
	require.NoError(t, st.Close(context.Background()))
	sess.Resource = nil

	assert.Contains(t, countUsers(t, d, sess), "0")
}

func TestSafeModeBlocksDestructiveSQL(t *testing.T) {
	d, sess := newFixture(t)
	sess.SafeMode = true
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY)"})

	for _, stmt := range []string{
		"DROP TABLE users",
		"DELETE FROM users",
		"UPDATE users SET id = 0",
	} {
		outcome := d.Validate(dbCall(OpExec, map[string]any{"statement": stmt}), sess)
		assert.False(t, outcome.Accepted, stmt)
	}
	outcome := d.Validate(dbCall(OpExec, map[string]any{"statement": "DELETE FROM users WHERE id = 1"}), sess)
	assert.True(t, outcome.Accepted, outcome.Reason)
}

func TestQueryRejectsMutatingStatement(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INT)"})
	outcome := d.Validate(dbCall(OpQuery, map[string]any{"statement": "DELETE FROM users WHERE id = 1"}), sess)
	assert.False(t, outcome.Accepted)
}

func TestValidateUnknownTable(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INT)"})

	outcome := d.Validate(dbCall(OpQuery, map[string]any{"statement": "SELECT * FROM userz"}), sess)
	assert.False(t, outcome.Accepted)
	assert.Contains(t, outcome.Reason, "userz")
}

func TestIntrospection(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"})
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE orders (id INTEGER PRIMARY KEY)"})

	result := run(t, d, sess, OpListTables, nil)
	require.True(t, result.Success, result.Reason)
	assert.Equal(t, "orders\nusers", result.Output)

	result = run(t, d, sess, OpInspectTable, map[string]any{"table": "users"})
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, result.Output, "name TEXT NOT NULL")

	result = run(t, d, sess, OpGetSchema, nil)
	require.True(t, result.Success, result.Reason)
	assert.Contains(t, result.Output, "CREATE TABLE users")
	assert.Contains(t, result.Output, "CREATE TABLE orders")
}

func TestInspectMissingTableSuggests(t *testing.T) {
	d, sess := newFixture(t)
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE users (id INT)"})
	result := run(t, d, sess, OpInspectTable, map[string]any{"table": "user"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "users")
}

func TestRowLimitTruncation(t *testing.T) {
	d, sess := newFixture(t)
	d.maxRows = 2
	run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE n (v INT)"})
	for _, stmt := range []string{
		"INSERT INTO n VALUES (1)",
		"INSERT INTO n VALUES (2)",
		"INSERT INTO n VALUES (3)",
	} {
		run(t, d, sess, OpExec, map[string]any{"statement": stmt})
	}
	result := run(t, d, sess, OpQuery, map[string]any{"statement": "SELECT v FROM n"})
	require.True(t, result.Success, result.Reason)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Output, "truncated")
}

func TestNoExecMockMode(t *testing.T) {
	d, sess := newFixture(t)
	sess.NoExec = true
	result := run(t, d, sess, OpExec, map[string]any{"statement": "CREATE TABLE t (id INT)"})
	assert.True(t, result.Success)
	assert.Nil(t, sess.Resource)
}
