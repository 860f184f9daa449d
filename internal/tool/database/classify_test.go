package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"SELECT * FROM users":                  ClassQuery,
		"  select 1":                           ClassQuery,
		"WITH t AS (SELECT 1) SELECT * FROM t": ClassQuery,
		"PRAGMA table_info(users)":             ClassQuery,
		"EXPLAIN SELECT 1":                     ClassQuery,
		"INSERT INTO users VALUES (1)":         ClassDML,
		"update users set name = 'x'":          ClassDML,
		"DELETE FROM users WHERE id = 1":       ClassDML,
		"CREATE TABLE t (id INT)":              ClassDDL,
		"DROP TABLE t":                         ClassDDL,
		"ALTER TABLE t ADD COLUMN x INT":       ClassDDL,
		"BEGIN":                                ClassTxn,
		"COMMIT":                               ClassTxn,
		"ROLLBACK":                             ClassTxn,
		"-- comment\nSELECT 1":                 ClassQuery,
		"/* block */ INSERT INTO t VALUES (1)": ClassDML,
		"":                                     ClassUnknown,
	}
	for stmt, want := range cases {
		assert.Equal(t, want, Classify(stmt), "statement: %q", stmt)
	}
}

func TestMutating(t *testing.T) {
	assert.False(t, ClassQuery.Mutating())
	assert.False(t, ClassTxn.Mutating())
	assert.True(t, ClassDML.Mutating())
	assert.True(t, ClassDDL.Mutating())
	assert.True(t, ClassUnknown.Mutating())
}

func TestDestructiveReason(t *testing.T) {
	assert.NotEmpty(t, DestructiveReason("DROP TABLE users"))
	assert.NotEmpty(t, DestructiveReason("TRUNCATE users"))
	assert.NotEmpty(t, DestructiveReason("DELETE FROM users"))
	assert.NotEmpty(t, DestructiveReason("UPDATE users SET active = 0"))

	assert.Empty(t, DestructiveReason("DELETE FROM users WHERE id = 1"))
	assert.Empty(t, DestructiveReason("UPDATE users SET active = 0 WHERE id = 1"))
	assert.Empty(t, DestructiveReason("INSERT INTO users VALUES (1)"))
	assert.Empty(t, DestructiveReason("SELECT * FROM users"))
}

func TestReferencedTables(t *testing.T) {
	tables := ReferencedTables("SELECT * FROM orders o JOIN customers c ON o.cid = c.id")
	assert.Equal(t, []string{"orders", "customers"}, tables)

	tables = ReferencedTables("INSERT INTO public.events VALUES (1)")
	assert.Equal(t, []string{"events"}, tables)
}

func TestDiagnoseSuggestsClosestTable(t *testing.T) {
	err := errTableMissing("user")
	msg := Diagnose(err, []string{"users", "orders"})
	assert.Contains(t, msg, `did you mean "users"`)
}
