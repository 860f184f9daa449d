package database

import (
	"regexp"
	"strings"
)

// Class partitions SQL statements by their effect, which decides implicit
// transaction wrapping and safe-mode gating.
type Class string

const (
	ClassQuery   Class = "query"
	ClassDML     Class = "dml"
	ClassDDL     Class = "ddl"
	ClassTxn     Class = "txn"
	ClassUnknown Class = "unknown"
)

var leadingComment = regexp.MustCompile(`(?s)^(\s*(--[^\n]*\n|/\*.*?\*/))*\s*`)

// Classify inspects the first keyword of a statement. Leading comments are
// skipped; anything unrecognized is ClassUnknown and treated as mutating.
func Classify(stmt string) Class {
	trimmed := leadingComment.ReplaceAllString(stmt, "")
	fields := strings.Fields(strings.ToUpper(trimmed))
	if len(fields) == 0 {
		return ClassUnknown
	}
	switch fields[0] {
	case "SELECT", "WITH", "EXPLAIN", "SHOW", "PRAGMA", "VALUES":
		return ClassQuery
	case "INSERT", "UPDATE", "DELETE", "MERGE", "REPLACE", "UPSERT", "COPY":
		return ClassDML
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME", "COMMENT", "GRANT", "REVOKE", "VACUUM", "REINDEX":
		return ClassDDL
	case "BEGIN", "START", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "END":
		return ClassTxn
	}
	return ClassUnknown
}

// Mutating reports whether a statement of this class changes stored data.
func (c Class) Mutating() bool {
	return c == ClassDML || c == ClassDDL || c == ClassUnknown
}

var deleteWhere = regexp.MustCompile(`(?is)\bWHERE\b`)

// DestructiveReason returns a non-empty reason when the statement is blocked
// in safe mode: dropping or truncating objects, and unscoped deletes or
// updates that would touch every row.
func DestructiveReason(stmt string) string {
	trimmed := leadingComment.ReplaceAllString(stmt, "")
	fields := strings.Fields(strings.ToUpper(trimmed))
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "DROP":
		return "DROP statements are blocked in safe mode"
	case "TRUNCATE":
		return "TRUNCATE statements are blocked in safe mode"
	case "DELETE":
		if !deleteWhere.MatchString(trimmed) {
			return "DELETE without a WHERE clause is blocked in safe mode"
		}
	case "UPDATE":
		if !deleteWhere.MatchString(trimmed) {
			return "UPDATE without a WHERE clause is blocked in safe mode"
		}
	}
	return ""
}

var tableRef = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE|TABLE)\s+([A-Za-z_][A-Za-z0-9_.]*)`)

// ReferencedTables extracts the table names a statement mentions, best
// effort, for existence checks when introspection is available.
func ReferencedTables(stmt string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range tableRef.FindAllStringSubmatch(stmt, -1) {
		name := strings.ToLower(m[1])
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}
