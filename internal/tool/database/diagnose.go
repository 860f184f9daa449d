package database

import (
	"fmt"
	"regexp"
	"strings"
)

func errTableMissing(table string) error {
	return fmt.Errorf("table %q does not exist", table)
}

var missingTablePattern = regexp.MustCompile(`(?i)(?:no such table:?\s*|relation\s+"?|table\s+"?)([A-Za-z_][A-Za-z0-9_]*)"?(?:\s+does not exist)?`)

// Diagnose turns a backend error into a planner-actionable message: when a
// statement named a table that does not exist, suggest the closest known
// table name.
func Diagnose(err error, knownTables []string) string {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "no such table") && !strings.Contains(lower, "does not exist") {
		return msg
	}
	m := missingTablePattern.FindStringSubmatch(msg)
	if m == nil {
		return msg
	}
	missing := strings.ToLower(m[1])
	best, bestDist := "", 4
	for _, table := range knownTables {
		if d := editDistance(missing, strings.ToLower(table)); d < bestDist {
			best, bestDist = table, d
		}
	}
	if best == "" {
		if len(knownTables) > 0 {
			return fmt.Sprintf("%s (available tables: %s)", msg, strings.Join(knownTables, ", "))
		}
		return msg
	}
	return fmt.Sprintf("%s (did you mean %q?)", msg, best)
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
