package orchestrator

import "strings"

const basePrompt = `You are an assistant that completes tasks by calling tools.
Work step by step: inspect before you mutate, verify after you mutate, and
finish with a short summary of what changed. Paths are relative to the
workspace root. When a tool reports an error, read the reason and adjust
rather than repeating the same call.`

var modePrompts = map[string]string{
	"db": `Use the database tool. Inspect the schema with list_tables,
inspect_table, or get_schema before writing SQL. Use query for reads and
exec for writes; wrap multi-statement changes in begin/commit and rollback
on failure.`,
	"editor": `Use the editor tool. View a file before editing it. For
str_replace the old_str must match the file exactly once; include enough
surrounding context to make it unique. undo_edit reverts the most recent
edit.`,
	"bash": `Use the shell tool. Commands run under the workspace root with
a persistent environment; use restart if the environment gets into a bad
state. Output beyond the size ceiling is truncated.`,
	"diagram": `Use the diagram tool. Create a diagram first, then add nodes
before the edges that connect them. Every edit appends a revision; history
lists them and render produces a PNG.`,
}

// SystemPrompt assembles the planner system prompt for a run mode. Unknown
// or empty modes get the base prompt with every tool available.
func SystemPrompt(mode string, safeMode bool) string {
	parts := []string{basePrompt}
	if p, ok := modePrompts[mode]; ok {
		parts = append(parts, p)
	}
	if safeMode {
		parts = append(parts, `Safe mode is on: destructive shell commands and
unscoped destructive SQL are rejected by validation. Prefer narrow, reversible
operations.`)
	}
	return strings.Join(parts, "\n\n")
}

// ModeKinds maps a CLI mode to the tool kinds exposed to the planner. An
// empty mode exposes everything.
func ModeKinds(mode string) []string {
	switch mode {
	case "editor":
		return []string{"editor"}
	case "bash":
		return []string{"shell"}
	case "db", "database":
		return []string{"database", "editor"}
	case "diagram":
		return []string{"diagram"}
	}
	return []string{"editor", "shell", "database", "diagram"}
}
