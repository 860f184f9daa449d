package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"taskbench/internal/diff"
	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

const (
	OpView       = "view"
	OpCreate     = "create"
	OpStrReplace = "str_replace"
	OpInsert     = "insert"
	OpUndoEdit   = "undo_edit"
)

// Editor executes file operations confined to the session's working root.
// Mutations are atomic: the transform is computed in memory, the undo entry
// is pushed first, and the file is swapped in with a rename.
type Editor struct{}

func New() *Editor {
	return &Editor{}
}

func (e *Editor) Kind() session.Kind {
	return session.KindEditor
}

func (e *Editor) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	switch call.Op {
	case OpView, OpCreate, OpStrReplace, OpInsert:
	case OpUndoEdit:
		return tool.Accept()
	default:
		return tool.Reject("unknown editor op %q", call.Op)
	}
	rawPath := tool.StringArg(call.Args, "path")
	if rawPath == "" {
		return tool.Reject("path is required")
	}
	path, err := ResolvePath(sess.WorkingRoot, rawPath)
	if err != nil {
		return tool.Reject("%s", err.Error())
	}
	normalized := map[string]any{"path": path}
	switch call.Op {
	case OpView:
		if _, err := os.Stat(path); err != nil {
			return tool.Reject("file %s does not exist", rawPath)
		}
	case OpCreate:
		if _, ok := tool.RawStringArg(call.Args, "content"); !ok {
			return tool.Reject("content is required")
		}
		if !tool.BoolArg(call.Args, "overwrite") {
			if _, err := os.Stat(path); err == nil {
				return tool.Reject("file %s already exists; pass overwrite to replace it", rawPath)
			}
		}
	case OpStrReplace:
		oldStr, ok := tool.RawStringArg(call.Args, "old_str")
		if !ok || oldStr == "" {
			return tool.Reject("old_str is required")
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return tool.Reject("file %s does not exist", rawPath)
		}
		switch n := strings.Count(string(content), oldStr); n {
		case 1:
		case 0:
			return tool.Reject("old_str not found in %s", rawPath)
		default:
			return tool.Reject("old_str matches %d times in %s; make it unique", n, rawPath)
		}
	case OpInsert:
		if _, ok := tool.RawStringArg(call.Args, "new_str"); !ok {
			return tool.Reject("new_str is required")
		}
		line, ok := tool.IntArg(call.Args, "insert_line")
		if !ok || line < 0 {
			return tool.Reject("insert_line must be a non-negative integer")
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return tool.Reject("file %s does not exist", rawPath)
		}
		if line > lineCount(string(content)) {
			return tool.Reject("insert_line %d beyond end of %s", line, rawPath)
		}
	}
	return tool.AcceptNormalized(normalized)
}

func (e *Editor) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	st := stateOf(sess)
	path := tool.StringArg(call.Args, "path")
	if call.Op != OpUndoEdit {
		resolved, err := ResolvePath(sess.WorkingRoot, path)
		if err != nil {
			return tool.Fail(errinfo.KindValidationFailed, err.Error()), nil
		}
		path = resolved
	}
	switch call.Op {
	case OpView:
		return e.view(st, path)
	case OpCreate:
		content, _ := tool.RawStringArg(call.Args, "content")
		return e.create(st, path, content, tool.BoolArg(call.Args, "overwrite"))
	case OpStrReplace:
		oldStr, _ := tool.RawStringArg(call.Args, "old_str")
		newStr, _ := tool.RawStringArg(call.Args, "new_str")
		return e.strReplace(st, path, oldStr, newStr)
	case OpInsert:
		newStr, _ := tool.RawStringArg(call.Args, "new_str")
		line, _ := tool.IntArg(call.Args, "insert_line")
		return e.insert(st, path, line, newStr)
	case OpUndoEdit:
		return e.undoEdit(st)
	}
	return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("unknown editor op %q", call.Op)), nil
}

func (e *Editor) view(st *State, path string) (tool.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("file %s does not exist", path)), nil
		}
		return tool.Result{}, err
	}
	st.touch(path)
	return tool.Ok(string(content)), nil
}

func (e *Editor) create(st *State, path, content string, overwrite bool) (tool.Result, error) {
	prev, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return tool.Result{}, err
	}
	if existed && !overwrite {
		return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("file %s already exists", path)), nil
	}
	st.push(UndoEntry{Path: path, PrevContent: string(prev), Existed: existed, Range: fmt.Sprintf("1-%d", lineCount(content))})
	if err := atomicWrite(path, content); err != nil {
		st.pop()
		return tool.Result{}, err
	}
	st.touch(path)
	return tool.OkWithEffects(fmt.Sprintf("File created at %s", path), diff.Summary(string(prev), content)), nil
}

func (e *Editor) strReplace(st *State, path, oldStr, newStr string) (tool.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tool.Result{}, err
	}
	content := string(raw)
	switch n := strings.Count(content, oldStr); n {
	case 1:
	case 0:
		return tool.Fail(errinfo.KindValidationFailed, "old_str not found in file"), nil
	default:
		return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("old_str matches %d times", n)), nil
	}
	updated := strings.Replace(content, oldStr, newStr, 1)
	start := strings.Count(content[:strings.Index(content, oldStr)], "\n") + 1
	st.push(UndoEntry{Path: path, PrevContent: content, Existed: true, Range: fmt.Sprintf("%d-%d", start, start+lineCount(oldStr)-1)})
	if err := atomicWrite(path, updated); err != nil {
		st.pop()
		return tool.Result{}, err
	}
	st.touch(path)
	return tool.OkWithEffects("File updated successfully", diff.Summary(content, updated)), nil
}

func (e *Editor) insert(st *State, path string, line int, newStr string) (tool.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tool.Result{}, err
	}
	content := string(raw)
	lines := splitKeepEmpty(content)
	if line < 0 || line > len(lines) {
		return tool.Fail(errinfo.KindValidationFailed, "insert_line beyond file length"), nil
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:line]...)
	out = append(out, newStr)
	out = append(out, lines[line:]...)
	updated := strings.Join(out, "\n")
	if strings.HasSuffix(content, "\n") && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	st.push(UndoEntry{Path: path, PrevContent: content, Existed: true, Range: fmt.Sprintf("%d", line+1)})
	if err := atomicWrite(path, updated); err != nil {
		st.pop()
		return tool.Result{}, err
	}
	st.touch(path)
	return tool.OkWithEffects("Content inserted successfully", diff.Summary(content, updated)), nil
}

func (e *Editor) undoEdit(st *State) (tool.Result, error) {
	entry, ok := st.pop()
	if !ok {
		return tool.Fail(errinfo.KindNoUndoAvailable, "no edits to undo"), nil
	}
	if !entry.Existed {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			st.push(entry)
			return tool.Result{}, err
		}
		return tool.Ok(fmt.Sprintf("Removed %s", entry.Path)), nil
	}
	if err := atomicWrite(entry.Path, entry.PrevContent); err != nil {
		st.push(entry)
		return tool.Result{}, err
	}
	return tool.Ok(fmt.Sprintf("Reverted last edit to %s", entry.Path)), nil
}

func (e *Editor) Schema() llm.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{OpView, OpCreate, OpStrReplace, OpInsert, OpUndoEdit},
				"description": "Editor operation to perform",
			},
			"path":        map[string]any{"type": "string", "description": "File path relative to the workspace root"},
			"content":     map[string]any{"type": "string", "description": "Full file content for create"},
			"overwrite":   map[string]any{"type": "boolean", "description": "Allow create to replace an existing file"},
			"old_str":     map[string]any{"type": "string", "description": "Exact text to replace; must match once"},
			"new_str":     map[string]any{"type": "string", "description": "Replacement or inserted text"},
			"insert_line": map[string]any{"type": "integer", "description": "Line after which new_str is inserted (0 = top)"},
		},
		"required": []string{"op"},
	}
	raw, _ := json.Marshal(schema)
	return llm.Tool{
		Name:        string(session.KindEditor),
		Description: "View, create, and edit text files inside the workspace. Edits are undoable with undo_edit.",
		InputSchema: raw,
	}
}

// ResolvePath maps a planner-supplied path into the working root and
// rejects anything that resolves outside it. A leading /repo/ prefix is
// tolerated because models habitually produce it.
func ResolvePath(workingRoot, path string) (string, error) {
	cleaned := strings.TrimSpace(path)
	cleaned = strings.TrimPrefix(cleaned, "/repo/")
	if cleaned == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(cleaned) {
		rel, err := filepath.Rel(workingRoot, cleaned)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s escapes the working root", path)
		}
		cleaned = rel
	}
	full := filepath.Join(workingRoot, cleaned)
	rel, err := filepath.Rel(workingRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the working root", path)
	}
	return full, nil
}

// atomicWrite lands content via a temp file and rename so a crash leaves
// either the old content or the new, never a partial write. The target's
// mode survives the rename; new files get 0644.
func atomicWrite(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".edit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func splitKeepEmpty(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	return strings.Split(trimmed, "\n")
}
