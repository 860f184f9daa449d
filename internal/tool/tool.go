package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"taskbench/internal/llm"
	"taskbench/internal/session"
)

// Call is one planning decision: a tool kind, an operation, and arguments.
// Immutable once issued.
type Call struct {
	ID        string          `json:"id,omitempty"`
	Kind      session.Kind    `json:"kind"`
	Op        string          `json:"op"`
	Args      map[string]any  `json:"args,omitempty"`
	Raw       json.RawMessage `json:"-"`
	TurnIndex int             `json:"turn_index"`
}

// ParseCall decodes a planner tool-use block into a Call. The op is carried
// in the "op" argument for single-schema tools, or implied by the tool name.
func ParseCall(use llm.ToolUse, turn int) (Call, error) {
	kind := session.Kind(strings.TrimSpace(use.Name))
	if !kind.Valid() {
		return Call{}, fmt.Errorf("unknown tool %q", use.Name)
	}
	args := map[string]any{}
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &args); err != nil {
			return Call{}, fmt.Errorf("malformed arguments for %s: %w", use.Name, err)
		}
	}
	op, _ := args["op"].(string)
	op = strings.TrimSpace(op)
	if op == "" {
		return Call{}, fmt.Errorf("missing op for tool %s", use.Name)
	}
	delete(args, "op")
	return Call{ID: use.ID, Kind: kind, Op: op, Args: args, Raw: use.Input, TurnIndex: turn}, nil
}

// Outcome is the validator's verdict. A rejected call never reaches an
// executor.
type Outcome struct {
	Accepted   bool           `json:"accepted"`
	Reason     string         `json:"reason,omitempty"`
	Normalized map[string]any `json:"normalized,omitempty"`
}

func Accept() Outcome {
	return Outcome{Accepted: true}
}

func AcceptNormalized(args map[string]any) Outcome {
	return Outcome{Accepted: true, Normalized: args}
}

func Reject(format string, args ...any) Outcome {
	return Outcome{Accepted: false, Reason: fmt.Sprintf(format, args...)}
}

// Result is the structured outcome of one executed (or rejected) call.
type Result struct {
	Success     bool   `json:"success"`
	Output      string `json:"output,omitempty"`
	SideEffects string `json:"side_effects,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func Ok(output string) Result {
	return Result{Success: true, Output: output}
}

func OkWithEffects(output, sideEffects string) Result {
	return Result{Success: true, Output: output, SideEffects: sideEffects}
}

func Fail(errorKind, reason string) Result {
	return Result{Success: false, ErrorKind: errorKind, Reason: reason}
}

// Tool is the capability interface every executor implements. Dispatch is
// by the closed set of session kinds, never by runtime type inspection.
type Tool interface {
	Kind() session.Kind
	Validate(call Call, sess *session.Session) Outcome
	Execute(ctx context.Context, call Call, sess *session.Session) (Result, error)
	Schema() llm.Tool
}

// StringArg returns a trimmed string argument, "" when absent.
func StringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return strings.TrimSpace(value)
}

// RawStringArg returns a string argument without trimming, for content
// payloads where whitespace is significant.
func RawStringArg(args map[string]any, key string) (string, bool) {
	value, ok := args[key].(string)
	return value, ok
}

// IntArg returns an integer argument; JSON numbers arrive as float64.
func IntArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func BoolArg(args map[string]any, key string) bool {
	value, _ := args[key].(bool)
	return value
}
