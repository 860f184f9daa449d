package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/logging"
	"taskbench/internal/pipeline"
	"taskbench/internal/planner"
	"taskbench/internal/recorder"
	"taskbench/internal/session"
	"taskbench/internal/tool"
	"taskbench/internal/tool/editor"
	"taskbench/internal/tool/shell"
	"taskbench/internal/validate"
)

func newHarness(t *testing.T, p planner.Planner, safeMode bool, opts ...Option) (*Orchestrator, *session.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := session.NewStore(session.Config{
		RunID:      "test",
		EditorRoot: root,
		ShellRoot:  root,
		SafeMode:   safeMode,
	})
	validator := validate.New(editor.New(), shell.New())
	log := logging.SessionLogger{Logger: logging.Nop()}
	pipe := pipeline.New(store, validator, nil, log)
	orch := New(p, pipe, store, validator, log, opts...)
	return orch, store, root
}

func toolUse(id, name string, args map[string]any) llm.ToolUse {
	raw, _ := json.Marshal(args)
	return llm.ToolUse{ID: id, Name: name, Input: raw}
}

func TestCreateFileScenario(t *testing.T) {
	p := planner.NewScriptedPlanner(
		planner.Decision{
			Text: "Creating the file.",
			ToolUses: []llm.ToolUse{
				toolUse("t1", "editor", map[string]any{"op": "create", "path": "ping.txt", "content": "pong"}),
			},
			Usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
		},
		planner.Decision{Finish: true, Text: "Created ping.txt with content pong."},
	)
	orch, store, root := newHarness(t, p, false)

	outcome, err := orch.Run(context.Background(), "create ping.txt with content pong")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Turns, 1)
	assert.True(t, outcome.Turns[0].Result.Success)
	assert.Equal(t, "create", outcome.Turns[0].Call.Op)

	raw, err := os.ReadFile(filepath.Join(root, "ping.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(raw))

	view, ok := store.Snapshot(session.KindEditor)
	require.True(t, ok)
	require.Len(t, view.History, 1)
	assert.Equal(t, "create", view.History[0].Op)
	assert.Equal(t, llm.Usage{InputTokens: 100, OutputTokens: 50}, outcome.Usage)
}

func TestSafeModeScenario(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "marker")
	p := planner.NewScriptedPlanner(
		planner.Decision{
			ToolUses: []llm.ToolUse{
				toolUse("t1", "shell", map[string]any{"op": "exec", "command": "touch " + marker + " && rm -rf " + root}),
			},
		},
		planner.Decision{Finish: true, Text: "Blocked."},
	)
	orch, _, _ := newHarness(t, p, true)

	outcome, err := orch.Run(context.Background(), "delete everything")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Turns, 1)

	turn := outcome.Turns[0]
	assert.False(t, turn.Validation.Accepted)
	assert.Contains(t, turn.Validation.Reason, "destructive command blocked in safe mode")
	assert.Equal(t, errinfo.KindValidationFailed, turn.Result.ErrorKind)
	// No process spawned: zero side effects.
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

type loopPlanner struct {
	calls int
}

func (p *loopPlanner) Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (planner.Decision, error) {
	p.calls++
	return planner.Decision{
		ToolUses: []llm.ToolUse{
			toolUse(fmt.Sprintf("t%d", p.calls), "editor", map[string]any{"op": "view", "path": "missing.txt"}),
		},
	}, nil
}

func TestTurnLimitTermination(t *testing.T) {
	p := &loopPlanner{}
	orch, _, _ := newHarness(t, p, false, WithMaxTurns(5))

	outcome, err := orch.Run(context.Background(), "never finishes")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, outcome.Status)
	assert.Contains(t, outcome.Reason, "turn limit of 5")
	assert.Len(t, outcome.Turns, 5)
}

func TestCancellationBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orch, _, _ := newHarness(t, &loopPlanner{}, false)

	outcome, err := orch.Run(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, outcome.Status)
	assert.Contains(t, outcome.Reason, "canceled")
	assert.Empty(t, outcome.Turns)
}

type failingPlanner struct {
	err error
}

func (p *failingPlanner) Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (planner.Decision, error) {
	return planner.Decision{}, p.err
}

func TestUnauthorizedPlannerIsFatal(t *testing.T) {
	orch, _, _ := newHarness(t, &failingPlanner{err: llm.ErrUnauthorized}, false)

	outcome, err := orch.Run(context.Background(), "anything")
	assert.Equal(t, StatusAborted, outcome.Status)
	var info *errinfo.ErrorInfo
	require.True(t, errors.As(err, &info))
	assert.Equal(t, errinfo.KindFatalConfiguration, info.ErrorKind)
}

type countingPlanner struct {
	failures int
	calls    int
}

func (p *countingPlanner) Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (planner.Decision, error) {
	p.calls++
	if p.calls <= p.failures {
		return planner.Decision{}, llm.ErrUnavailable
	}
	return planner.Decision{Finish: true, Text: "Done."}, nil
}

func TestTransientPlannerFailureIsRetried(t *testing.T) {
	p := &countingPlanner{failures: 1}
	orch, _, _ := newHarness(t, p, false, WithPlannerRetries(2))
	orch.retryBackoff = time.Millisecond

	outcome, err := orch.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 2, p.calls)
}

type flakyTool struct {
	failures int
	calls    int
}

func (f *flakyTool) Kind() session.Kind { return session.KindDatabase }

func (f *flakyTool) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	return tool.Accept()
}

func (f *flakyTool) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return tool.Fail(errinfo.KindResourceUnavailable, "connection refused"), nil
	}
	return tool.Ok("connected"), nil
}

func (f *flakyTool) Schema() llm.Tool {
	return llm.Tool{Name: string(session.KindDatabase)}
}

func TestResourceUnavailableRetriedByLoop(t *testing.T) {
	flaky := &flakyTool{failures: 2}
	store := session.NewStore(session.Config{RunID: "test"})
	validator := validate.New(flaky)
	log := logging.SessionLogger{Logger: logging.Nop()}
	pipe := pipeline.New(store, validator, nil, log)
	p := planner.NewScriptedPlanner(
		planner.Decision{ToolUses: []llm.ToolUse{
			toolUse("t1", "database", map[string]any{"op": "query", "statement": "SELECT 1"}),
		}},
		planner.Decision{Finish: true},
	)
	orch := New(p, pipe, store, validator, log)

	outcome, err := orch.Run(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Turns, 1)
	assert.True(t, outcome.Turns[0].Result.Success)
	assert.Equal(t, 3, flaky.calls)
}

func TestMalformedToolUseIsRecorded(t *testing.T) {
	dir := t.TempDir()
	rec, err := recorder.New(dir, "test")
	require.NoError(t, err)
	store := session.NewStore(session.Config{RunID: "test", EditorRoot: t.TempDir()})
	validator := validate.New(editor.New())
	log := logging.SessionLogger{Logger: logging.Nop()}
	pipe := pipeline.New(store, validator, rec, log)
	p := planner.NewScriptedPlanner(
		planner.Decision{ToolUses: []llm.ToolUse{
			{ID: "t1", Name: "telescope", Input: json.RawMessage(`{"op":"look"}`)},
		}},
		planner.Decision{Finish: true},
	)
	orch := New(p, pipe, store, validator, log)

	outcome, err := orch.Run(context.Background(), "use a tool that does not exist")
	require.NoError(t, err)
	require.Len(t, outcome.Turns, 1)
	assert.False(t, outcome.Turns[0].Result.Success)
	assert.Equal(t, errinfo.KindValidationFailed, outcome.Turns[0].Result.ErrorKind)
	require.NoError(t, rec.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "test.jsonl"))
	require.NoError(t, err)
	var record recorder.Record
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.False(t, record.Validation.Accepted)
	assert.Contains(t, record.Validation.Reason, "unknown tool")
	assert.Equal(t, "telescope", string(record.Call.Kind))
}

func TestTeardownRunsAfterCompletion(t *testing.T) {
	p := planner.NewScriptedPlanner(
		planner.Decision{
			ToolUses: []llm.ToolUse{
				toolUse("t1", "editor", map[string]any{"op": "create", "path": "a.txt", "content": "x"}),
			},
		},
		planner.Decision{Finish: true},
	)
	orch, store, _ := newHarness(t, p, false)

	_, err := orch.Run(context.Background(), "create a file")
	require.NoError(t, err)
	_, err = store.GetOrCreate(session.KindEditor)
	assert.ErrorIs(t, err, session.ErrTornDown)
}
