package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/logging"
	"taskbench/internal/session"
	"taskbench/internal/tool"
	"taskbench/internal/validate"
)

type stubTool struct {
	kind       session.Kind
	outcome    tool.Outcome
	result     tool.Result
	panicMsg   string
	executions int
}

func (s *stubTool) Kind() session.Kind { return s.kind }

func (s *stubTool) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	return s.outcome
}

func (s *stubTool) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	s.executions++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.result, nil
}

func (s *stubTool) Schema() llm.Tool {
	return llm.Tool{Name: string(s.kind)}
}

func newPipeline(t *testing.T, stub *stubTool) *Pipeline {
	t.Helper()
	store := session.NewStore(session.Config{RunID: "test", EditorRoot: t.TempDir()})
	log := logging.SessionLogger{Logger: logging.Nop()}
	return New(store, validate.New(stub), nil, log)
}

func TestRejectedCallNeverReachesExecutor(t *testing.T) {
	stub := &stubTool{kind: session.KindEditor, outcome: tool.Reject("bad path")}
	p := newPipeline(t, stub)

	report, err := p.RunTurn(context.Background(), tool.Call{Kind: session.KindEditor, Op: "view"}, llm.Usage{})
	require.NoError(t, err)
	assert.False(t, report.Result.Success)
	assert.Equal(t, errinfo.KindValidationFailed, report.Result.ErrorKind)
	assert.Equal(t, "bad path", report.Result.Reason)
	assert.Zero(t, stub.executions)
}

func TestAcceptedCallExecutesExactlyOnce(t *testing.T) {
	stub := &stubTool{
		kind:    session.KindEditor,
		outcome: tool.Accept(),
		result:  tool.OkWithEffects("done", "+1 -0 lines"),
	}
	p := newPipeline(t, stub)

	report, err := p.RunTurn(context.Background(), tool.Call{Kind: session.KindEditor, Op: "create", TurnIndex: 2}, llm.Usage{})
	require.NoError(t, err)
	assert.True(t, report.Result.Success)
	assert.Equal(t, 1, stub.executions)

	// Successful operations land in session history.
	sess, err := p.store.GetOrCreate(session.KindEditor)
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "create", sess.History[0].Op)
	assert.Equal(t, 2, sess.History[0].Turn)
}

func TestNormalizedArgumentsApplied(t *testing.T) {
	stub := &stubTool{
		kind:    session.KindEditor,
		outcome: tool.AcceptNormalized(map[string]any{"path": "/resolved/a.txt"}),
		result:  tool.Ok("ok"),
	}
	p := newPipeline(t, stub)

	call := tool.Call{Kind: session.KindEditor, Op: "view", Args: map[string]any{"path": "a.txt"}}
	report, err := p.RunTurn(context.Background(), call, llm.Usage{})
	require.NoError(t, err)
	assert.Equal(t, "/resolved/a.txt", report.Call.Args["path"])
}

func TestExecutorPanicBecomesFailedResult(t *testing.T) {
	stub := &stubTool{kind: session.KindShell, outcome: tool.Accept(), panicMsg: "boom"}
	store := session.NewStore(session.Config{RunID: "test", ShellRoot: t.TempDir()})
	p := New(store, validate.New(stub), nil, logging.SessionLogger{Logger: logging.Nop()})

	report, err := p.RunTurn(context.Background(), tool.Call{Kind: session.KindShell, Op: "exec"}, llm.Usage{})
	require.NoError(t, err)
	assert.False(t, report.Result.Success)
	assert.Equal(t, errinfo.KindExecutionFailed, report.Result.ErrorKind)
	assert.Contains(t, report.Result.Reason, "boom")
}

func TestTornDownStoreSurfacesError(t *testing.T) {
	stub := &stubTool{kind: session.KindEditor, outcome: tool.Accept(), result: tool.Ok("ok")}
	store := session.NewStore(session.Config{RunID: "test"})
	require.NoError(t, store.Teardown(context.Background()))
	p := New(store, validate.New(stub), nil, logging.SessionLogger{Logger: logging.Nop()})

	_, err := p.RunTurn(context.Background(), tool.Call{Kind: session.KindEditor, Op: "view"}, llm.Usage{})
	assert.ErrorIs(t, err, session.ErrTornDown)
}
