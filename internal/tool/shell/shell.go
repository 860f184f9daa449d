package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

const (
	OpExec    = "exec"
	OpRestart = "restart"
)

const defaultMaxOutputBytes = 64 * 1024

// Shell runs commands under the session's working root. A non-zero exit
// code is a normal unsuccessful result, never a system failure.
type Shell struct {
	timeout        time.Duration
	maxOutputBytes int
}

type Option func(*Shell)

func WithTimeout(timeout time.Duration) Option {
	return func(s *Shell) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithMaxOutputBytes(limit int) Option {
	return func(s *Shell) {
		if limit > 0 {
			s.maxOutputBytes = limit
		}
	}
}

func New(opts ...Option) *Shell {
	sh := &Shell{timeout: 60 * time.Second, maxOutputBytes: defaultMaxOutputBytes}
	for _, opt := range opts {
		opt(sh)
	}
	return sh
}

func (s *Shell) Kind() session.Kind {
	return session.KindShell
}

func (s *Shell) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	switch call.Op {
	case OpRestart:
		return tool.Accept()
	case OpExec:
	default:
		return tool.Reject("unknown shell op %q", call.Op)
	}
	command := tool.StringArg(call.Args, "command")
	if command == "" {
		return tool.Reject("command is required")
	}
	if sess.SafeMode {
		if c := Classify(command); c.Destructive {
			return tool.Reject("destructive command blocked in safe mode (rule: %s)", c.Rule)
		}
	}
	return tool.Accept()
}

func (s *Shell) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	st := stateOf(sess)
	switch call.Op {
	case OpRestart:
		st.reset(sess.WorkingRoot)
		return tool.Ok("Shell session restarted."), nil
	case OpExec:
		return s.exec(ctx, call, sess, st)
	}
	return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("unknown shell op %q", call.Op)), nil
}

func (s *Shell) exec(ctx context.Context, call tool.Call, sess *session.Session, st *State) (tool.Result, error) {
	command := tool.StringArg(call.Args, "command")
	if sess.NoExec {
		return tool.OkWithEffects("in mock mode, command did not run", "none"), nil
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/bash", "-c", command)
	cmd.Dir = st.Cwd
	cmd.Env = st.Env
	// Kill the whole process group so cancellation reaches children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return tool.Fail(errinfo.KindTimeout, fmt.Sprintf("command exceeded %s", s.timeout)), nil
	}
	if runCtx.Err() == context.Canceled {
		return tool.Fail(errinfo.KindExecutionFailed, "command canceled"), nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return tool.Fail(errinfo.KindResourceUnavailable, err.Error()), nil
		}
	}
	output, truncated := s.truncate(stdout.String())
	errOutput, errTruncated := s.truncate(stderr.String())

	result := tool.Result{
		Success:     exitCode == 0,
		Output:      output,
		SideEffects: fmt.Sprintf("exit=%d", exitCode),
		Truncated:   truncated || errTruncated,
	}
	if exitCode != 0 {
		reason := strings.TrimSpace(errOutput)
		if reason == "" {
			reason = fmt.Sprintf("command exited with status %d", exitCode)
		}
		result.Reason = reason
	} else if trimmed := strings.TrimSpace(errOutput); trimmed != "" {
		result.SideEffects += "; stderr: " + trimmed
	}
	return result, nil
}

func (s *Shell) truncate(output string) (string, bool) {
	if len(output) <= s.maxOutputBytes {
		return output, false
	}
	return output[:s.maxOutputBytes] + "\n[output truncated]", true
}

func (s *Shell) Schema() llm.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{OpExec, OpRestart},
				"description": "Shell operation to perform",
			},
			"command": map[string]any{"type": "string", "description": "Bash command line to run"},
		},
		"required": []string{"op"},
	}
	raw, _ := json.Marshal(schema)
	return llm.Tool{
		Name:        string(session.KindShell),
		Description: "Run bash commands in the workspace. Output is captured and truncated beyond a size ceiling.",
		InputSchema: raw,
	}
}

// State is the shell session resource: working directory and environment,
// reset by the restart op.
type State struct {
	Cwd string
	Env []string
}

func (s *State) reset(workingRoot string) {
	s.Cwd = workingRoot
	s.Env = os.Environ()
}

func (s *State) Close(ctx context.Context) error {
	return nil
}

func (s *State) Describe() map[string]any {
	return map[string]any{"cwd": s.Cwd}
}

func stateOf(sess *session.Session) *State {
	if st, ok := sess.Resource.(*State); ok {
		return st
	}
	st := &State{}
	st.reset(sess.WorkingRoot)
	sess.Resource = st
	return st
}
