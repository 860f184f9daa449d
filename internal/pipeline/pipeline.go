package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/logging"
	"taskbench/internal/recorder"
	"taskbench/internal/session"
	"taskbench/internal/tool"
	"taskbench/internal/validate"
)

// TurnReport is what one pipeline pass produces: the call, the validation
// verdict, the result, and timing. It feeds both the recorder and the
// next-turn context handed back to the planner.
type TurnReport struct {
	Call       tool.Call     `json:"call"`
	Validation tool.Outcome  `json:"validation"`
	Result     tool.Result   `json:"result"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Pipeline drives one tool-call decision through validate, execute, record.
// A call that fails validation never reaches an executor; an executor is
// invoked at most once per call.
type Pipeline struct {
	store     *session.Store
	validator *validate.Validator
	recorder  *recorder.Recorder
	log       logging.SessionLogger
}

func New(store *session.Store, validator *validate.Validator, rec *recorder.Recorder, log logging.SessionLogger) *Pipeline {
	return &Pipeline{store: store, validator: validator, recorder: rec, log: log}
}

// RunTurn executes one decision end to end. Errors from executors are folded
// into the Result; the error return is reserved for pipeline-level failures
// such as a torn-down session store.
func (p *Pipeline) RunTurn(ctx context.Context, call tool.Call, usage llm.Usage) (TurnReport, error) {
	start := time.Now()
	sess, err := p.store.GetOrCreate(call.Kind)
	if err != nil {
		return TurnReport{}, err
	}

	outcome := p.validator.Validate(call, sess)
	p.logAttr("validated", call,
		slog.Bool("accepted", outcome.Accepted),
		slog.String("reason", outcome.Reason),
		slog.Any("args", logging.RedactArgs(call.Args)))
	if !outcome.Accepted {
		report := TurnReport{
			Call:       call,
			Validation: outcome,
			Result:     tool.Fail(errinfo.KindValidationFailed, outcome.Reason),
			Elapsed:    time.Since(start),
		}
		p.recorder.Record(call, outcome, report.Result, report.Elapsed, usage)
		return report, nil
	}
	if len(outcome.Normalized) > 0 {
		if call.Args == nil {
			call.Args = make(map[string]any, len(outcome.Normalized))
		}
		for k, v := range outcome.Normalized {
			call.Args[k] = v
		}
	}

	t, ok := p.validator.Tool(call.Kind)
	if !ok {
		return TurnReport{}, fmt.Errorf("no executor for kind %q", call.Kind)
	}
	result, err := p.execute(ctx, t, call, sess)
	if err != nil {
		result = tool.Fail(errinfo.KindExecutionFailed, err.Error())
	}
	if result.Success {
		sess.Record(call.TurnIndex, call.Op, result.SideEffects)
	}
	report := TurnReport{Call: call, Validation: outcome, Result: result, Elapsed: time.Since(start)}
	p.logAttr("executed", call,
		slog.Bool("success", result.Success),
		slog.String("error_kind", result.ErrorKind),
		slog.Duration("elapsed", report.Elapsed))
	p.recorder.Record(call, outcome, result, report.Elapsed, usage)
	return report, nil
}

// RejectTurn records a decision that never became a well-formed call, so
// malformed planner output still lands in the run log. No session is
// touched and no executor runs.
func (p *Pipeline) RejectTurn(call tool.Call, reason string, usage llm.Usage) TurnReport {
	outcome := tool.Reject("%s", reason)
	report := TurnReport{
		Call:       call,
		Validation: outcome,
		Result:     tool.Fail(errinfo.KindValidationFailed, reason),
	}
	p.logAttr("rejected", call, slog.String("reason", reason))
	p.recorder.Record(call, outcome, report.Result, 0, usage)
	return report
}

// execute invokes the tool exactly once, converting a panic into a failed
// result so one bad call cannot take down the run.
func (p *Pipeline) execute(ctx context.Context, t tool.Tool, call tool.Call, sess *session.Session) (result tool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = tool.Fail(errinfo.KindExecutionFailed, fmt.Sprintf("executor panicked: %v", r))
			err = nil
		}
	}()
	return t.Execute(ctx, call, sess)
}

func (p *Pipeline) logAttr(msg string, call tool.Call, attrs ...any) {
	if !p.log.Enabled {
		return
	}
	base := []any{
		slog.Int("turn", call.TurnIndex),
		slog.String("tool", string(call.Kind)),
		slog.String("op", call.Op),
	}
	p.log.Logger.Info(msg, append(base, attrs...)...)
}
