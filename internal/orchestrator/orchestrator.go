package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/logging"
	"taskbench/internal/pipeline"
	"taskbench/internal/planner"
	"taskbench/internal/session"
	"taskbench/internal/tool"
	"taskbench/internal/validate"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Outcome carries the terminal status and the full turn history for the
// caller to render.
type Outcome struct {
	Status    Status                `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	FinalText string                `json:"final_text,omitempty"`
	Turns     []pipeline.TurnReport `json:"turns"`
	Usage     llm.Usage             `json:"usage"`
}

// Orchestrator repeats: obtain a decision from the planner, drive it through
// the pipeline, decide whether to continue. Everything below this loop is
// synchronous; suspension happens only at the planner boundary.
type Orchestrator struct {
	planner       planner.Planner
	pipe          *pipeline.Pipeline
	store         *session.Store
	validator     *validate.Validator
	log           logging.SessionLogger
	maxTurns      int
	plannerTries  int
	resourceTries int
	retryBackoff  time.Duration
	systemPrompt  string
}

type Option func(*Orchestrator)

func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

func WithPlannerRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.plannerTries = n + 1
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

func New(p planner.Planner, pipe *pipeline.Pipeline, store *session.Store, validator *validate.Validator, log logging.SessionLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:       p,
		pipe:          pipe,
		store:         store,
		validator:     validator,
		log:           log,
		maxTurns:      30,
		plannerTries:  3,
		resourceTries: 3,
		retryBackoff:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one instruction to a terminal state. Sessions are torn down
// before returning regardless of how the run ends.
func (o *Orchestrator) Run(ctx context.Context, instruction string) (Outcome, error) {
	defer func() {
		tdCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.store.Teardown(tdCtx); err != nil {
			o.log.Logger.Warn("teardown reported failures", slog.String("error", err.Error()))
		}
	}()

	schemas := make([]llm.Tool, 0, 4)
	for _, t := range o.validator.Schemas() {
		schemas = append(schemas, t.Schema())
	}

	transcript := []llm.ChatMessage{}
	if o.systemPrompt != "" {
		transcript = append(transcript, llm.ChatMessage{Role: "system", Content: o.systemPrompt})
	}
	transcript = append(transcript, llm.ChatMessage{Role: "user", Content: instruction})

	outcome := Outcome{}
	turn := 0
	nudges := 0
	for {
		// Cancellation is honored between turns, never mid-execution.
		if err := ctx.Err(); err != nil {
			outcome.Status = StatusAborted
			outcome.Reason = "canceled: " + err.Error()
			return outcome, nil
		}
		decision, err := o.nextDecision(ctx, transcript, schemas)
		if err != nil {
			outcome.Status = StatusAborted
			outcome.Reason = "planner failed: " + err.Error()
			return outcome, o.classifyPlannerErr(err)
		}
		outcome.Usage.InputTokens += decision.Usage.InputTokens
		outcome.Usage.OutputTokens += decision.Usage.OutputTokens

		transcript = append(transcript, llm.ChatMessage{
			Role:     "assistant",
			Content:  decision.Text,
			ToolUses: decision.ToolUses,
		})
		if decision.Finish {
			outcome.Status = StatusCompleted
			outcome.FinalText = decision.Text
			return outcome, nil
		}
		if len(decision.ToolUses) == 0 {
			// Not finished but nothing to execute: nudge the planner, but
			// only so many times since nudges do not consume turns.
			nudges++
			if nudges > 3 {
				outcome.Status = StatusAborted
				outcome.Reason = "planner produced no tool calls and no finish signal"
				return outcome, nil
			}
			transcript = append(transcript, llm.ChatMessage{
				Role:    "user",
				Content: "No tool call was provided. Call a tool or finish.",
			})
			continue
		}
		nudges = 0

		usage := decision.Usage
		for _, use := range decision.ToolUses {
			if turn >= o.maxTurns {
				outcome.Status = StatusAborted
				outcome.Reason = fmt.Sprintf("turn limit of %d reached", o.maxTurns)
				return outcome, nil
			}
			report := o.runOne(ctx, use, turn, usage)
			usage = llm.Usage{}
			outcome.Turns = append(outcome.Turns, report)
			transcript = append(transcript, llm.ChatMessage{
				Role:      "tool",
				Content:   renderResult(report.Result),
				ToolUseID: use.ID,
				ToolError: !report.Result.Success,
			})
			turn++
		}
	}
}

func (o *Orchestrator) runOne(ctx context.Context, use llm.ToolUse, turn int, usage llm.Usage) pipeline.TurnReport {
	call, err := tool.ParseCall(use, turn)
	if err != nil {
		stub := tool.Call{ID: use.ID, Kind: session.Kind(use.Name), TurnIndex: turn}
		return o.pipe.RejectTurn(stub, err.Error(), usage)
	}
	// The pipeline never retries; unreachable-resource failures are retried
	// here, a small bounded number of times.
	var report pipeline.TurnReport
	for attempt := 0; attempt < o.resourceTries; attempt++ {
		report, err = o.pipe.RunTurn(ctx, call, usage)
		if err != nil {
			return pipeline.TurnReport{
				Call:   call,
				Result: tool.Fail(errinfo.KindExecutionFailed, err.Error()),
			}
		}
		usage = llm.Usage{}
		if report.Result.ErrorKind != errinfo.KindResourceUnavailable {
			return report
		}
		o.log.Logger.Warn("resource unavailable, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("tool", string(call.Kind)),
			slog.String("op", call.Op))
	}
	return report
}

// nextDecision retries transient planner failures with backoff; anything
// else surfaces immediately.
func (o *Orchestrator) nextDecision(ctx context.Context, transcript []llm.ChatMessage, schemas []llm.Tool) (planner.Decision, error) {
	var lastErr error
	for attempt := 0; attempt < o.plannerTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return planner.Decision{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * o.retryBackoff):
			}
		}
		decision, err := o.planner.Next(ctx, transcript, schemas)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if !errors.Is(err, llm.ErrUnavailable) && !errors.Is(err, llm.ErrRateLimited) {
			return planner.Decision{}, err
		}
		o.log.Logger.Warn("planner retry", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return planner.Decision{}, lastErr
}

func (o *Orchestrator) classifyPlannerErr(err error) error {
	if errors.Is(err, llm.ErrUnauthorized) {
		return errinfo.FatalConfiguration("planner credentials rejected: " + err.Error())
	}
	return nil
}

func renderResult(result tool.Result) string {
	var sb strings.Builder
	if result.Success {
		if result.Output != "" {
			sb.WriteString(result.Output)
		} else {
			sb.WriteString("OK")
		}
		if result.SideEffects != "" {
			sb.WriteString("\n[" + result.SideEffects + "]")
		}
	} else {
		sb.WriteString("Error")
		if result.ErrorKind != "" {
			sb.WriteString(" (" + result.ErrorKind + ")")
		}
		if result.Reason != "" {
			sb.WriteString(": " + result.Reason)
		}
	}
	if result.Truncated {
		sb.WriteString("\n[output truncated]")
	}
	return sb.String()
}

// SnapshotContext summarizes live session state for prompt building.
func (o *Orchestrator) SnapshotContext() map[string]session.View {
	views := map[string]session.View{}
	for _, kind := range o.store.Active() {
		if view, ok := o.store.Snapshot(kind); ok {
			views[string(kind)] = view
		}
	}
	return views
}
