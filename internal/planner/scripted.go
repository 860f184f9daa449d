package planner

import (
	"context"

	"taskbench/internal/llm"
)

// ScriptedPlanner replays a fixed sequence of decisions and then finishes.
// It backs mock mode and tests; no network involved.
type ScriptedPlanner struct {
	decisions []Decision
	next      int
}

func NewScriptedPlanner(decisions ...Decision) *ScriptedPlanner {
	return &ScriptedPlanner{decisions: decisions}
}

func (p *ScriptedPlanner) Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if p.next >= len(p.decisions) {
		return Decision{Finish: true, Text: "Done."}, nil
	}
	d := p.decisions[p.next]
	p.next++
	return d, nil
}
