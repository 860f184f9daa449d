package planner

import (
	"context"

	"taskbench/internal/llm"
)

// Decision is one planning step: either tool uses to execute or a finish
// signal with the planner's closing text.
type Decision struct {
	Finish   bool
	Text     string
	ToolUses []llm.ToolUse
	Usage    llm.Usage
}

// Planner is the decision oracle the orchestration loop consumes. The loop
// never interprets natural language itself; it only executes what the
// planner decides, against the declared tool schemas.
type Planner interface {
	Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (Decision, error)
}
