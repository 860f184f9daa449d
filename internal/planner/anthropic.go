package planner

import (
	"context"

	"taskbench/internal/anthropic"
	"taskbench/internal/llm"
)

// AnthropicPlanner drives planning through the Anthropic Messages API.
type AnthropicPlanner struct {
	client    *anthropic.Client
	apiKey    string
	model     string
	maxTokens int
}

func NewAnthropicPlanner(client *anthropic.Client, apiKey, model string, maxTokens int) *AnthropicPlanner {
	return &AnthropicPlanner{client: client, apiKey: apiKey, model: model, maxTokens: maxTokens}
}

func (p *AnthropicPlanner) Next(ctx context.Context, transcript []llm.ChatMessage, tools []llm.Tool) (Decision, error) {
	resp, err := p.client.ChatWithTools(ctx, p.apiKey, p.model, p.maxTokens, transcript, tools)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{
		Text:     resp.Content,
		ToolUses: resp.ToolUses,
		Usage:    resp.Usage,
	}
	// end_turn with no pending tool uses is the finish signal.
	if len(resp.ToolUses) == 0 && resp.StopReason != "tool_use" {
		decision.Finish = true
	}
	return decision, nil
}
