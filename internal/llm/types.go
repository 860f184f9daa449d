package llm

import "encoding/json"

// Message is a simple chat message without tool calls.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a callable tool offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ChatMessage can carry tool uses (assistant) or a tool result (user).
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content,omitempty"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
	ToolUseID string    `json:"tool_use_id,omitempty"`
	ToolError bool      `json:"-"`
}

// Usage is the token accounting for one model response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the model's reply including any tool uses.
type ChatResponse struct {
	Content    string    `json:"content"`
	ToolUses   []ToolUse `json:"tool_uses,omitempty"`
	StopReason string    `json:"stop_reason"`
	Usage      Usage     `json:"usage"`
}
