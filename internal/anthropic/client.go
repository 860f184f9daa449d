package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskbench/internal/egress"
	"taskbench/internal/llm"
)

const defaultBaseURL = "https://api.anthropic.com"
const defaultVersion = "2023-06-01"

// Client implements the Anthropic Messages API (tool-use subset).
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client:  egress.Client(120*time.Second, "api.anthropic.com"),
	}
}

func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", defaultVersion)
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, egress.ErrBlocked) {
			return egress.ErrBlocked
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return llm.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return llm.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("validation failed: %s", resp.Status)
	}
	return nil
}

// ChatWithTools sends the conversation plus tool definitions and returns the
// model's text, tool uses, stop reason, and token usage.
func (c *Client) ChatWithTools(ctx context.Context, apiKey, model string, maxTokens int, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	apiMessages, systemPrompt := toAPIMessages(messages)
	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   apiMessages,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	if len(tools) > 0 {
		payload["tools"] = toAPITools(tools)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	respBody, err := c.post(ctx, apiKey, body)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	var response apiResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return llm.ChatResponse{}, err
	}
	text, uses := extractContent(response.Content)
	if text == "" && len(uses) == 0 {
		return llm.ChatResponse{}, errors.New("anthropic empty response")
	}
	stopReason := response.StopReason
	if stopReason == "" {
		if len(uses) > 0 {
			stopReason = "tool_use"
		} else {
			stopReason = "end_turn"
		}
	}
	return llm.ChatResponse{
		Content:    text,
		ToolUses:   uses,
		StopReason: stopReason,
		Usage: llm.Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}, nil
}

func (c *Client) post(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", defaultVersion)
	req.Header.Set("content-type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, egress.ErrBlocked) {
			return nil, egress.ErrBlocked
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, llm.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, llm.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic error: %s - %s", resp.Status, string(errorBody))
	}
	return io.ReadAll(resp.Body)
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiResponse struct {
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

func toAPIMessages(chat []llm.ChatMessage) ([]apiMessage, string) {
	var messages []apiMessage
	systemParts := make([]string, 0)
	for _, msg := range chat {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case "system":
			text := strings.TrimSpace(msg.Content)
			if text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			messages = append(messages, apiMessage{
				Role: "user",
				Content: []apiContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolUseID,
					Content:   msg.Content,
					IsError:   msg.ToolError,
				}},
			})
		default:
			content := []apiContent{}
			if msg.Content != "" {
				content = append(content, apiContent{Type: "text", Text: msg.Content})
			}
			for _, use := range msg.ToolUses {
				input := use.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				content = append(content, apiContent{
					Type:  "tool_use",
					ID:    use.ID,
					Name:  use.Name,
					Input: input,
				})
			}
			messages = append(messages, apiMessage{Role: role, Content: content})
		}
	}
	return messages, strings.Join(systemParts, "\n\n")
}

func toAPITools(tools []llm.Tool) []apiTool {
	result := make([]apiTool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, apiTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return result
}

func extractContent(contents []apiContent) (string, []llm.ToolUse) {
	var buf bytes.Buffer
	var uses []llm.ToolUse
	for _, item := range contents {
		switch item.Type {
		case "text":
			buf.WriteString(item.Text)
		case "tool_use":
			input := item.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			uses = append(uses, llm.ToolUse{ID: item.ID, Name: item.Name, Input: input})
		}
	}
	return buf.String(), uses
}
