package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskbench/internal/egress"
	"taskbench/internal/llm"
)

func testClient(handler http.HandlerFunc) (*Client, func()) {
	server := httptest.NewServer(handler)
	client := &Client{baseURL: server.URL, client: server.Client()}
	return client, server.Close
}

func TestChatWithToolsParsesToolUse(t *testing.T) {
	var captured map[string]any
	client, closeFn := testClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key123" {
			t.Errorf("x-api-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "creating the file"},
				{"type": "tool_use", "id": "toolu_1", "name": "editor", "input": {"op": "create", "path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`))
	})
	defer closeFn()

	messages := []llm.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "create a.txt"},
	}
	tools := []llm.Tool{{Name: "editor", InputSchema: json.RawMessage(`{"type":"object"}`)}}
	resp, err := client.ChatWithTools(context.Background(), "key123", "test-model", 512, messages, tools)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "creating the file" {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(resp.ToolUses) != 1 || resp.ToolUses[0].Name != "editor" || resp.ToolUses[0].ID != "toolu_1" {
		t.Fatalf("tool uses = %+v", resp.ToolUses)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 20 {
		t.Fatalf("usage = %+v", resp.Usage)
	}

	if captured["system"] != "be brief" {
		t.Fatalf("system = %v", captured["system"])
	}
	if _, ok := captured["tools"]; !ok {
		t.Fatal("tools missing from request payload")
	}
}

func TestToolResultsBecomeUserMessages(t *testing.T) {
	messages := []llm.ChatMessage{
		{Role: "assistant", Content: "running", ToolUses: []llm.ToolUse{{ID: "toolu_1", Name: "shell"}}},
		{Role: "tool", Content: "exit=1", ToolUseID: "toolu_1", ToolError: true},
	}
	apiMessages, system := toAPIMessages(messages)
	if system != "" {
		t.Fatalf("system = %q", system)
	}
	if len(apiMessages) != 2 {
		t.Fatalf("messages = %+v", apiMessages)
	}
	result := apiMessages[1]
	if result.Role != "user" {
		t.Fatalf("tool result role = %q", result.Role)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "tool_result" {
		t.Fatalf("tool result content = %+v", result.Content)
	}
	if !result.Content[0].IsError || result.Content[0].ToolUseID != "toolu_1" {
		t.Fatalf("tool result = %+v", result.Content[0])
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized},
		{http.StatusForbidden, llm.ErrUnauthorized},
		{http.StatusTooManyRequests, llm.ErrRateLimited},
		{http.StatusInternalServerError, llm.ErrUnavailable},
		{http.StatusBadGateway, llm.ErrUnavailable},
	}
	for _, tc := range cases {
		status := tc.status
		client, closeFn := testClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := client.ChatWithTools(context.Background(), "key", "model", 100, []llm.ChatMessage{{Role: "user", Content: "hi"}}, nil)
		closeFn()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestEgressAllowlistBlocksUnknownHost(t *testing.T) {
	client := NewClient()
	client.baseURL = "https://evil.example"
	_, err := client.ChatWithTools(context.Background(), "key", "model", 100, []llm.ChatMessage{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, egress.ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
}
