// internal/provider/claude_test.go
package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
)

func testClaudeConfig(endpoint string) config.ClaudeConfig {
	return config.ClaudeConfig{
		APIKey:     "test-key",
		Model:      "claude-opus-4-5",
		MaxTokens:  1024,
		APITimeout: 5 * time.Second,
		Endpoint:   endpoint,
	}
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	_, err := newAnthropicClient(config.ClaudeConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestCreateMessageSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, anthropicComputerBeta, r.Header.Get("anthropic-beta"))

		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-opus-4-5", req.Model)
		require.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"role": "assistant",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Clicking the submit button."},
				{"type": "tool_use", "id": "toolu_01", "name": "computer",
				 "input": {"action": "left_click", "coordinate": [640, 400]}}
			],
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(testClaudeConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	defer client.httpClient.CloseIdleConnections()

	resp, err := client.createMessage(context.Background(), claudeRequest{
		Model:     "claude-opus-4-5",
		MaxTokens: 1024,
		Messages:  []claudeMessage{{Role: "user", Content: []claudeBlock{{Type: "text", Text: "go"}}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "toolu_01", resp.Content[1].ID)
	assert.Equal(t, "left_click", resp.Content[1].Input["action"])
}

func TestCreateMessageRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": "msg_02", "role": "assistant", "stop_reason": "end_turn", "content": []}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(testClaudeConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	defer client.httpClient.CloseIdleConnections()

	resp, err := client.createMessage(context.Background(), claudeRequest{Messages: []claudeMessage{}})
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateMessageAuthErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error"}}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(testClaudeConfig(server.URL), zap.NewNop())
	require.NoError(t, err)
	defer client.httpClient.CloseIdleConnections()

	_, err = client.createMessage(context.Background(), claudeRequest{Messages: []claudeMessage{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load(), "auth errors must not be retried")
}

func TestMapClaudeAction(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  automation.Action
		ok    bool
	}{
		{
			name:  "left click",
			input: map[string]any{"action": "left_click", "coordinate": []any{float64(100), float64(250)}},
			want:  automation.Action{Kind: automation.KindClick, Point: automation.Point{X: 100, Y: 250}},
			ok:    true,
		},
		{
			name:  "double click",
			input: map[string]any{"action": "double_click", "coordinate": []any{float64(5), float64(6)}},
			want:  automation.Action{Kind: automation.KindDoubleClick, Point: automation.Point{X: 5, Y: 6}},
			ok:    true,
		},
		{
			name:  "type",
			input: map[string]any{"action": "type", "text": "hello world"},
			want:  automation.Action{Kind: automation.KindTypeText, Text: "hello world"},
			ok:    true,
		},
		{
			name:  "key chord",
			input: map[string]any{"action": "key", "text": "ctrl+shift+a"},
			want:  automation.Action{Kind: automation.KindKeyPress, Keys: []string{"ctrl", "shift", "a"}},
			ok:    true,
		},
		{
			name: "drag",
			input: map[string]any{
				"action":           "left_click_drag",
				"start_coordinate": []any{float64(10), float64(20)},
				"coordinate":       []any{float64(30), float64(40)},
			},
			want: automation.Action{
				Kind:  automation.KindDrag,
				Point: automation.Point{X: 10, Y: 20},
				End:   automation.Point{X: 30, Y: 40},
			},
			ok: true,
		},
		{
			name: "scroll",
			input: map[string]any{
				"action":           "scroll",
				"coordinate":       []any{float64(400), float64(300)},
				"scroll_direction": "down",
				"scroll_amount":    float64(3),
			},
			want: automation.Action{
				Kind:      automation.KindScroll,
				Point:     automation.Point{X: 400, Y: 300},
				Direction: "down",
				Amount:    3,
			},
			ok: true,
		},
		{
			name:  "wait seconds",
			input: map[string]any{"action": "wait", "duration": float64(2)},
			want:  automation.Action{Kind: automation.KindWait, Duration: 2 * time.Second},
			ok:    true,
		},
		{
			name:  "screenshot",
			input: map[string]any{"action": "screenshot"},
			want:  automation.Action{Kind: automation.KindScreenshot},
			ok:    true,
		},
		{
			name:  "zoom maps to screenshot",
			input: map[string]any{"action": "zoom"},
			want:  automation.Action{Kind: automation.KindScreenshot},
			ok:    true,
		},
		{
			name:  "unknown action",
			input: map[string]any{"action": "teleport"},
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapClaudeAction(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClaudeConversationPairsToolResults(t *testing.T) {
	cv := &claudeConversation{logger: zap.NewNop(), pendingIDs: []string{"toolu_a", "toolu_b"}}

	msg := cv.userMessage(observation{
		screenshot: []byte("png"),
		url:        "https://example.com/form",
		lastEntries: []automation.LogEntry{
			{Seq: 1, Kind: "click"},
			{Seq: 2, Kind: "type_text", Err: "node detached"},
		},
	})

	require.Equal(t, "user", msg.Role)
	require.Len(t, msg.Content, 2)

	first := msg.Content[0]
	assert.Equal(t, "tool_result", first.Type)
	assert.Equal(t, "toolu_a", first.ToolUseID)
	assert.False(t, first.IsError)

	second := msg.Content[1]
	assert.Equal(t, "toolu_b", second.ToolUseID)
	assert.True(t, second.IsError)
	assert.Contains(t, second.Content[0].Text, "node detached")

	// Only the last result carries the screenshot.
	assert.Len(t, first.Content, 1)
	require.Len(t, second.Content, 2)
	assert.Equal(t, "image", second.Content[1].Type)
	assert.Equal(t, "image/png", second.Content[1].Source.MediaType)
}

func TestClaudeConversationFirstTurn(t *testing.T) {
	cv := &claudeConversation{logger: zap.NewNop(), prompt: "Apply to the project."}

	msg := cv.userMessage(observation{screenshot: []byte("png"), first: true})

	require.Len(t, msg.Content, 2)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Contains(t, msg.Content[0].Text, "Apply to the project.")
	assert.Equal(t, "image", msg.Content[1].Type)
}

func TestSplitChord(t *testing.T) {
	assert.Equal(t, []string{"ctrl", "a"}, splitChord("ctrl+a"))
	assert.Equal(t, []string{"Return"}, splitChord("Return"))
	assert.Nil(t, splitChord(""))
}
