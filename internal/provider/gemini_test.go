// internal/provider/gemini_test.go
package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpilot/formpilot-cli/internal/automation"
)

const (
	testWidth  = 1280
	testHeight = 800
)

func TestMapGeminiCallDenormalizesCoordinates(t *testing.T) {
	actions, ok := mapGeminiCall("click_at", map[string]any{"x": float64(500), "y": float64(500)}, testWidth, testHeight)
	require.True(t, ok)
	require.Len(t, actions, 1)
	// 500/1000 of 1280 is 640, of 800 is 400.
	assert.Equal(t, automation.Point{X: 640, Y: 400}, actions[0].Point)
	assert.Equal(t, automation.KindClick, actions[0].Kind)
}

func TestMapGeminiCallTypeTextAt(t *testing.T) {
	actions, ok := mapGeminiCall("type_text_at", map[string]any{
		"x": float64(250), "y": float64(750),
		"text":        "hello",
		"press_enter": false,
	}, testWidth, testHeight)
	require.True(t, ok)
	require.Len(t, actions, 2)

	assert.Equal(t, automation.KindClick, actions[0].Kind)
	assert.Equal(t, automation.Point{X: 320, Y: 600}, actions[0].Point)

	assert.Equal(t, automation.KindTypeText, actions[1].Kind)
	assert.Equal(t, "hello", actions[1].Text)
	assert.True(t, actions[1].ClearFirst, "clearing defaults on when unspecified")
	assert.False(t, actions[1].PressEnter)
}

func TestMapGeminiCallTable(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		args map[string]any
		want automation.Action
		ok   bool
	}{
		{
			name: "hover",
			fn:   "hover_at",
			args: map[string]any{"x": float64(0), "y": float64(0)},
			want: automation.Action{Kind: automation.KindMouseMove, Point: automation.Point{X: 0, Y: 0}},
			ok:   true,
		},
		{
			name: "scroll document",
			fn:   "scroll_document",
			args: map[string]any{"direction": "down"},
			want: automation.Action{Kind: automation.KindScroll, Direction: "down", Amount: 5},
			ok:   true,
		},
		{
			name: "key combination",
			fn:   "key_combination",
			args: map[string]any{"keys": "ctrl+a"},
			want: automation.Action{Kind: automation.KindKeyPress, Keys: []string{"ctrl", "a"}},
			ok:   true,
		},
		{
			name: "navigate",
			fn:   "navigate",
			args: map[string]any{"url": "https://example.com"},
			want: automation.Action{Kind: automation.KindNavigate, URL: "https://example.com"},
			ok:   true,
		},
		{
			name: "go back",
			fn:   "go_back",
			args: map[string]any{},
			want: automation.Action{Kind: automation.KindBack},
			ok:   true,
		},
		{
			name: "wait",
			fn:   "wait_5_seconds",
			args: map[string]any{},
			want: automation.Action{Kind: automation.KindWait, Duration: 5 * time.Second},
			ok:   true,
		},
		{
			name: "search",
			fn:   "search",
			args: map[string]any{"query": "consulting network"},
			want: automation.Action{Kind: automation.KindSearch, Text: "consulting network"},
			ok:   true,
		},
		{
			name: "open web browser degrades to observation",
			fn:   "open_web_browser",
			args: map[string]any{},
			want: automation.Action{Kind: automation.KindScreenshot},
			ok:   true,
		},
		{
			name: "unknown function",
			fn:   "summon_cursor",
			args: map[string]any{},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, ok := mapGeminiCall(tt.fn, tt.args, testWidth, testHeight)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Len(t, actions, 1)
				assert.Equal(t, tt.want, actions[0])
			}
		})
	}
}

func TestMapGeminiCallDrag(t *testing.T) {
	actions, ok := mapGeminiCall("drag_and_drop", map[string]any{
		"x": float64(100), "y": float64(100),
		"destination_x": float64(900), "destination_y": float64(900),
	}, testWidth, testHeight)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, automation.Point{X: 128, Y: 80}, actions[0].Point)
	assert.Equal(t, automation.Point{X: 1152, Y: 720}, actions[0].End)
}

func TestMapGeminiCallScrollAtMagnitude(t *testing.T) {
	actions, ok := mapGeminiCall("scroll_at", map[string]any{
		"x": float64(500), "y": float64(500),
		"direction": "down",
		"magnitude": float64(500),
	}, testWidth, testHeight)
	require.True(t, ok)
	require.Len(t, actions, 1)
	// 500/1000 of the 800px viewport is 400px, or 4 wheel units.
	assert.Equal(t, 4, actions[0].Amount)
	assert.Equal(t, "down", actions[0].Direction)
}

func TestCallRequiresAck(t *testing.T) {
	assert.False(t, callRequiresAck(map[string]any{"x": float64(1)}))
	assert.False(t, callRequiresAck(map[string]any{
		"safety_decision": map[string]any{"decision": "allowed"},
	}))
	assert.True(t, callRequiresAck(map[string]any{
		"safety_decision": map[string]any{"decision": "require_confirmation", "explanation": "sensitive form"},
	}))
}

func TestGeminiConversationFunctionResponses(t *testing.T) {
	cv := &geminiConversation{
		pending: []pendingCall{
			{name: "click_at"},
			{name: "type_text_at", requiresAck: true},
		},
	}

	content := cv.userContent(observation{
		screenshot: []byte("png"),
		url:        "https://example.com/form",
		lastEntries: []automation.LogEntry{
			{Seq: 1, Kind: "click"},
			{Seq: 2, Kind: "type_text", Err: "node detached"},
		},
	})

	require.Equal(t, "user", content.Role)
	require.Len(t, content.Parts, 2)

	first := content.Parts[0].FunctionResponse
	require.NotNil(t, first)
	assert.Equal(t, "click_at", first.Name)
	assert.Equal(t, false, first.Response["success"])
	assert.Equal(t, "node detached", first.Response["error"])
	assert.Empty(t, first.Parts, "screenshot rides on the last response only")

	second := content.Parts[1].FunctionResponse
	require.NotNil(t, second)
	assert.Equal(t, "true", second.Response["safety_acknowledgement"])
	require.Len(t, second.Parts, 1)
	assert.Equal(t, "image/png", second.Parts[0].InlineData.MIMEType)
}

func TestGeminiConversationVerifyTurnWithoutPendingCalls(t *testing.T) {
	cv := &geminiConversation{}
	content := cv.userContent(observation{screenshot: []byte("png"), url: "https://example.com"})

	require.Len(t, content.Parts, 2)
	assert.Contains(t, content.Parts[0].Text, "verify")
}
