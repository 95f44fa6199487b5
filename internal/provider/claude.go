// internal/provider/claude.go
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
)

// Claude drives the action loop through the Anthropic computer-use tool.
// Coordinates arrive in viewport pixels, no denormalization needed.
type Claude struct {
	client *anthropicClient
	cfg    config.ClaudeConfig
	opts   LoopOptions
	logger *zap.Logger
}

// NewClaude builds the primary driver. The API key is required.
func NewClaude(cfg config.ClaudeConfig, opts LoopOptions, logger *zap.Logger) (*Claude, error) {
	log := logger.Named("claude")
	client, err := newAnthropicClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Claude{client: client, cfg: cfg, opts: opts, logger: log}, nil
}

func (c *Claude) Name() string { return "claude" }

// Run executes one full action loop with a fresh conversation.
func (c *Claude) Run(ctx context.Context, page Page, task *automation.TaskSpec) LoopResult {
	width, height := page.Viewport()
	conv := &claudeConversation{
		client: c.client,
		logger: c.logger,
		tools: []claudeTool{{
			Type:            "computer_20250124",
			Name:            "computer",
			DisplayWidthPx:  width,
			DisplayHeightPx: height,
		}},
		model:          c.cfg.Model,
		maxTokens:      c.cfg.MaxTokens,
		thinkingBudget: c.cfg.ThinkingBudget,
		prompt:         buildTaskPrompt(claudeTaskPrefix, task.Instructions, task.VerificationPrompt),
	}
	return runLoop(ctx, c.logger, c.opts, page, task, conv.turn)
}

// claudeConversation carries the message history across turns. Tool results
// must answer the tool_use IDs of the previous assistant message in order.
type claudeConversation struct {
	client *anthropicClient
	logger *zap.Logger

	tools          []claudeTool
	model          string
	maxTokens      int
	thinkingBudget int
	prompt         string

	messages   []claudeMessage
	pendingIDs []string
}

func (cv *claudeConversation) turn(ctx context.Context, obs observation) (turn, error) {
	cv.messages = append(cv.messages, cv.userMessage(obs))

	req := claudeRequest{
		Model:     cv.model,
		MaxTokens: cv.maxTokens,
		Tools:     cv.tools,
		Messages:  cv.messages,
	}
	if cv.thinkingBudget > 0 {
		req.Thinking = &claudeThinking{Type: "enabled", BudgetTokens: cv.thinkingBudget}
	}

	resp, err := cv.client.createMessage(ctx, req)
	if err != nil {
		return turn{}, err
	}

	// The assistant message goes back verbatim, thinking blocks included,
	// or the API rejects the continuation.
	cv.messages = append(cv.messages, claudeMessage{Role: "assistant", Content: resp.Content})

	var decision turn
	cv.pendingIDs = cv.pendingIDs[:0]
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			action, ok := mapClaudeAction(block.Input)
			if !ok {
				cv.logger.Debug("Ignoring unsupported tool action",
					zap.Any("input", map[string]any{"action": block.Input["action"]}))
				action = automation.Action{Kind: automation.KindScreenshot}
			}
			decision.actions = append(decision.actions, action)
			cv.pendingIDs = append(cv.pendingIDs, block.ID)
		case "text":
			decision.text = block.Text
			cv.logger.Debug("Model commentary", zap.String("text", truncate(block.Text, 200)))
		case "thinking":
			cv.logger.Debug("Model thinking", zap.String("thought", truncate(block.Thinking, 200)))
		}
	}

	decision.done = resp.StopReason == "end_turn" && len(decision.actions) == 0
	return decision, nil
}

// userMessage builds the next user turn: the opening prompt on the first
// turn, tool results answering pending tool calls afterwards. The fresh
// screenshot always rides along.
func (cv *claudeConversation) userMessage(obs observation) claudeMessage {
	image := claudeBlock{
		Type: "image",
		Source: &claudeImageSource{
			Type:      "base64",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(obs.screenshot),
		},
	}

	if obs.first {
		return claudeMessage{Role: "user", Content: []claudeBlock{
			{Type: "text", Text: cv.prompt},
			image,
		}}
	}

	if len(cv.pendingIDs) > 0 {
		var blocks []claudeBlock
		for i, id := range cv.pendingIDs {
			result := claudeBlock{Type: "tool_result", ToolUseID: id}
			status := "ok"
			if i < len(obs.lastEntries) {
				entry := obs.lastEntries[i]
				if entry.Err != "" {
					result.IsError = true
					status = entry.Err
				}
			}
			content := []claudeBlock{{
				Type: "text",
				Text: fmt.Sprintf("result: %s\ncurrent url: %s", status, obs.url),
			}}
			// The screenshot answers the last call only.
			if i == len(cv.pendingIDs)-1 {
				content = append(content, image)
			}
			result.Content = content
			blocks = append(blocks, result)
		}
		return claudeMessage{Role: "user", Content: blocks}
	}

	return claudeMessage{Role: "user", Content: []claudeBlock{
		{Type: "text", Text: "Continue with the task. Current page shown below."},
		image,
	}}
}

// mapClaudeAction translates a computer tool invocation into a normalized
// action. Returns false for inputs with no browser equivalent.
func mapClaudeAction(input map[string]any) (automation.Action, bool) {
	name, _ := input["action"].(string)

	switch name {
	case "screenshot", "zoom", "cursor_position":
		return automation.Action{Kind: automation.KindScreenshot}, true
	case "left_click":
		return automation.Action{Kind: automation.KindClick, Point: coordinateFrom(input, "coordinate")}, true
	case "double_click":
		return automation.Action{Kind: automation.KindDoubleClick, Point: coordinateFrom(input, "coordinate")}, true
	case "triple_click":
		return automation.Action{Kind: automation.KindTripleClick, Point: coordinateFrom(input, "coordinate")}, true
	case "right_click":
		return automation.Action{Kind: automation.KindRightClick, Point: coordinateFrom(input, "coordinate")}, true
	case "middle_click":
		return automation.Action{Kind: automation.KindMiddleClick, Point: coordinateFrom(input, "coordinate")}, true
	case "mouse_move":
		return automation.Action{Kind: automation.KindMouseMove, Point: coordinateFrom(input, "coordinate")}, true
	case "left_mouse_down":
		return automation.Action{Kind: automation.KindMouseDown, Point: coordinateFrom(input, "coordinate")}, true
	case "left_mouse_up":
		return automation.Action{Kind: automation.KindMouseUp, Point: coordinateFrom(input, "coordinate")}, true
	case "left_click_drag":
		return automation.Action{
			Kind:  automation.KindDrag,
			Point: coordinateFrom(input, "start_coordinate"),
			End:   coordinateFrom(input, "coordinate"),
		}, true
	case "type":
		text, _ := input["text"].(string)
		return automation.Action{Kind: automation.KindTypeText, Text: text}, true
	case "key":
		text, _ := input["text"].(string)
		return automation.Action{Kind: automation.KindKeyPress, Keys: splitChord(text)}, true
	case "hold_key":
		text, _ := input["text"].(string)
		return automation.Action{
			Kind:     automation.KindHoldKey,
			Keys:     splitChord(text),
			Duration: secondsFrom(input, "duration"),
		}, true
	case "scroll":
		return automation.Action{
			Kind:      automation.KindScroll,
			Point:     coordinateFrom(input, "coordinate"),
			Direction: stringFrom(input, "scroll_direction"),
			Amount:    intFrom(input["scroll_amount"]),
		}, true
	case "wait":
		return automation.Action{Kind: automation.KindWait, Duration: secondsFrom(input, "duration")}, true
	default:
		return automation.Action{}, false
	}
}

// splitChord turns "ctrl+shift+a" into its key names.
func splitChord(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "+")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func coordinateFrom(input map[string]any, key string) automation.Point {
	coords, ok := input[key].([]any)
	if !ok || len(coords) < 2 {
		return automation.Point{}
	}
	return automation.Point{X: intFrom(coords[0]), Y: intFrom(coords[1])}
}

func stringFrom(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func secondsFrom(input map[string]any, key string) time.Duration {
	return time.Duration(float64(time.Second) * floatFrom(input[key]))
}

func intFrom(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}

func floatFrom(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
