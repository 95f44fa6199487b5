// internal/provider/gemini.go
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
)

// Gemini drives the action loop through the computer-use preview model.
// It reports coordinates on a 0-1000 grid, so every point is denormalized
// against the live viewport before execution.
type Gemini struct {
	client *genai.Client
	cfg    config.GeminiConfig
	opts   LoopOptions
	logger *zap.Logger
}

// NewGemini builds the fallback driver. The API key is required.
func NewGemini(ctx context.Context, cfg config.GeminiConfig, opts LoopOptions, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: client init: %w", err)
	}
	return &Gemini{client: client, cfg: cfg, opts: opts, logger: logger.Named("gemini")}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Run(ctx context.Context, page Page, task *automation.TaskSpec) LoopResult {
	width, height := page.Viewport()
	conv := &geminiConversation{
		client: g.client,
		logger: g.logger,
		model:  g.cfg.Model,
		width:  width,
		height: height,
		prompt: buildTaskPrompt(geminiTaskPrefix, task.Instructions, task.VerificationPrompt),
		genConfig: &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{
				ComputerUse: &genai.ComputerUse{Environment: genai.EnvironmentBrowser},
			}},
			ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
		},
	}
	return runLoop(ctx, g.logger, g.opts, page, task, conv.turn)
}

// pendingCall remembers a function call so its response can be paired up
// on the next turn. Safety decisions are auto-acknowledged, the task runs
// unattended and the instructions already scope what it may do.
type pendingCall struct {
	name        string
	requiresAck bool
}

type geminiConversation struct {
	client    *genai.Client
	logger    *zap.Logger
	model     string
	width     int
	height    int
	prompt    string
	genConfig *genai.GenerateContentConfig

	contents []*genai.Content
	pending  []pendingCall
}

func (cv *geminiConversation) turn(ctx context.Context, obs observation) (turn, error) {
	cv.contents = append(cv.contents, cv.userContent(obs))

	resp, err := cv.client.Models.GenerateContent(ctx, cv.model, cv.contents, cv.genConfig)
	if err != nil {
		return turn{}, fmt.Errorf("gemini: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		cv.pending = cv.pending[:0]
		return turn{}, nil
	}

	model := resp.Candidates[0].Content
	cv.contents = append(cv.contents, model)

	var decision turn
	cv.pending = cv.pending[:0]
	for _, part := range model.Parts {
		if part.FunctionCall != nil {
			call := part.FunctionCall
			actions, ok := mapGeminiCall(call.Name, call.Args, cv.width, cv.height)
			if !ok {
				cv.logger.Debug("Ignoring unsupported function call", zap.String("name", call.Name))
				actions = []automation.Action{{Kind: automation.KindScreenshot}}
			}
			decision.actions = append(decision.actions, actions...)
			cv.pending = append(cv.pending, pendingCall{
				name:        call.Name,
				requiresAck: callRequiresAck(call.Args),
			})
			continue
		}
		if part.Text != "" {
			if part.Thought {
				cv.logger.Debug("Model thinking", zap.String("thought", truncate(part.Text, 200)))
			} else {
				decision.text = part.Text
			}
		}
	}

	decision.done = len(decision.actions) == 0 && decision.text != ""
	return decision, nil
}

// userContent builds the next user turn: the opening prompt on the first
// turn, function responses with the fresh screenshot afterwards.
func (cv *geminiConversation) userContent(obs observation) *genai.Content {
	shot := &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: obs.screenshot}}

	if obs.first {
		return &genai.Content{Role: "user", Parts: []*genai.Part{
			{Text: cv.prompt},
			shot,
		}}
	}

	if len(cv.pending) == 0 {
		return &genai.Content{Role: "user", Parts: []*genai.Part{
			{Text: geminiVerifyTurn},
			shot,
		}}
	}

	failure := ""
	for _, entry := range obs.lastEntries {
		if entry.Err != "" {
			failure = entry.Err
		}
	}

	var parts []*genai.Part
	for i, call := range cv.pending {
		response := map[string]any{
			"success": failure == "",
			"url":     obs.url,
		}
		if failure != "" {
			response["error"] = failure
		}
		if call.requiresAck {
			response["safety_acknowledgement"] = "true"
		}
		fr := &genai.FunctionResponse{Name: call.name, Response: response}
		// The screenshot answers the last call only.
		if i == len(cv.pending)-1 {
			fr.Parts = []*genai.FunctionResponsePart{{
				InlineData: &genai.FunctionResponseBlob{MIMEType: "image/png", Data: obs.screenshot},
			}}
		}
		parts = append(parts, &genai.Part{FunctionResponse: fr})
	}
	return &genai.Content{Role: "user", Parts: parts}
}

// callRequiresAck reports whether the model attached a safety decision
// that blocks execution until it is acknowledged.
func callRequiresAck(args map[string]any) bool {
	decision, ok := args["safety_decision"].(map[string]any)
	if !ok {
		return false
	}
	kind, _ := decision["decision"].(string)
	return kind == "require_confirmation"
}

// mapGeminiCall translates a predefined browser function into normalized
// actions. Coordinates and magnitudes use the model's 0-1000 grid.
func mapGeminiCall(name string, args map[string]any, width, height int) ([]automation.Action, bool) {
	point := func(xKey, yKey string) automation.Point {
		p := automation.DenormalizePoint(intFrom(args[xKey]), intFrom(args[yKey]), width, height)
		return automation.Clamp(p, width, height)
	}

	switch name {
	case "open_web_browser":
		return []automation.Action{{Kind: automation.KindScreenshot}}, true
	case "click_at":
		return []automation.Action{{Kind: automation.KindClick, Point: point("x", "y")}}, true
	case "hover_at":
		return []automation.Action{{Kind: automation.KindMouseMove, Point: point("x", "y")}}, true
	case "type_text_at":
		text, _ := args["text"].(string)
		clear := true
		if v, ok := args["clear_before_typing"].(bool); ok {
			clear = v
		}
		enter := true
		if v, ok := args["press_enter"].(bool); ok {
			enter = v
		}
		return []automation.Action{
			{Kind: automation.KindClick, Point: point("x", "y")},
			{Kind: automation.KindTypeText, Text: text, ClearFirst: clear, PressEnter: enter},
		}, true
	case "scroll_document":
		direction, _ := args["direction"].(string)
		return []automation.Action{{Kind: automation.KindScroll, Direction: direction, Amount: 5}}, true
	case "scroll_at":
		direction, _ := args["direction"].(string)
		magnitude := intFrom(args["magnitude"])
		if magnitude <= 0 {
			magnitude = 800
		}
		dim := height
		if direction == "left" || direction == "right" {
			dim = width
		}
		amount := automation.Denormalize(magnitude, dim) / 100
		if amount < 1 {
			amount = 1
		}
		return []automation.Action{{
			Kind:      automation.KindScroll,
			Point:     point("x", "y"),
			Direction: direction,
			Amount:    amount,
		}}, true
	case "key_combination":
		keys, _ := args["keys"].(string)
		return []automation.Action{{Kind: automation.KindKeyPress, Keys: splitChord(keys)}}, true
	case "navigate":
		url, _ := args["url"].(string)
		return []automation.Action{{Kind: automation.KindNavigate, URL: url}}, true
	case "go_back":
		return []automation.Action{{Kind: automation.KindBack}}, true
	case "go_forward":
		return []automation.Action{{Kind: automation.KindForward}}, true
	case "drag_and_drop":
		return []automation.Action{{
			Kind:  automation.KindDrag,
			Point: point("x", "y"),
			End:   point("destination_x", "destination_y"),
		}}, true
	case "wait_5_seconds":
		return []automation.Action{{Kind: automation.KindWait, Duration: 5 * time.Second}}, true
	case "search":
		query, _ := args["query"].(string)
		return []automation.Action{{Kind: automation.KindSearch, Text: query}}, true
	default:
		return nil, false
	}
}
