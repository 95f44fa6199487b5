// internal/automation/executor.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// ErrUnsupportedAction is returned for action kinds the executor cannot
// realize. The loop treats it as a failed turn, not a crash.
var ErrUnsupportedAction = errors.New("automation: unsupported action")

// Runner abstracts the browser session the executor drives. Production use
// passes *browser.Session; tests pass a fake.
type Runner interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	Evaluate(ctx context.Context, expr string, out any) error
	Location(ctx context.Context) (string, string, error)
	Viewport() (int, int)
}

// keyNames translates model key names to CDP key identifiers. Models emit a
// mix of X11-style and informal names.
var keyNames = map[string]string{
	"return":    kb.Enter,
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"backspace": kb.Backspace,
	"back_space": kb.Backspace,
	"delete":    kb.Delete,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"arrowup":   kb.ArrowUp,
	"arrowdown": kb.ArrowDown,
	"arrowleft": kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"page_down": kb.PageDown,
	"pagedown":  kb.PageDown,
	"page_up":   kb.PageUp,
	"pageup":    kb.PageUp,
	"home":      kb.Home,
	"end":       kb.End,
	"space":     " ",
}

// modifierNames translates modifier key names to CDP modifier bits.
var modifierNames = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"shift":   input.ModifierShift,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
	"super":   input.ModifierMeta,
	"win":     input.ModifierMeta,
}

const scrollPixelsPerUnit = 100

// Executor realizes normalized actions against a live page. It is stateful:
// it tracks consecutive same-spot clicks to fall back to a synthetic DOM
// click when raw mouse events bounce off custom widgets.
type Executor struct {
	runner Runner
	logger *zap.Logger
	delay  time.Duration

	lastClick   Point
	clickStreak int
	lastURL     string
	lastTitle   string
}

// NewExecutor builds an executor over the given runner. delay is the settle
// pause after each action before the page state is sampled.
func NewExecutor(runner Runner, delay time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		runner: runner,
		logger: logger.Named("executor"),
		delay:  delay,
	}
}

// Perform executes one action and returns its trace entry. The entry always
// carries the post-action URL and title when they could be sampled; Err is
// mirrored into the returned error.
func (e *Executor) Perform(ctx context.Context, seq int, a Action) (LogEntry, error) {
	entry := LogEntry{
		Seq:    seq,
		Kind:   a.Kind,
		Detail: a.String(),
		At:     time.Now().UTC(),
	}

	err := e.dispatch(ctx, a)
	if err != nil {
		entry.Err = err.Error()
	}

	e.settle(ctx)
	if url, title, locErr := e.runner.Location(ctx); locErr == nil {
		entry.PageURL = url
		entry.PageTitle = title
	}

	e.logger.Debug("Executed action",
		zap.String("action", entry.Detail),
		zap.String("url", entry.PageURL),
		zap.Error(err),
	)
	return entry, err
}

func (e *Executor) dispatch(ctx context.Context, a Action) error {
	w, h := e.runner.Viewport()

	switch a.Kind {
	case KindClick:
		return e.click(ctx, Clamp(a.Point, w, h), "left", 1)
	case KindDoubleClick:
		return e.click(ctx, Clamp(a.Point, w, h), "left", 2)
	case KindTripleClick:
		return e.click(ctx, Clamp(a.Point, w, h), "left", 3)
	case KindRightClick:
		return e.click(ctx, Clamp(a.Point, w, h), "right", 1)
	case KindMiddleClick:
		return e.click(ctx, Clamp(a.Point, w, h), "middle", 1)
	case KindMouseMove:
		p := Clamp(a.Point, w, h)
		return e.mouseEvent(ctx, input.MouseMoved, p, 0)
	case KindMouseDown:
		p := Clamp(a.Point, w, h)
		return e.runner.Run(ctx, chromedp.MouseEvent(input.MousePressed, float64(p.X), float64(p.Y),
			chromedp.Button("left"), chromedp.ClickCount(1)))
	case KindMouseUp:
		p := Clamp(a.Point, w, h)
		return e.runner.Run(ctx, chromedp.MouseEvent(input.MouseReleased, float64(p.X), float64(p.Y),
			chromedp.Button("left"), chromedp.ClickCount(1)))
	case KindDrag:
		return e.drag(ctx, Clamp(a.Point, w, h), Clamp(a.End, w, h))
	case KindTypeText:
		return e.typeText(ctx, a)
	case KindKeyPress:
		return e.keyPress(ctx, a.Keys)
	case KindHoldKey:
		return e.holdKey(ctx, a)
	case KindScroll:
		return e.scroll(ctx, a, w, h)
	case KindNavigate:
		if a.URL == "" {
			return fmt.Errorf("navigate action without URL")
		}
		return e.runner.Run(ctx, chromedp.Navigate(a.URL))
	case KindBack:
		return e.runner.Run(ctx, chromedp.NavigateBack())
	case KindForward:
		return e.runner.Run(ctx, chromedp.NavigateForward())
	case KindWait:
		d := a.Duration
		if d <= 0 {
			d = 5 * time.Second
		}
		return e.runner.Run(ctx, chromedp.Sleep(d))
	case KindScreenshot:
		// The loop screenshots every turn anyway.
		return nil
	case KindSearch:
		if err := e.runner.Run(ctx, chromedp.Navigate("https://www.google.com")); err != nil {
			return err
		}
		if a.Text == "" {
			return nil
		}
		return e.typeText(ctx, Action{Kind: KindTypeText, Text: a.Text, PressEnter: true})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Kind)
	}
}

// click dispatches a raw mouse click. Two or more consecutive clicks within
// a few pixels with no page change mean the event is bouncing off a custom
// widget; the retry goes through elementFromPoint().click() instead.
func (e *Executor) click(ctx context.Context, p Point, button string, count int) error {
	stuck := e.trackClick(ctx, p)

	if stuck && button == "left" && count == 1 {
		e.logger.Debug("Repeated click detected, using synthetic DOM click",
			zap.Int("x", p.X), zap.Int("y", p.Y))
		var ok bool
		expr := fmt.Sprintf(
			`(function(x, y){ const el = document.elementFromPoint(x, y); if (el) { el.click(); return true; } return false; })(%d, %d)`,
			p.X, p.Y)
		if err := e.runner.Evaluate(ctx, expr, &ok); err == nil && ok {
			return nil
		}
	}

	opts := []chromedp.MouseOption{chromedp.Button(button), chromedp.ClickCount(count)}
	return e.runner.Run(ctx, chromedp.MouseClickXY(float64(p.X), float64(p.Y), opts...))
}

// trackClick updates the same-spot click streak and reports whether the
// fallback threshold was reached.
func (e *Executor) trackClick(ctx context.Context, p Point) bool {
	url, title, _ := e.runner.Location(ctx)

	samePlace := abs(p.X-e.lastClick.X) <= 5 && abs(p.Y-e.lastClick.Y) <= 5
	sameState := url == e.lastURL && title == e.lastTitle

	if samePlace && sameState {
		e.clickStreak++
	} else {
		e.clickStreak = 0
	}
	e.lastClick = p
	e.lastURL = url
	e.lastTitle = title

	return e.clickStreak >= 2
}

func (e *Executor) mouseEvent(ctx context.Context, typ input.MouseType, p Point, clicks int64) error {
	return e.runner.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		ev := input.DispatchMouseEvent(typ, float64(p.X), float64(p.Y))
		if clicks > 0 {
			ev = ev.WithClickCount(clicks).WithButton(input.Left)
		}
		return ev.Do(ctx)
	}))
}

// drag presses at start, glides through intermediate positions, and
// releases at end. The intermediate moves keep drag handlers engaged.
func (e *Executor) drag(ctx context.Context, start, end Point) error {
	const steps = 10

	if err := e.runner.Run(ctx, chromedp.MouseEvent(input.MousePressed,
		float64(start.X), float64(start.Y),
		chromedp.Button("left"), chromedp.ClickCount(1))); err != nil {
		return fmt.Errorf("drag press failed: %w", err)
	}

	for i := 1; i <= steps; i++ {
		x := start.X + (end.X-start.X)*i/steps
		y := start.Y + (end.Y-start.Y)*i/steps
		err := e.runner.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).
				WithButton(input.Left).Do(ctx)
		}), chromedp.Sleep(15*time.Millisecond))
		if err != nil {
			return fmt.Errorf("drag move failed: %w", err)
		}
	}

	if err := e.runner.Run(ctx, chromedp.MouseEvent(input.MouseReleased,
		float64(end.X), float64(end.Y),
		chromedp.Button("left"), chromedp.ClickCount(1))); err != nil {
		return fmt.Errorf("drag release failed: %w", err)
	}
	return nil
}

// typeText types into the focused element. The caller clicks the field
// first; typing targets document.activeElement so focus set by that click
// (or by Tab navigation) is honored.
func (e *Executor) typeText(ctx context.Context, a Action) error {
	if a.ClearFirst {
		if err := e.runner.Run(ctx,
			chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl))); err != nil {
			return fmt.Errorf("select-all before typing failed: %w", err)
		}
	}
	if err := e.runner.Run(ctx,
		chromedp.SendKeys("document.activeElement", a.Text, chromedp.ByJSPath)); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	if a.PressEnter {
		if err := e.runner.Run(ctx, chromedp.KeyEvent(kb.Enter)); err != nil {
			return fmt.Errorf("enter after typing failed: %w", err)
		}
	}
	return nil
}

// keyPress dispatches a chord: every name but the last is treated as a
// modifier when it names one, the final name is the key itself.
func (e *Executor) keyPress(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("key press without keys")
	}

	var mods input.Modifier
	final := ""
	for i, name := range keys {
		lower := strings.ToLower(strings.TrimSpace(name))
		if m, ok := modifierNames[lower]; ok && i < len(keys)-1 {
			mods |= m
			continue
		}
		final = lower
	}
	if final == "" {
		// A chord of only modifiers: press the last one as a key.
		final = strings.ToLower(keys[len(keys)-1])
	}

	key := MapKeyName(final)
	if mods != 0 {
		return e.runner.Run(ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods)))
	}
	return e.runner.Run(ctx, chromedp.KeyEvent(key))
}

func (e *Executor) holdKey(ctx context.Context, a Action) error {
	if len(a.Keys) == 0 {
		return fmt.Errorf("hold key without keys")
	}
	d := a.Duration
	if d <= 0 {
		d = time.Second
	}
	key := MapKeyName(strings.ToLower(a.Keys[len(a.Keys)-1]))
	// CDP has no true key-hold over this transport; a press bracketed by a
	// pause approximates it for the handful of sites that need one.
	return e.runner.Run(ctx,
		chromedp.KeyEvent(key),
		chromedp.Sleep(d),
	)
}

// scroll emits wheel events at the given point, or at the viewport center
// when the point is unset. Amount is in model scroll units.
func (e *Executor) scroll(ctx context.Context, a Action, w, h int) error {
	p := a.Point
	if p.X == 0 && p.Y == 0 {
		p = Point{X: w / 2, Y: h / 2}
	}
	p = Clamp(p, w, h)

	amount := a.Amount
	if amount <= 0 {
		amount = 3
	}
	var dx, dy float64
	switch strings.ToLower(a.Direction) {
	case "up":
		dy = -float64(amount * scrollPixelsPerUnit)
	case "left":
		dx = -float64(amount * scrollPixelsPerUnit)
	case "right":
		dx = float64(amount * scrollPixelsPerUnit)
	default: // down
		dy = float64(amount * scrollPixelsPerUnit)
	}

	return e.runner.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, float64(p.X), float64(p.Y)).
			WithDeltaX(dx).WithDeltaY(dy).Do(ctx)
	}))
}

// MapKeyName resolves a model key name to the CDP key identifier, falling
// back to the name itself for plain characters.
func MapKeyName(name string) string {
	if mapped, ok := keyNames[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

func (e *Executor) settle(ctx context.Context) {
	if e.delay <= 0 {
		return
	}
	_ = e.runner.Run(ctx, chromedp.Sleep(e.delay))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
