// internal/automation/action.go

// Package automation defines the normalized browser action vocabulary, the
// executor that realizes actions over CDP, and outcome indicator matching.
package automation

import (
	"fmt"
	"math"
	"time"
)

// Kind enumerates every browser action the model drivers can request.
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindTripleClick Kind = "triple_click"
	KindRightClick  Kind = "right_click"
	KindMiddleClick Kind = "middle_click"
	KindMouseMove   Kind = "mouse_move"
	KindMouseDown   Kind = "mouse_down"
	KindMouseUp     Kind = "mouse_up"
	KindDrag        Kind = "drag"
	KindTypeText    Kind = "type_text"
	KindKeyPress    Kind = "key_press"
	KindHoldKey     Kind = "hold_key"
	KindScroll      Kind = "scroll"
	KindNavigate    Kind = "navigate"
	KindBack        Kind = "back"
	KindForward     Kind = "forward"
	KindWait        Kind = "wait"
	KindScreenshot  Kind = "screenshot"
	KindSearch      Kind = "search"
)

// Point is a position in viewport CSS pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is a single normalized browser operation. Only the fields relevant
// to Kind are meaningful.
type Action struct {
	Kind Kind `json:"kind"`

	// Point is the target position for pointer actions and the start of a drag.
	Point Point `json:"point,omitempty"`
	// End is the drag destination.
	End Point `json:"end,omitempty"`

	// Text is the payload for type_text and search.
	Text string `json:"text,omitempty"`
	// ClearFirst selects all existing field content before typing.
	ClearFirst bool `json:"clear_first,omitempty"`
	// PressEnter submits the field after typing.
	PressEnter bool `json:"press_enter,omitempty"`

	// Keys is a chord for key_press and hold_key, modifiers first.
	Keys []string `json:"keys,omitempty"`

	// Direction ("up", "down", "left", "right") and Amount drive scroll.
	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`

	// URL is the navigation target.
	URL string `json:"url,omitempty"`

	// Duration applies to wait and hold_key.
	Duration time.Duration `json:"duration,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case KindClick, KindDoubleClick, KindTripleClick, KindRightClick, KindMiddleClick,
		KindMouseMove, KindMouseDown, KindMouseUp:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.Point.X, a.Point.Y)
	case KindDrag:
		return fmt.Sprintf("drag(%d,%d -> %d,%d)", a.Point.X, a.Point.Y, a.End.X, a.End.Y)
	case KindTypeText, KindSearch:
		return fmt.Sprintf("%s(%d chars)", a.Kind, len(a.Text))
	case KindKeyPress, KindHoldKey:
		return fmt.Sprintf("%s(%v)", a.Kind, a.Keys)
	case KindScroll:
		return fmt.Sprintf("scroll(%s, %d)", a.Direction, a.Amount)
	case KindNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	default:
		return string(a.Kind)
	}
}

// Denormalize maps a model coordinate on the 0-1000 grid onto a pixel axis
// of the given dimension, rounding half away from zero. Denormalize(500,
// 1920) is 960 and Denormalize(250, 1280) is 320.
func Denormalize(v, dim int) int {
	return int(math.Round(float64(v) / 1000.0 * float64(dim)))
}

// DenormalizePoint maps a 0-1000 grid point onto a viewport.
func DenormalizePoint(x, y, width, height int) Point {
	return Point{
		X: Denormalize(x, width),
		Y: Denormalize(y, height),
	}
}

// Clamp bounds a point to the viewport so dispatched events always land on
// the page.
func Clamp(p Point, width, height int) Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.X > width-1 {
		p.X = width - 1
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y > height-1 {
		p.Y = height - 1
	}
	return p
}

// LogEntry records one executed action for the run trace. Detail is already
// sanitized by the time an entry leaves the run coordinator.
type LogEntry struct {
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"kind"`
	Detail    string    `json:"detail"`
	PageURL   string    `json:"page_url,omitempty"`
	PageTitle string    `json:"page_title,omitempty"`
	At        time.Time `json:"at"`
	Err       string    `json:"error,omitempty"`
}
