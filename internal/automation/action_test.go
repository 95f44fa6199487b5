// internal/automation/action_test.go
package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDenormalize(t *testing.T) {
	cases := []struct {
		v, dim, want int
	}{
		{500, 1920, 960},
		{250, 1280, 320},
		{0, 1280, 0},
		{1000, 1280, 1280},
		{1000, 800, 800},
		{333, 1280, 426},
		{1, 800, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Denormalize(tc.v, tc.dim),
			"Denormalize(%d, %d)", tc.v, tc.dim)
	}
}

func TestDenormalizeMonotonic(t *testing.T) {
	prev := -1
	for v := 0; v <= 1000; v += 25 {
		got := Denormalize(v, 1280)
		assert.GreaterOrEqual(t, got, prev, "Denormalize must be monotonic at v=%d", v)
		prev = got
	}
}

func TestDenormalizePoint(t *testing.T) {
	p := DenormalizePoint(500, 250, 1280, 800)
	assert.Equal(t, Point{X: 640, Y: 200}, p)
}

func TestClamp(t *testing.T) {
	cases := []struct {
		name string
		in   Point
		want Point
	}{
		{"inside", Point{100, 100}, Point{100, 100}},
		{"negative", Point{-5, -10}, Point{0, 0}},
		{"overflow", Point{5000, 5000}, Point{1279, 799}},
		{"edge", Point{1280, 800}, Point{1279, 799}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clamp(tc.in, 1280, 800))
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "click(10,20)", Action{Kind: KindClick, Point: Point{10, 20}}.String())
	assert.Equal(t, "drag(1,2 -> 3,4)", Action{Kind: KindDrag, Point: Point{1, 2}, End: Point{3, 4}}.String())
	assert.Equal(t, "scroll(down, 3)", Action{Kind: KindScroll, Direction: "down", Amount: 3}.String())
	assert.Equal(t, "navigate(https://example.com)", Action{Kind: KindNavigate, URL: "https://example.com"}.String())

	// Typed text never leaks into the trace, only its length.
	s := Action{Kind: KindTypeText, Text: "hunter2!"}.String()
	assert.NotContains(t, s, "hunter2")
	assert.Equal(t, "type_text(8 chars)", s)
}
