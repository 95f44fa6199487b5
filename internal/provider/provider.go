// internal/provider/provider.go

// Package provider implements the vision-model action loop: screenshots go
// out, tool calls come back, actions execute, and page text is scanned for
// terminal indicators. Claude is the primary driver, Gemini the fallback.
package provider

import (
	"context"
	"time"

	"github.com/formpilot/formpilot-cli/internal/automation"
)

// Page is the surface a driver works against. Production use wraps a
// browser session; tests supply a fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) ([]byte, error)
	BodyText(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, string, error)
	Viewport() (int, int)
	Perform(ctx context.Context, seq int, a automation.Action) (automation.LogEntry, error)
	// DismissDialogs runs the consent scan; failures are non-fatal.
	DismissDialogs(ctx context.Context)
}

// Driver runs a full action loop for one provider against one page.
type Driver interface {
	Name() string
	Run(ctx context.Context, page Page, task *automation.TaskSpec) LoopResult
}

// Outcome classifies how a loop run ended.
type Outcome int

const (
	// OutcomeSuccess means a completion indicator was confirmed.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the model gave up or the page reported an error.
	OutcomeFailure
	// OutcomeBlocked means the opportunity is gone; retrying is pointless.
	OutcomeBlocked
	// OutcomeExhausted means the iteration budget ran out.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// LoopResult is the outcome of one driver run.
type LoopResult struct {
	Outcome    Outcome
	Iterations int
	Actions    []automation.LogEntry
	// Matched is the indicator phrase that decided the outcome, if any.
	Matched  string
	FinalURL string
	Err      error
}

// LoopOptions bound and pace the action loop.
type LoopOptions struct {
	MaxIterations int
	// ModelInterval is the minimum spacing between model round trips.
	ModelInterval time.Duration
}

func (o LoopOptions) maxIterations() int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return 25
}
