// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
	"github.com/formpilot/formpilot-cli/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubPage satisfies provider.Page without a browser.
type stubPage struct{}

func (stubPage) Navigate(ctx context.Context, url string) error      { return nil }
func (stubPage) Screenshot(ctx context.Context) ([]byte, error)      { return []byte("png"), nil }
func (stubPage) BodyText(ctx context.Context) (string, error)        { return "", nil }
func (stubPage) Location(ctx context.Context) (string, string, error) { return "", "", nil }
func (stubPage) Viewport() (int, int)                                { return 1280, 800 }
func (stubPage) DismissDialogs(ctx context.Context)                  {}
func (stubPage) Perform(ctx context.Context, seq int, a automation.Action) (automation.LogEntry, error) {
	return automation.LogEntry{Seq: seq, Kind: a.Kind}, nil
}

// scriptedDriver returns canned loop results in order, repeating the last.
type scriptedDriver struct {
	name    string
	results []provider.LoopResult
	calls   int
	panics  bool
}

func (d *scriptedDriver) Name() string { return d.name }

func (d *scriptedDriver) Run(ctx context.Context, page provider.Page, task *automation.TaskSpec) provider.LoopResult {
	d.calls++
	if d.panics {
		panic("scripted panic")
	}
	i := d.calls - 1
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	return d.results[i]
}

func newTestOrchestrator(t *testing.T, drivers ...provider.Driver) (*Orchestrator, *int, *int) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Automation.MaxRetries = 2

	opened := new(int)
	closed := new(int)

	o := New(cfg, zap.NewNop())
	o.buildDrivers = func(ctx context.Context) ([]provider.Driver, error) {
		return drivers, nil
	}
	o.openPage = func(ctx context.Context, task *automation.TaskSpec, log *zap.Logger) (*pageHandle, error) {
		*opened++
		return &pageHandle{page: stubPage{}, close: func() { *closed++ }}, nil
	}
	return o, opened, closed
}

func applyTask() *automation.TaskSpec {
	return &automation.TaskSpec{
		URL:          "https://network.example.com/accept/4521",
		Instructions: "Apply to the consultation.",
		MaxRetries:   2,
	}
}

func TestRunRejectsInvalidTask(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	res := o.Run(context.Background(), &automation.TaskSpec{})

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, ComponentForm, res.Component)
	assert.Zero(t, res.Attempts)
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	claude := &scriptedDriver{name: "claude", results: []provider.LoopResult{{
		Outcome:  provider.OutcomeSuccess,
		FinalURL: "https://network.example.com/accept/4521?step=done",
		Actions:  []automation.LogEntry{{Seq: 1, Kind: "click"}},
	}}}
	o, opened, closed := newTestOrchestrator(t, claude)

	res := o.Run(context.Background(), applyTask())

	assert.True(t, res.Success)
	assert.Equal(t, "claude", res.Method)
	assert.Equal(t, "4521", res.ProjectID)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Error)
	assert.Len(t, res.Actions, 1)
	assert.Equal(t, 1, *opened)
	assert.Equal(t, 1, *closed, "session must be closed after the attempt")
}

func TestRunFallsBackToSecondDriver(t *testing.T) {
	claude := &scriptedDriver{name: "claude", results: []provider.LoopResult{{
		Outcome: provider.OutcomeExhausted,
		Err:     errors.New("iteration budget of 25 exhausted"),
	}}}
	gemini := &scriptedDriver{name: "gemini", results: []provider.LoopResult{{
		Outcome:  provider.OutcomeSuccess,
		FinalURL: "https://network.example.com/projects/77",
	}}}
	o, opened, closed := newTestOrchestrator(t, claude, gemini)

	res := o.Run(context.Background(), applyTask())

	assert.True(t, res.Success)
	assert.Equal(t, "gemini", res.Method)
	assert.Equal(t, "77", res.ProjectID)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, claude.calls)
	assert.Equal(t, 1, gemini.calls)
	// The fallback gets a fresh session, never the primary's leftovers.
	assert.Equal(t, 2, *opened)
	assert.Equal(t, 2, *closed)
}

func TestRunStopsRetryingWhenBlocked(t *testing.T) {
	claude := &scriptedDriver{name: "claude", results: []provider.LoopResult{{
		Outcome: provider.OutcomeBlocked,
		Matched: "no longer available",
		Err:     errors.New(`blocked: page shows "no longer available"`),
	}}}
	gemini := &scriptedDriver{name: "gemini"}
	o, _, _ := newTestOrchestrator(t, claude, gemini)

	res := o.Run(context.Background(), applyTask())

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no longer available")
	assert.Equal(t, ComponentForm, res.Component)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, gemini.calls, "blocked states must not fall back")
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	claude := &scriptedDriver{name: "claude", results: []provider.LoopResult{{
		Outcome:    provider.OutcomeFailure,
		Iterations: 5,
		Err:        errors.New("model ended after 5 iterations without completion evidence"),
	}}}
	gemini := &scriptedDriver{name: "gemini", results: []provider.LoopResult{{
		Outcome:    provider.OutcomeFailure,
		Iterations: 3,
		Err:        errors.New("model ended after 3 iterations without completion evidence"),
	}}}
	o, opened, _ := newTestOrchestrator(t, claude, gemini)

	res := o.Run(context.Background(), applyTask())

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Error, "failed results must always carry an error")
	assert.Equal(t, 4, res.Attempts, "2 retries x 2 providers")
	assert.Equal(t, 4, *opened)
	assert.NotEmpty(t, res.FinalScreenshot, "failed runs keep the last screenshot")
}

func TestRunKeepsOnlyFinalAttemptActions(t *testing.T) {
	attemptTrace := []automation.LogEntry{
		{Seq: 1, Kind: automation.KindClick},
		{Seq: 2, Kind: automation.KindTypeText},
	}
	claude := &scriptedDriver{name: "claude", results: []provider.LoopResult{{
		Outcome: provider.OutcomeExhausted,
		Actions: attemptTrace,
		Err:     errors.New("iteration budget of 25 exhausted"),
	}}}
	o, _, _ := newTestOrchestrator(t, claude)

	res := o.Run(context.Background(), applyTask())

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	// Every attempt replays from scratch; earlier traces would double up.
	require.Len(t, res.Actions, len(attemptTrace))
	assert.Equal(t, 1, res.Actions[0].Seq)
	assert.Equal(t, 2, res.Actions[1].Seq)
}

func TestRunRecoversFromDriverPanic(t *testing.T) {
	claude := &scriptedDriver{name: "claude", panics: true}
	o, _, closed := newTestOrchestrator(t, claude)

	res := o.Run(context.Background(), applyTask())

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	assert.Equal(t, ComponentProvider, res.Component)
	assert.Equal(t, 2, *closed, "sessions must be closed even when a driver panics")
}

func TestRunReportsBrowserFailures(t *testing.T) {
	claude := &scriptedDriver{name: "claude"}
	o, _, _ := newTestOrchestrator(t, claude)
	o.openPage = func(ctx context.Context, task *automation.TaskSpec, log *zap.Logger) (*pageHandle, error) {
		return nil, errors.New("launch: chrome executable not found")
	}

	res := o.Run(context.Background(), applyTask())

	assert.False(t, res.Success)
	assert.Equal(t, ComponentBrowser, res.Component)
	assert.Contains(t, res.Error, "chrome executable not found")
	assert.Zero(t, claude.calls)
	assert.Equal(t, 1, res.Attempts, "a dead browser is not worth retrying")
}

func TestDismissOptionsCarryPlatformExtensions(t *testing.T) {
	called := false
	platform := &automation.PlatformConfig{
		BannerSelectors: []string{"#gdpr-banner"},
		AcceptSelectors: []string{"#gdpr-accept"},
		DialogHandler: func(ctx context.Context) (bool, error) {
			called = true
			return true, nil
		},
	}

	opts := dismissOptions(platform)

	assert.Equal(t, []string{"#gdpr-banner"}, opts.ExtraBannerSelectors)
	assert.Equal(t, []string{"#gdpr-accept"}, opts.ExtraAcceptSelectors)
	require.NotNil(t, opts.Handler)
	done, err := opts.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, called)
}

func TestDismissOptionsWithoutPlatform(t *testing.T) {
	opts := dismissOptions(nil)
	assert.Empty(t, opts.ExtraBannerSelectors)
	assert.Empty(t, opts.ExtraAcceptSelectors)
	assert.Nil(t, opts.Handler)
}

func TestSanitizeEntriesScrubsCredentials(t *testing.T) {
	o := New(config.NewDefaultConfig(), zap.NewNop())
	task := &automation.TaskSpec{Password: "Sup3rSecret!"}

	entries := []automation.LogEntry{
		{Detail: "typed Sup3rSecret! into field", PageURL: "https://x.test/login?password=Sup3rSecret!"},
		{Err: "could not submit Sup3rSecret!"},
	}

	out := o.sanitizeEntries(entries, task)

	for _, e := range out {
		assert.NotContains(t, e.Detail, "Sup3rSecret!")
		assert.NotContains(t, e.PageURL, "Sup3rSecret!")
		assert.NotContains(t, e.Err, "Sup3rSecret!")
	}
	// Original slice is left alone.
	assert.Contains(t, entries[0].Detail, "Sup3rSecret!")
}
