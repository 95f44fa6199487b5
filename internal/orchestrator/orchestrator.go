// internal/orchestrator/orchestrator.go

// Package orchestrator coordinates a full application run: browser session
// lifecycle, provider selection with fallback, retries, and the sanitized
// result. Claude attempts first; Gemini picks up any failed attempt with a
// fresh browser session, so a half-filled form never leaks between
// providers.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/browser"
	"github.com/formpilot/formpilot-cli/internal/config"
	"github.com/formpilot/formpilot-cli/internal/provider"
	"github.com/formpilot/formpilot-cli/internal/sanitize"
)

// Failure components, used to tag which layer gave out.
const (
	ComponentBrowser  = "browser"
	ComponentProvider = "provider"
	ComponentForm     = "form"
)

// pageHandle is an open page plus its teardown.
type pageHandle struct {
	page  provider.Page
	close func()
}

// Orchestrator runs tasks end to end. The factory fields exist so tests can
// substitute fakes for the browser and the model drivers.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	buildDrivers func(ctx context.Context) ([]provider.Driver, error)
	openPage     func(ctx context.Context, task *automation.TaskSpec, log *zap.Logger) (*pageHandle, error)
}

func New(cfg *config.Config, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{cfg: cfg, logger: logger.Named("orchestrator")}
	o.buildDrivers = o.defaultDrivers
	o.openPage = o.openBrowserPage
	return o
}

// defaultDrivers assembles the provider chain from configured API keys,
// primary first.
func (o *Orchestrator) defaultDrivers(ctx context.Context) ([]provider.Driver, error) {
	opts := provider.LoopOptions{
		MaxIterations: o.cfg.Automation.MaxIterations,
		ModelInterval: o.cfg.Automation.ModelInterval,
	}

	var drivers []provider.Driver
	if o.cfg.Providers.Claude.APIKey != "" {
		claude, err := provider.NewClaude(o.cfg.Providers.Claude, opts, o.logger)
		if err != nil {
			return nil, fmt.Errorf("claude driver: %w", err)
		}
		drivers = append(drivers, claude)
	}
	if o.cfg.Providers.Gemini.APIKey != "" {
		gemini, err := provider.NewGemini(ctx, o.cfg.Providers.Gemini, opts, o.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini driver: %w", err)
		}
		drivers = append(drivers, gemini)
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("no provider API key configured")
	}
	return drivers, nil
}

// openBrowserPage launches a fresh session, navigates to the task URL, and
// clears consent dialogs.
func (o *Orchestrator) openBrowserPage(ctx context.Context, task *automation.TaskSpec, log *zap.Logger) (*pageHandle, error) {
	bcfg := o.cfg.Browser
	if task.ProfileDir != "" {
		bcfg.ProfileDir = task.ProfileDir
	}

	sess, err := browser.Launch(ctx, bcfg, log)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	if err := sess.Navigate(ctx, task.URL); err != nil {
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("navigate to %s: %w", task.URL, err)
	}

	exec := automation.NewExecutor(sess, o.cfg.Automation.ActionDelay, log)
	page := newSessionPage(sess, exec, task, log)
	page.DismissDialogs(ctx)

	return &pageHandle{
		page:  page,
		close: func() { _ = sess.Close(context.Background()) },
	}, nil
}

// Run executes one task: alternating provider attempts, each on a fresh
// browser session, until success, a blocked state, or the retry budget runs
// out. The returned result carries a sanitized action trace and always a
// non-empty Error on failure.
func (o *Orchestrator) Run(ctx context.Context, task *automation.TaskSpec) automation.Result {
	if err := task.Validate(); err != nil {
		return automation.Result{Success: false, Error: err.Error(), Component: ComponentForm}
	}

	runID := uuid.New().String()[:8]
	log := o.logger.With(zap.String("task_id", runID), zap.String("url", task.URL))

	drivers, err := o.buildDrivers(ctx)
	if err != nil {
		return automation.Result{Success: false, Error: err.Error(), Component: ComponentProvider}
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.Automation.MaxRetries
	}

	result := automation.Result{}
	var lastErr error
	lastComponent := ComponentForm

	for retry := 1; retry <= maxRetries; retry++ {
		for _, driver := range drivers {
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				lastComponent = ComponentBrowser
				break
			}

			result.Attempts++
			attemptLog := log.With(
				zap.Int("attempt", result.Attempts),
				zap.String("provider", driver.Name()),
			)
			attemptLog.Info("Starting provider attempt")

			loop, shot, component, err := o.attempt(ctx, driver, task, attemptLog)
			// Each attempt starts over on a fresh page, so the result
			// carries the trace of the latest attempt only.
			result.Actions = o.sanitizeEntries(loop.Actions, task)
			if len(shot) > 0 {
				result.FinalScreenshot = shot
			}

			if err != nil && component == ComponentBrowser {
				// A browser that cannot launch now will not launch on the
				// next attempt either.
				result.Error = sanitize.String(err.Error())
				result.Component = ComponentBrowser
				attemptLog.Error("Browser failure, aborting run", zap.Error(err))
				return result
			}

			if err == nil && loop.Outcome == provider.OutcomeSuccess {
				result.Success = true
				result.Method = driver.Name()
				result.ProjectID = automation.ExtractProjectID(loop.FinalURL, task.Platform)
				attemptLog.Info("Task completed",
					zap.Int("iterations", loop.Iterations),
					zap.String("matched", loop.Matched),
				)
				return result
			}

			if err == nil && loop.Outcome == provider.OutcomeBlocked {
				// Retrying a gone opportunity just burns tokens.
				result.Error = sanitize.String(loop.Err.Error())
				result.Component = ComponentForm
				attemptLog.Warn("Task blocked, not retrying", zap.String("matched", loop.Matched))
				return result
			}

			lastComponent = component
			if err != nil {
				lastErr = err
			} else {
				lastErr = loop.Err
			}
			attemptLog.Warn("Provider attempt failed",
				zap.String("outcome", loop.Outcome.String()),
				zap.Error(lastErr),
			)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all %d attempts failed", result.Attempts)
	}
	result.Error = sanitize.String(lastErr.Error())
	result.Component = lastComponent
	return result
}

// attempt runs one driver against one fresh page. Panics inside the driver
// or the browser stack are converted to provider errors so a single bad
// attempt cannot take down a batch. Failed attempts return the last page
// screenshot for the artifact writer.
func (o *Orchestrator) attempt(ctx context.Context, driver provider.Driver, task *automation.TaskSpec, log *zap.Logger) (loop provider.LoopResult, shot []byte, component string, err error) {
	defer func() {
		if r := recover(); r != nil {
			component = ComponentProvider
			err = fmt.Errorf("panic during %s attempt: %v", driver.Name(), r)
			log.Error("Recovered from panic", zap.Any("panic", r))
		}
	}()

	handle, err := o.openPage(ctx, task, log)
	if err != nil {
		return provider.LoopResult{}, nil, ComponentBrowser, err
	}
	defer handle.close()

	loop = driver.Run(ctx, handle.page, task)
	if loop.Outcome != provider.OutcomeSuccess {
		shot, _ = handle.page.Screenshot(ctx)
	}
	if loop.Outcome == provider.OutcomeFailure && loop.Iterations <= 1 && loop.Err != nil {
		// Nothing was even attempted on the page; the model itself failed.
		return loop, shot, ComponentProvider, nil
	}
	return loop, shot, ComponentForm, nil
}

// sanitizeEntries scrubs the action trace before it reaches logs or
// artifacts: the task credentials and anything matching the generic secret
// patterns are replaced with the redaction marker.
func (o *Orchestrator) sanitizeEntries(entries []automation.LogEntry, task *automation.TaskSpec) []automation.LogEntry {
	secrets := make([]string, 0, 2)
	if task.Password != "" {
		secrets = append(secrets, task.Password)
	}
	if task.Username != "" && sanitize.LooksLikeSecret(task.Username) {
		secrets = append(secrets, task.Username)
	}

	scrub := func(s string) string {
		for _, secret := range secrets {
			s = strings.ReplaceAll(s, secret, sanitize.Redacted)
		}
		return sanitize.String(s)
	}

	out := make([]automation.LogEntry, len(entries))
	for i, e := range entries {
		e.Detail = scrub(e.Detail)
		e.PageURL = scrub(e.PageURL)
		e.PageTitle = scrub(e.PageTitle)
		e.Err = scrub(e.Err)
		out[i] = e
	}
	return out
}
