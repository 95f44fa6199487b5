// internal/orchestrator/batch.go
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/browser"
	"github.com/formpilot/formpilot-cli/internal/provider"
	"github.com/formpilot/formpilot-cli/internal/sanitize"
)

var batchJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Generic login form selectors, most specific first. Some networks use
// capitalized field names on table-based forms.
var (
	emailSelectors = []string{
		`input[name="Email"]`,
		`input[name="email"]`,
		`input[type="email"]`,
		`input[name="username"]`,
		`input[name="Username"]`,
		`input[id*="email" i]`,
		`input[id*="user" i]`,
		`input[placeholder*="mail" i]`,
		`table input[type="text"]`,
	}
	passwordSelectors = []string{
		`input[name="Password"]`,
		`input[name="password"]`,
		`input[type="password"]`,
		`input[id*="password" i]`,
	}
	loginButtonSelectors = []string{
		`input[value="Log In"]`,
		`input[value*="Log"]`,
		`input[type="submit"]`,
		`button[type="submit"]`,
		`input[value*="Sign"]`,
	}
	loginButtonTexts = []string{"Log", "Sign"}
)

// countPatterns pull an invitation count out of dashboard text, e.g.
// "Invitations (13)" or "4 pending".
var countPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Invitations?\s*\((\d+)\)`),
	regexp.MustCompile(`(?i)(\d+)\s*Invitations?`),
	regexp.MustCompile(`(?i)Projects?\s*\((\d+)\)`),
	regexp.MustCompile(`(?i)(\d+)\s*pending`),
	regexp.MustCompile(`(?i)Requests?\s*\((\d+)\)`),
	regexp.MustCompile(`(?i)(\d+)\s*Requests?`),
	regexp.MustCompile(`(?i)Open\s*\((\d+)\)`),
}

// cardSelectors count invitation cards when no textual count is shown.
var cardSelectors = []string{
	".invitation-card",
	".project-card",
	`[class*="invitation"]`,
	`[class*="project-item"]`,
	`tr[class*="request"]`,
	`div[class*="request-card"]`,
}

// cardLinkSelectors locate the next unprocessed invitation. Index 0 is
// always right: the dashboard is revisited after every card, so the next
// open invitation floats to the top.
var cardLinkSelectors = []string{
	`a[href*="response"]`,
	`a[href*="project"]`,
	`.invitation-card a`,
	`.project-card a`,
	`[class*="invitation"] a`,
	`tr[class*="invitation"] a`,
	`div[class*="card"] a[href*="/requests/"]`,
	`a[href*="/consultation/"]`,
}

var declineSelectors = []string{
	`input[value*="Decline"]`,
	`button[class*="decline"]`,
	".decline-button",
}

var declineButtonTexts = []string{"Decline"}

const defaultCardCount = 10

// BatchSpec describes one dashboard sweep: log in once, walk the open
// invitations, and accept or decline each one.
type BatchSpec struct {
	DashboardURL string
	Username     string
	Password     string

	Platform *automation.PlatformConfig

	// Instructions is the per-card form task handed to the model.
	Instructions string

	// DeclineAll declines every card instead of applying.
	DeclineAll bool

	MaxCards          int
	IterationsPerCard int

	ProfileDir string
}

func (b *BatchSpec) validate() error {
	if b.DashboardURL == "" {
		return fmt.Errorf("dashboard URL is required")
	}
	if b.Instructions == "" && !b.DeclineAll {
		return fmt.Errorf("instructions are required unless declining all")
	}
	return nil
}

// CardResult is the outcome for one invitation.
type CardResult struct {
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Action    string `json:"action"` // "accepted" or "declined"
	Success   bool   `json:"success"`
	Method    string `json:"method,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult summarizes a dashboard sweep.
type BatchResult struct {
	Processed int                   `json:"processed"`
	Succeeded int                   `json:"succeeded"`
	Cards     []CardResult          `json:"cards"`
	Actions   []automation.LogEntry `json:"actions"`
	Error     string                `json:"error,omitempty"`
}

// RunBatch processes a dashboard in a single browser session. Login happens
// once; each card runs in isolation so one bad form never aborts the sweep.
func (o *Orchestrator) RunBatch(ctx context.Context, spec *BatchSpec) BatchResult {
	result := BatchResult{}
	if err := spec.validate(); err != nil {
		result.Error = err.Error()
		return result
	}

	log := o.logger.Named("batch").With(zap.String("dashboard", spec.DashboardURL))

	drivers, err := o.buildDrivers(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	bcfg := o.cfg.Browser
	if spec.ProfileDir != "" {
		bcfg.ProfileDir = spec.ProfileDir
	}
	sess, err := browser.Launch(ctx, bcfg, log)
	if err != nil {
		result.Error = fmt.Sprintf("browser launch: %v", err)
		return result
	}
	defer func() { _ = sess.Close(context.Background()) }()

	exec := automation.NewExecutor(sess, o.cfg.Automation.ActionDelay, log)

	if err := sess.Navigate(ctx, spec.DashboardURL); err != nil {
		result.Error = fmt.Sprintf("navigate to dashboard: %v", err)
		return result
	}
	if _, err := browser.DismissConsent(ctx, sess, dismissOptions(spec.Platform), log); err != nil {
		log.Debug("Consent scan failed", zap.Error(err))
	}

	if spec.Username != "" {
		if err := o.batchLogin(ctx, sess, exec, spec, log); err != nil {
			result.Error = fmt.Sprintf("login: %v", err)
			return result
		}
	}

	count, err := countInvitations(ctx, sess)
	if err != nil {
		log.Warn("Could not determine invitation count", zap.Error(err))
		count = defaultCardCount
	}
	log.Info("Dashboard scanned", zap.Int("invitations", count))

	maxCards := spec.MaxCards
	if maxCards <= 0 {
		maxCards = o.cfg.Automation.BatchMaxCards
	}
	if count < maxCards {
		maxCards = count
	}

	// The guard bounds total loop passes even when the dashboard keeps
	// re-listing processed cards.
	guard := 2*count + 5

	task := &automation.TaskSpec{
		URL:           spec.DashboardURL,
		Instructions:  spec.Instructions,
		Username:      spec.Username,
		Password:      spec.Password,
		Platform:      spec.Platform,
		Decline:       spec.DeclineAll,
		MaxIterations: spec.IterationsPerCard,
	}
	if task.MaxIterations <= 0 {
		task.MaxIterations = o.cfg.Automation.BatchMaxIterations
	}
	page := newSessionPage(sess, exec, task, log)

	for pass := 0; result.Processed < maxCards && pass < guard; pass++ {
		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
			break
		}

		clicked, href, err := clickNextCard(ctx, sess)
		if err != nil || !clicked {
			log.Info("No more invitations to process", zap.Int("processed", result.Processed))
			break
		}
		sleepBatch(ctx, 2*time.Second)

		url, title, _ := sess.Location(ctx)
		card := CardResult{Title: title, URL: url}
		cardLog := log.With(zap.Int("card", result.Processed+1), zap.String("title", title))
		cardLog.Info("Processing invitation", zap.String("href", href))

		if spec.DeclineAll {
			card.Action = "declined"
			card.Success = o.declineCard(ctx, sess, cardLog)
			if !card.Success {
				card.Error = "decline control not found"
			}
		} else {
			card.Action = "accepted"
			loop := o.runCard(ctx, drivers, page, task, &card, cardLog)
			result.Actions = append(result.Actions, o.sanitizeEntries(loop, task)...)
		}

		if card.Success {
			result.Succeeded++
		}
		result.Cards = append(result.Cards, card)
		result.Processed++

		if err := sess.Navigate(ctx, spec.DashboardURL); err != nil {
			result.Error = fmt.Sprintf("return to dashboard: %v", err)
			break
		}
		sleepBatch(ctx, 2*time.Second)
	}

	if result.Error == "" && result.Processed == 0 {
		result.Error = "no invitations processed"
	}
	log.Info("Batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
	)
	return result
}

// runCard drives the provider chain over the currently open invitation.
// Every driver failure is contained to this card.
func (o *Orchestrator) runCard(ctx context.Context, drivers []provider.Driver, page provider.Page, task *automation.TaskSpec, card *CardResult, log *zap.Logger) []automation.LogEntry {
	var entries []automation.LogEntry
	for _, driver := range drivers {
		loop := func() (res provider.LoopResult) {
			defer func() {
				if r := recover(); r != nil {
					res = provider.LoopResult{
						Outcome: provider.OutcomeFailure,
						Err:     fmt.Errorf("panic during %s card run: %v", driver.Name(), r),
					}
					log.Error("Recovered from panic", zap.Any("panic", r))
				}
			}()
			return driver.Run(ctx, page, task)
		}()
		entries = append(entries, loop.Actions...)

		switch loop.Outcome {
		case provider.OutcomeSuccess:
			card.Success = true
			card.Method = driver.Name()
			card.ProjectID = automation.ExtractProjectID(loop.FinalURL, task.Platform)
			return entries
		case provider.OutcomeBlocked:
			card.Error = sanitize.String(loop.Err.Error())
			return entries
		default:
			if loop.Err != nil {
				card.Error = sanitize.String(loop.Err.Error())
			}
			log.Warn("Card attempt failed",
				zap.String("provider", driver.Name()),
				zap.String("outcome", loop.Outcome.String()),
			)
		}
	}
	return entries
}

// batchLogin fills the login form directly: focus the field with a selector
// scan, then type through the normal input pipeline so credentials follow
// the same redaction path as every other keystroke.
func (o *Orchestrator) batchLogin(ctx context.Context, sess *browser.Session, exec *automation.Executor, spec *BatchSpec, log *zap.Logger) error {
	sleepBatch(ctx, 2*time.Second)

	seq := 0
	typeInto := func(selectors []string, value string) error {
		focused, err := focusFirst(ctx, sess, selectors)
		if err != nil {
			return err
		}
		if !focused {
			// Keyboard navigation fallback for unrecognized forms.
			seq++
			if _, err := exec.Perform(ctx, seq, automation.Action{Kind: automation.KindKeyPress, Keys: []string{"Tab"}}); err != nil {
				return err
			}
		}
		seq++
		_, err = exec.Perform(ctx, seq, automation.Action{Kind: automation.KindTypeText, Text: value})
		return err
	}

	if err := typeInto(emailSelectors, spec.Username); err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := typeInto(passwordSelectors, spec.Password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	clicked, err := clickButton(ctx, sess, loginButtonSelectors, loginButtonTexts)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if !clicked {
		log.Debug("No login button found, submitting with Enter")
		seq++
		if _, err := exec.Perform(ctx, seq, automation.Action{Kind: automation.KindKeyPress, Keys: []string{"Return"}}); err != nil {
			return err
		}
	}

	sleepBatch(ctx, 3*time.Second)
	log.Info("Login submitted")
	return nil
}

// declineCard clicks the first visible decline control on the open card.
func (o *Orchestrator) declineCard(ctx context.Context, sess *browser.Session, log *zap.Logger) bool {
	clicked, err := clickButton(ctx, sess, declineSelectors, declineButtonTexts)
	if err != nil || !clicked {
		log.Warn("Could not find decline control", zap.Error(err))
		return false
	}
	sleepBatch(ctx, 2*time.Second)
	return true
}

// countInvitations reads the dashboard count from page text, falling back
// to counting card elements, then to a fixed default.
func countInvitations(ctx context.Context, sess *browser.Session) (int, error) {
	text, err := sess.BodyText(ctx)
	if err != nil {
		return 0, err
	}
	if n, ok := matchCount(text); ok {
		return n, nil
	}

	selectors, _ := batchJSON.MarshalToString(cardSelectors)
	var n int
	expr := fmt.Sprintf(`(function() {
		const selectors = %s;
		for (const sel of selectors) {
			try {
				const found = document.querySelectorAll(sel);
				if (found.length > 0) return found.length;
			} catch (e) {}
		}
		return 0;
	})()`, selectors)
	if err := sess.Evaluate(ctx, expr, &n); err != nil {
		return 0, err
	}
	if n > 0 {
		return n, nil
	}
	return defaultCardCount, nil
}

// matchCount applies the textual count patterns in priority order.
func matchCount(text string) (int, bool) {
	for _, re := range countPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// clickNextCard clicks the first visible invitation link and reports its
// href for logging.
func clickNextCard(ctx context.Context, sess *browser.Session) (bool, string, error) {
	selectors, _ := batchJSON.MarshalToString(cardLinkSelectors)
	expr := fmt.Sprintf(`(function() {
		const selectors = %s;
		const visible = (el) => {
			const r = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			return r.width > 0 && r.height > 0 &&
				style.display !== 'none' && style.visibility !== 'hidden';
		};
		for (const sel of selectors) {
			try {
				for (const el of document.querySelectorAll(sel)) {
					if (visible(el)) {
						const href = el.getAttribute('href') || '';
						el.click();
						return href || 'clicked';
					}
				}
			} catch (e) {}
		}
		return '';
	})()`, selectors)

	var href string
	if err := sess.Evaluate(ctx, expr, &href); err != nil {
		return false, "", err
	}
	return href != "", href, nil
}

// focusFirst focuses the first visible element matching any selector.
func focusFirst(ctx context.Context, sess *browser.Session, selectorList []string) (bool, error) {
	selectors, _ := batchJSON.MarshalToString(selectorList)
	expr := fmt.Sprintf(`(function() {
		const selectors = %s;
		const visible = (el) => {
			const r = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			return r.width > 0 && r.height > 0 &&
				style.display !== 'none' && style.visibility !== 'hidden';
		};
		for (const sel of selectors) {
			try {
				for (const el of document.querySelectorAll(sel)) {
					if (visible(el)) {
						el.focus();
						return true;
					}
				}
			} catch (e) {}
		}
		return false;
	})()`, selectors)

	var focused bool
	if err := sess.Evaluate(ctx, expr, &focused); err != nil {
		return false, err
	}
	return focused, nil
}

// clickButton clicks the first visible element matching a selector, then
// falls back to scanning button labels for the given prefixes.
func clickButton(ctx context.Context, sess *browser.Session, selectorList, texts []string) (bool, error) {
	selectors, _ := batchJSON.MarshalToString(selectorList)
	labels, _ := batchJSON.MarshalToString(texts)
	expr := fmt.Sprintf(`(function() {
		const selectors = %s;
		const labels = %s;
		const visible = (el) => {
			const r = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			return r.width > 0 && r.height > 0 &&
				style.display !== 'none' && style.visibility !== 'hidden';
		};
		for (const sel of selectors) {
			try {
				for (const el of document.querySelectorAll(sel)) {
					if (visible(el)) { el.click(); return true; }
				}
			} catch (e) {}
		}
		for (const el of document.querySelectorAll('button, a, input[type="button"]')) {
			const label = (el.innerText || el.value || '').trim();
			if (label && visible(el) && labels.some(t => label.includes(t))) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, selectors, labels)

	var clicked bool
	if err := sess.Evaluate(ctx, expr, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

func sleepBatch(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
