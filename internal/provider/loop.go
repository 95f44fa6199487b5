// internal/provider/loop.go
package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/formpilot/formpilot-cli/internal/automation"
)

// maxEmptyTurns is how many consecutive actionless, non-terminal model
// responses are tolerated before the loop gives up.
const maxEmptyTurns = 2

// observation is what a driver sees at the start of each turn.
type observation struct {
	screenshot []byte
	url        string
	title      string
	iteration  int
	first      bool
	// lastEntries are the trace entries from the previous turn's actions,
	// so the driver can report execution errors back to the model.
	lastEntries []automation.LogEntry
}

// turn is a driver's decision for one iteration.
type turn struct {
	actions []automation.Action
	// done means the model explicitly ended the conversation.
	done bool
	// text is the model's commentary, used only for logging.
	text string
}

// turnFunc advances the driver's conversation by one round trip.
type turnFunc func(ctx context.Context, obs observation) (turn, error)

// runLoop drives the observe -> decide -> act -> verify cycle until a
// terminal state. The tie-break rule: a success phrase on the page never
// ends the loop while the model still has actions in flight; pending
// actions always execute first.
func runLoop(ctx context.Context, logger *zap.Logger, opts LoopOptions, page Page, task *automation.TaskSpec, fn turnFunc) LoopResult {
	runID := uuid.New().String()[:8]
	log := logger.With(zap.String("run_id", runID))
	indicators := task.Indicators()

	var limiter *rate.Limiter
	if opts.ModelInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.ModelInterval), 1)
	}

	result := LoopResult{Outcome: OutcomeExhausted}
	var lastEntries []automation.LogEntry
	emptyTurns := 0
	seq := 0
	maxIter := opts.maxIterations()
	lastStage := ""

	for iteration := 1; iteration <= maxIter; iteration++ {
		result.Iterations = iteration

		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFailure
			result.Err = err
			return result
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				result.Outcome = OutcomeFailure
				result.Err = err
				return result
			}
		}

		shot, err := page.Screenshot(ctx)
		if err != nil {
			result.Outcome = OutcomeFailure
			result.Err = fmt.Errorf("screenshot on iteration %d: %w", iteration, err)
			return result
		}
		url, title, _ := page.Location(ctx)
		result.FinalURL = url

		// Blocked states end the run before the model is even consulted.
		pageText, _ := page.BodyText(ctx)
		if phrase := indicators.MatchBlocked(pageText); phrase != "" {
			log.Warn("Blocked state detected", zap.String("phrase", phrase))
			result.Outcome = OutcomeBlocked
			result.Matched = phrase
			result.Err = fmt.Errorf("blocked: page shows %q", phrase)
			return result
		}
		if stage := automation.DetectStage(pageText); stage != "" && stage != lastStage {
			log.Info("Workflow stage", zap.String("stage", stage), zap.Int("iteration", iteration))
			lastStage = stage
		}

		decision, err := fn(ctx, observation{
			screenshot:  shot,
			url:         url,
			title:       title,
			iteration:   iteration,
			first:       iteration == 1,
			lastEntries: lastEntries,
		})
		if err != nil {
			result.Outcome = OutcomeFailure
			result.Err = fmt.Errorf("model turn %d: %w", iteration, err)
			return result
		}
		lastEntries = nil

		if len(decision.actions) == 0 {
			// Actionless turn: adjudicate on page evidence.
			if phrase := indicators.MatchSuccess(pageText); phrase != "" {
				log.Info("Completion confirmed", zap.String("phrase", phrase), zap.Int("iterations", iteration))
				result.Outcome = OutcomeSuccess
				result.Matched = phrase
				return result
			}
			if decision.done {
				result.Outcome = OutcomeFailure
				result.Err = fmt.Errorf("model ended after %d iterations without completion evidence", iteration)
				return result
			}
			emptyTurns++
			log.Debug("Empty model response", zap.Int("streak", emptyTurns))
			if emptyTurns > maxEmptyTurns {
				result.Outcome = OutcomeExhausted
				result.Err = fmt.Errorf("model returned %d consecutive empty responses", emptyTurns)
				return result
			}
			continue
		}
		emptyTurns = 0

		for _, action := range decision.actions {
			seq++
			entry, perfErr := page.Perform(ctx, seq, action)
			result.Actions = append(result.Actions, entry)
			lastEntries = append(lastEntries, entry)
			if perfErr != nil {
				// Execution errors go back to the model next turn; only a
				// dead context is terminal here.
				log.Warn("Action failed", zap.String("action", entry.Detail), zap.Error(perfErr))
				if ctx.Err() != nil {
					result.Outcome = OutcomeFailure
					result.Err = ctx.Err()
					return result
				}
			}
		}

		// Verification pass after acting: note failure evidence but let the
		// model react to it; only log it here.
		if afterText, err := page.BodyText(ctx); err == nil {
			if phrase := indicators.MatchFailure(afterText); phrase != "" {
				log.Debug("Failure indicator visible", zap.String("phrase", phrase))
			}
		}
	}

	result.Err = fmt.Errorf("iteration budget of %d exhausted", maxIter)
	return result
}
