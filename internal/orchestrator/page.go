// internal/orchestrator/page.go
package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/browser"
)

// sessionPage glues a live browser session and an action executor into the
// surface the provider drivers work against.
type sessionPage struct {
	sess   *browser.Session
	exec   *automation.Executor
	task   *automation.TaskSpec
	logger *zap.Logger
}

func newSessionPage(sess *browser.Session, exec *automation.Executor, task *automation.TaskSpec, logger *zap.Logger) *sessionPage {
	return &sessionPage{sess: sess, exec: exec, task: task, logger: logger}
}

func (p *sessionPage) Navigate(ctx context.Context, url string) error {
	return p.sess.Navigate(ctx, url)
}

func (p *sessionPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.sess.Screenshot(ctx)
}

func (p *sessionPage) BodyText(ctx context.Context) (string, error) {
	return p.sess.BodyText(ctx)
}

func (p *sessionPage) Location(ctx context.Context) (string, string, error) {
	return p.sess.Location(ctx)
}

func (p *sessionPage) Viewport() (int, int) {
	return p.sess.Viewport()
}

func (p *sessionPage) Perform(ctx context.Context, seq int, a automation.Action) (automation.LogEntry, error) {
	return p.exec.Perform(ctx, seq, a)
}

// dismissOptions builds the consent scan options from a platform's dialog
// extensions. A nil platform selects the generic catalogs.
func dismissOptions(platform *automation.PlatformConfig) browser.DismissOptions {
	opts := browser.DismissOptions{}
	if platform == nil {
		return opts
	}
	opts.ExtraBannerSelectors = platform.BannerSelectors
	opts.ExtraAcceptSelectors = platform.AcceptSelectors
	if platform.DialogHandler != nil {
		handler := platform.DialogHandler
		opts.Handler = func(ctx context.Context, _ *browser.Session) (bool, error) {
			return handler(ctx)
		}
	}
	return opts
}

// DismissDialogs runs the consent scan with the task's platform extensions.
// Failures here never fail the run; the model can still click banners away
// itself.
func (p *sessionPage) DismissDialogs(ctx context.Context) {
	status, err := browser.DismissConsent(ctx, p.sess, dismissOptions(p.task.Platform), p.logger)
	if err != nil {
		p.logger.Debug("Consent scan failed", zap.Error(err))
		return
	}
	if status == browser.DialogDismissed {
		if n, err := browser.DismissOverlays(ctx, p.sess, p.logger); err == nil && n > 0 {
			p.logger.Debug("Dismissed leftover overlays", zap.Int("count", n))
		}
	}
}
