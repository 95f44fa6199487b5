// internal/browser/session.go

// Package browser owns the Chromium lifecycle: launching an isolated
// instance over CDP, navigation, screenshots, and consent dialog dismissal.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/config"
)

// ErrNotStarted is returned when a session is used before Launch or after Close.
var ErrNotStarted = errors.New("browser: session not started")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Session wraps a single browser instance with one tab. Each session is
// fully isolated: its own process, profile, cookies, and history.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocCtx manages the browser process; tabCtx is derived from it.
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// tempProfile is set when no persistent profile dir was configured and
	// is removed on Close.
	tempProfile string
}

// Launch starts a browser process with an isolated profile and verifies it
// responds before returning.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := &Session{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	profileDir, temp, err := resolveProfileDir(cfg.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare profile dir: %w", err)
	}
	s.tempProfile = temp

	opts := buildAllocatorOptions(cfg, profileDir)
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)

	// Confirm the browser is alive and pin the viewport.
	startCtx, cancel := context.WithTimeout(s.tabCtx, 30*time.Second)
	defer cancel()
	err = chromedp.Run(startCtx,
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s.logger.Info("Browser session launched",
		zap.Bool("headless", cfg.Headless),
		zap.String("profile_dir", profileDir),
		zap.Bool("ephemeral_profile", temp != ""),
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight),
	)
	return s, nil
}

// resolveProfileDir expands and creates the configured profile directory, or
// creates a throwaway one. The second return value is non-empty for
// throwaway dirs.
func resolveProfileDir(configured string) (string, string, error) {
	if configured != "" {
		expanded, err := homedir.Expand(configured)
		if err != nil {
			return "", "", fmt.Errorf("failed to expand profile dir %q: %w", configured, err)
		}
		if err := os.MkdirAll(expanded, 0o700); err != nil {
			return "", "", err
		}
		return expanded, "", nil
	}
	tmp, err := os.MkdirTemp("", "formpilot-profile-*")
	if err != nil {
		return "", "", err
	}
	return tmp, tmp, nil
}

// buildAllocatorOptions assembles the launch flags. The default
// enable-automation flag is overridden because it sets
// navigator.webdriver and gets sessions challenged.
func buildAllocatorOptions(cfg config.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.UserDataDir(profileDir),
		chromedp.UserAgent(ua),
	)

	// Extra arguments from config, "--name=value" or "--name".
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required when running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// Run executes chromedp actions against the session tab under the configured
// action timeout. The caller context gates entry; the tab context carries
// the CDP connection.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	return s.run(ctx, s.cfg.ActionTimeout, actions...)
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s == nil || s.tabCtx == nil {
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := s.tabCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the given URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.run(ctx, s.cfg.NavTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// BodyText returns the rendered text content of the page body.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.Run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// Location returns the current URL and document title.
func (s *Session) Location(ctx context.Context) (string, string, error) {
	var url, title string
	err := s.Run(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", "", err
	}
	return url, title, nil
}

// Evaluate runs a JavaScript expression in the page and unmarshals the
// result into out. Pass nil to discard the result.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	if out == nil {
		var discard []byte
		return s.Run(ctx, chromedp.Evaluate(expr, &discard))
	}
	return s.Run(ctx, chromedp.Evaluate(expr, out))
}

// Viewport returns the configured viewport dimensions in CSS pixels.
func (s *Session) Viewport() (int, int) {
	return s.cfg.ViewportWidth, s.cfg.ViewportHeight
}

// Close tears down the tab and browser process and removes any throwaway
// profile. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.tabCtx == nil {
		return nil
	}
	s.logger.Debug("Closing browser session")

	done := make(chan struct{})
	go func() {
		s.shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Browser shutdown deadline exceeded", zap.Error(ctx.Err()))
	}

	if s.tempProfile != "" {
		if err := os.RemoveAll(s.tempProfile); err != nil {
			s.logger.Warn("Failed to remove ephemeral profile", zap.Error(err))
		}
		s.tempProfile = ""
	}
	return nil
}

func (s *Session) shutdown() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
		<-s.allocCtx.Done()
	}
	s.tabCtx = nil
	s.tabCancel = nil
	s.allocCancel = nil
}
