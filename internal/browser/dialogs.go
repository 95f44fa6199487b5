// internal/browser/dialogs.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var dialogJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// bannerSelectors lists known cookie consent containers in priority order:
// IDs first, then classes, then ARIA and data attributes.
var bannerSelectors = []string{
	// ID-based (highest priority)
	"#cookie-banner",
	"#cookie-consent",
	"#cookie-notice",
	"#cookieConsent",
	"#cookieBanner",
	"#onetrust-banner-sdk", // OneTrust
	"#CybotCookiebotDialog", // Cookiebot

	// Class-based
	".cookie-banner",
	".cookie-consent",
	".cookie-notice",
	".cookieConsent",
	".consent-banner",
	".cookie-bar",
	".cookie-notification",

	// ARIA role-based
	`[role="dialog"][aria-label*="cookie" i]`,
	`[role="dialog"][aria-label*="consent" i]`,
	`[role="region"][aria-label*="cookie" i]`,

	// Data attribute-based
	"[data-cookie-banner]",
	"[data-cookie-consent]",
	`[data-testid*="cookie" i]`,
}

// acceptSelectors lists known accept buttons addressable by CSS.
var acceptSelectors = []string{
	"#accept-cookies",
	"#acceptCookies",
	"#cookie-accept",
	"#onetrust-accept-btn-handler", // OneTrust
	"#CybotCookiebotDialogBodyButtonAccept", // Cookiebot
	".accept-cookies",
	".cookie-accept",
	".accept-all",
	".accept-all-cookies",
	`[data-testid*="accept" i]`,
	`[aria-label*="accept" i]`,
}

// acceptButtonTexts are matched case-insensitively against the visible text
// of button and anchor elements, since CSS has no text selector.
var acceptButtonTexts = []string{
	"Accept All",
	"Allow All Cookies",
	"Accept Cookies",
	"Accept",
	"I Accept",
	"I Agree",
	"Agree",
	"Got it",
	"OK",
	"Confirm My Choice",
	"Confirm",
}

// overlaySelectors lists close controls for generic modals and overlays.
var overlaySelectors = []string{
	`[aria-label="Close"]`,
	`[aria-label="close"]`,
	`[aria-label="Dismiss"]`,
	`[aria-label="dismiss"]`,
	".close-button",
	".modal-close",
	".dialog-close",
	".dismiss-button",
	`[class*="close-icon"]`,
	`[class*="CloseIcon"]`,
}

var overlayButtonTexts = []string{
	"Close",
	"×",
	"X",
	"Dismiss",
	"No thanks",
	"Not now",
	"Skip",
}

// Priority ranks a selector for scan ordering: IDs before classes before
// attribute selectors; anything else last.
func Priority(selector string) int {
	switch {
	case strings.HasPrefix(selector, "#"):
		return 0
	case strings.HasPrefix(selector, "."):
		return 1
	case strings.HasPrefix(selector, "["):
		return 2
	default:
		return 3
	}
}

// DismissStatus is the outcome of a consent dismissal attempt.
type DismissStatus int

const (
	// DialogNotFound means no banner was visible in the first place.
	DialogNotFound DismissStatus = iota
	// DialogDismissed means a banner was found and is no longer visible.
	DialogDismissed
	// DialogStillVisible means the banner survived every attempt.
	DialogStillVisible
)

func (d DismissStatus) String() string {
	switch d {
	case DialogNotFound:
		return "not_found"
	case DialogDismissed:
		return "dismissed"
	case DialogStillVisible:
		return "still_visible"
	default:
		return "unknown"
	}
}

// Handler is a platform hook that takes over dialog dismissal. Returning
// true stops the generic scan.
type Handler func(ctx context.Context, s *Session) (bool, error)

// DismissOptions tunes the consent scan. Zero values select the defaults:
// three attempts, 500ms apart, generic catalogs only.
type DismissOptions struct {
	// ExtraBannerSelectors are platform selectors tried before the catalog.
	ExtraBannerSelectors []string
	// ExtraAcceptSelectors are platform accept buttons tried before the catalog.
	ExtraAcceptSelectors []string
	// Handler short-circuits the generic scan entirely when it reports done.
	Handler Handler
	MaxAttempts int
	RetryDelay  time.Duration
}

const detectBannerJS = `(function(sels){
	for (const sel of sels) {
		let el;
		try { el = document.querySelector(sel); } catch (e) { continue; }
		if (!el) continue;
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		if (r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden') {
			return sel;
		}
	}
	return "";
})(%s)`

const clickAcceptJS = `(function(css, texts){
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden';
	};
	for (const sel of css) {
		let el;
		try { el = document.querySelector(sel); } catch (e) { continue; }
		if (el && visible(el) && !el.disabled) { el.click(); return sel; }
	}
	for (const label of texts) {
		const want = label.toLowerCase();
		for (const el of document.querySelectorAll('button, a, input[type="button"], input[type="submit"]')) {
			if (!visible(el)) continue;
			const t = ((el.innerText || el.value || '')).trim().toLowerCase();
			if (t === want) { el.click(); return 'text:' + label; }
		}
	}
	return "";
})(%s, %s)`

// DismissConsent detects a cookie consent banner and clicks through it,
// retrying stubborn dialogs. A page without a banner is not an error.
func DismissConsent(ctx context.Context, s *Session, opts DismissOptions, logger *zap.Logger) (DismissStatus, error) {
	log := logger.Named("dialogs")

	if opts.Handler != nil {
		done, err := opts.Handler(ctx, s)
		if err != nil {
			log.Warn("Platform dialog handler failed, falling back to generic scan", zap.Error(err))
		} else if done {
			log.Debug("Platform dialog handler dismissed consent")
			return DialogDismissed, nil
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	banners := append(append([]string{}, opts.ExtraBannerSelectors...), bannerSelectors...)
	accepts := append(append([]string{}, opts.ExtraAcceptSelectors...), acceptSelectors...)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		banner, err := firstVisible(ctx, s, banners)
		if err != nil {
			return DialogNotFound, fmt.Errorf("banner detection failed: %w", err)
		}
		if banner == "" {
			if attempt > 1 {
				log.Info("Cookie consent banner dismissed")
				return DialogDismissed, nil
			}
			return DialogNotFound, nil
		}

		clicked, err := clickFirst(ctx, s, accepts, acceptButtonTexts)
		if err != nil {
			return DialogStillVisible, fmt.Errorf("accept click failed: %w", err)
		}
		if clicked == "" {
			log.Debug("Banner visible but no accept button found",
				zap.String("banner", banner),
				zap.Int("attempt", attempt),
			)
			sleepCtx(ctx, retryDelay)
			continue
		}

		log.Debug("Clicked consent accept control",
			zap.String("banner", banner),
			zap.String("button", clicked),
			zap.Int("attempt", attempt),
		)
		sleepCtx(ctx, retryDelay)

		still, err := firstVisible(ctx, s, []string{banner})
		if err == nil && still == "" {
			log.Info("Cookie consent banner dismissed", zap.String("button", clicked))
			return DialogDismissed, nil
		}
	}

	log.Warn("Cookie consent banner still visible after retries")
	return DialogStillVisible, nil
}

// DismissOverlays closes generic modal overlays (newsletter prompts, app
// nags). Returns how many close controls were clicked.
func DismissOverlays(ctx context.Context, s *Session, logger *zap.Logger) (int, error) {
	log := logger.Named("dialogs")
	closed := 0
	for i := 0; i < 3; i++ {
		clicked, err := clickFirst(ctx, s, overlaySelectors, overlayButtonTexts)
		if err != nil {
			return closed, err
		}
		if clicked == "" {
			break
		}
		closed++
		log.Debug("Closed overlay", zap.String("control", clicked))
		sleepCtx(ctx, 300*time.Millisecond)
	}
	return closed, nil
}

func firstVisible(ctx context.Context, s *Session, selectors []string) (string, error) {
	sels, err := dialogJSON.Marshal(selectors)
	if err != nil {
		return "", err
	}
	var found string
	if err := s.Evaluate(ctx, fmt.Sprintf(detectBannerJS, sels), &found); err != nil {
		return "", err
	}
	return found, nil
}

func clickFirst(ctx context.Context, s *Session, selectors, texts []string) (string, error) {
	sels, err := dialogJSON.Marshal(selectors)
	if err != nil {
		return "", err
	}
	labels, err := dialogJSON.Marshal(texts)
	if err != nil {
		return "", err
	}
	var clicked string
	if err := s.Evaluate(ctx, fmt.Sprintf(clickAcceptJS, sels, labels), &clicked); err != nil {
		return "", err
	}
	return clicked, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
