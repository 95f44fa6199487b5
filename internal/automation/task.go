// internal/automation/task.go
package automation

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// PlatformConfig carries per-platform knowledge: indicator phrases, dialog
// selectors, and ID extraction hints. All fields are optional; zero values
// fall back to the generic catalogs.
type PlatformConfig struct {
	Name string

	// Indicator phrase lists checked before the generic defaults.
	Success []string
	Failure []string
	Blocked []string

	// Consent dialog extensions.
	BannerSelectors []string
	AcceptSelectors []string

	// DialogHandler takes over consent dismissal entirely when set.
	DialogHandler func(ctx context.Context) (bool, error)

	// ProjectIDPattern overrides the generic URL patterns. It must contain
	// exactly one capture group.
	ProjectIDPattern string
}

// Indicators assembles the platform indicator set.
func (p *PlatformConfig) Indicators() IndicatorSet {
	if p == nil {
		return IndicatorSet{}
	}
	return IndicatorSet{Success: p.Success, Failure: p.Failure, Blocked: p.Blocked}
}

// TaskSpec describes one application run: where to go, what to tell the
// model, and how hard to try. Credentials are read-only inputs; they are
// embedded in instructions for the model but never stored in the trace.
type TaskSpec struct {
	URL          string
	Instructions string
	Username     string
	Password     string

	// VerificationPrompt overrides the generic completion check appended to
	// the instructions. Empty selects the default.
	VerificationPrompt string

	Platform *PlatformConfig

	// Decline switches the run to the decline flow: decline instructions
	// and decline success indicators.
	Decline bool

	MaxIterations int
	MaxRetries    int

	// ProfileDir selects a persistent browser profile for this run.
	ProfileDir string
}

// Validate checks the task before any browser or provider work starts.
func (t *TaskSpec) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("task URL is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("task URL %q must be absolute http(s)", t.URL)
	}
	if strings.TrimSpace(t.Instructions) == "" {
		return fmt.Errorf("task instructions are required")
	}
	if t.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d", t.MaxIterations)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", t.MaxRetries)
	}
	return nil
}

// Indicators returns the effective indicator set for this task. Decline
// runs replace the success list with the decline phrases.
func (t *TaskSpec) Indicators() IndicatorSet {
	set := t.Platform.Indicators()
	if t.Decline {
		set.Success = append(DeclineIndicators(), set.Success...)
	}
	return set
}

// Result is the outcome of a full orchestrated run.
type Result struct {
	Success bool `json:"success"`
	// Method names the provider that completed the run, "claude" or "gemini".
	Method string `json:"method,omitempty"`
	// Actions is the sanitized trace of every executed action.
	Actions []LogEntry `json:"actions"`
	// Error is always non-empty when Success is false.
	Error string `json:"error,omitempty"`
	// Component tags the failing layer: "browser", "provider", or "form".
	Component string `json:"component,omitempty"`
	// ProjectID is extracted from the final URL, best effort.
	ProjectID string `json:"project_id,omitempty"`
	// Attempts counts provider attempts consumed.
	Attempts int `json:"attempts"`
	// FinalScreenshot is the last capture of a failed run, kept for the
	// artifact writer. Never serialized into the result document.
	FinalScreenshot []byte `json:"-"`
}

// Generic URL shapes a record identifier shows up in.
var (
	projectIDParams    = []string{"cpid", "project_id", "projectId", "id", "pid"}
	projectIDPathExprs = []*regexp.Regexp{
		regexp.MustCompile(`/projects?/(\d+)`),
		regexp.MustCompile(`/p/(\d+)`),
		regexp.MustCompile(`/accept/(\d+)`),
		regexp.MustCompile(`/opportunity/(\d+)`),
		regexp.MustCompile(`/applications?/(\d+)`),
	}
)

// ExtractProjectID pulls a record identifier out of a URL, trying the
// platform pattern first, then common query parameters, then path shapes.
// Returns "" when nothing matches.
func ExtractProjectID(rawURL string, platform *PlatformConfig) string {
	if rawURL == "" {
		return ""
	}

	if platform != nil && platform.ProjectIDPattern != "" {
		if re, err := regexp.Compile(platform.ProjectIDPattern); err == nil {
			if m := re.FindStringSubmatch(rawURL); len(m) > 1 {
				return m[1]
			}
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	query := u.Query()
	for _, param := range projectIDParams {
		if v := query.Get(param); v != "" {
			return v
		}
	}
	for _, re := range projectIDPathExprs {
		if m := re.FindStringSubmatch(u.Path); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
