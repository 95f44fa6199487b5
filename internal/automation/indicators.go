// internal/automation/indicators.go
package automation

import "strings"

// Generic completion phrases scanned on every verification pass. Platform
// lists take precedence; see MatchIndicator.
var defaultSuccessIndicators = []string{
	"application submitted",
	"successfully submitted",
	"submission confirmed",
	"successfully completed",
	"you're all set",
	"thank you for applying",
	"we'll be in touch",
	"application received",
	"thank you for your submission",
	"submission successful",
	"form submitted",
	"your request has been submitted",
	"we have received your",
	"your application is complete",
}

var defaultFailureIndicators = []string{
	"unable to submit",
	"submission failed",
	"error occurred",
	"please try again",
	"something went wrong",
	"form could not be submitted",
	"validation error",
	"required field",
	"invalid input",
}

// Blocked states mean the opportunity itself is gone; retrying is pointless.
var defaultBlockedIndicators = []string{
	"already declined",
	"no longer available",
	"opportunity expired",
	"invitation expired",
	"project closed",
	"application closed",
	"no longer accepting",
	"deadline passed",
	"position filled",
	"opportunity unavailable",
}

var defaultDeclineIndicators = []string{
	"invitation declined",
	"declined invitation",
	"successfully declined",
	"your response has been recorded",
}

// workflowStages maps a stage name to marker phrases, scanned in order.
// Used only for progress logging, never for termination decisions.
var workflowStages = []struct {
	Name     string
	Keywords []string
}{
	{"application_form", []string{"application", "apply", "express interest", "fill out"}},
	{"scheduling", []string{"availability", "schedule", "calendar", "select time", "book a time"}},
	{"confirmation", []string{"confirm", "review", "summary", "final step"}},
	{"completion", []string{"complete", "done", "finished", "all set", "thank you"}},
}

// IndicatorSet bundles the phrase lists consulted during verification.
// Platform-specific entries are checked before the generic defaults.
type IndicatorSet struct {
	Success []string
	Failure []string
	Blocked []string
}

// MatchIndicator scans page text for the first phrase from extra (platform
// list) then defaults. Matching is case-insensitive substring. Returns the
// matched phrase, or "".
func MatchIndicator(pageText string, extra, defaults []string) string {
	lower := strings.ToLower(pageText)
	for _, phrase := range extra {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return phrase
		}
	}
	for _, phrase := range defaults {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	return ""
}

// MatchSuccess returns the matched success phrase, platform list first.
func (s IndicatorSet) MatchSuccess(pageText string) string {
	return MatchIndicator(pageText, s.Success, defaultSuccessIndicators)
}

// MatchFailure returns the matched failure phrase, platform list first.
func (s IndicatorSet) MatchFailure(pageText string) string {
	return MatchIndicator(pageText, s.Failure, defaultFailureIndicators)
}

// MatchBlocked returns the matched blocked phrase, platform list first.
// Blocked is checked before success and failure during verification.
func (s IndicatorSet) MatchBlocked(pageText string) string {
	return MatchIndicator(pageText, s.Blocked, defaultBlockedIndicators)
}

// DeclineIndicators returns the success phrases for the decline flow.
func DeclineIndicators() []string {
	return append([]string{}, defaultDeclineIndicators...)
}

// DetectStage names the workflow stage the page appears to be in, or "".
func DetectStage(pageText string) string {
	lower := strings.ToLower(pageText)
	for _, stage := range workflowStages {
		for _, kw := range stage.Keywords {
			if strings.Contains(lower, kw) {
				return stage.Name
			}
		}
	}
	return ""
}
