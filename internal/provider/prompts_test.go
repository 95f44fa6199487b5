// internal/provider/prompts_test.go
package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTaskPromptDefaultsVerification(t *testing.T) {
	p := buildTaskPrompt(claudeTaskPrefix, "Fill out the application form.", "")

	assert.Contains(t, p, "Fill out the application form.")
	assert.True(t, strings.HasSuffix(p, defaultVerificationPrompt),
		"empty verification must fall back to the default completion check")
}

func TestBuildTaskPromptUsesTaskVerification(t *testing.T) {
	p := buildTaskPrompt(geminiTaskPrefix, "Fill out the application form.",
		"Confirm the thank-you page is shown.")

	assert.True(t, strings.HasSuffix(p, "Confirm the thank-you page is shown."))
	assert.NotContains(t, p, defaultVerificationPrompt)
}
