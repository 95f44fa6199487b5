// internal/orchestrator/batch_test.go
package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
		ok   bool
	}{
		{"parenthesized invitations", "Dashboard / Invitations (13) / Archive", 13, true},
		{"count before word", "You have 4 invitations waiting", 4, true},
		{"projects", "Projects (2)", 2, true},
		{"pending", "7 pending responses", 7, true},
		{"requests", "Requests (9)", 9, true},
		{"open tab", "Open (3) Closed (12)", 3, true},
		{"case insensitive", "INVITATIONS (5)", 5, true},
		{"no count", "Welcome back to your dashboard", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchCount(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBatchSpecValidate(t *testing.T) {
	assert.Error(t, (&BatchSpec{}).validate())
	assert.Error(t, (&BatchSpec{DashboardURL: "https://x.test/dash"}).validate())
	assert.NoError(t, (&BatchSpec{DashboardURL: "https://x.test/dash", DeclineAll: true}).validate())
	assert.NoError(t, (&BatchSpec{DashboardURL: "https://x.test/dash", Instructions: "apply"}).validate())
}

func TestLoginSelectorCatalogs(t *testing.T) {
	// Capitalized field names come first; some networks use them on
	// table-based forms and the lowercase variants would miss.
	assert.Equal(t, `input[name="Email"]`, emailSelectors[0])
	assert.Equal(t, `input[name="Password"]`, passwordSelectors[0])
	assert.Equal(t, `input[value="Log In"]`, loginButtonSelectors[0])
	assert.Contains(t, cardLinkSelectors, `a[href*="/consultation/"]`)
}
