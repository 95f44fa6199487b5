// cmd/cmd_test.go
package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpilot/formpilot-cli/internal/config"
)

// runCommand executes a subcommand in isolation with a default test config.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()

	prev := appCfg
	appCfg = config.NewDefaultConfig()
	appCfg.Artifacts.Dir = t.TempDir()
	t.Cleanup(func() { appCfg = prev })

	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestApplyRequiresURL(t *testing.T) {
	err := runCommand(t, newApplyCmd(), "--instructions", "apply to this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--url")
}

func TestApplyRequiresInstructions(t *testing.T) {
	err := runCommand(t, newApplyCmd(), "--url", "https://x.test/invite/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--instructions")
}

func TestApplyFailsWithoutProviderKeys(t *testing.T) {
	// The default test config carries no API keys, so every task fails
	// before a browser is ever launched.
	err := runCommand(t, newApplyCmd(),
		"--url", "https://x.test/invite/1",
		"--instructions", "apply to this",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 tasks failed")
}

func TestApplyReadsTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.txt")
	require.NoError(t, os.WriteFile(path, []byte("fill out the form"), 0o644))

	cmd := newApplyCmd()
	require.NoError(t, cmd.Flags().Set("task-file", path))
	instructions, err := resolveInstructions(cmd)
	require.NoError(t, err)
	assert.Equal(t, "fill out the form", instructions)
}

func TestResolveRetriesPrefersFlag(t *testing.T) {
	cmd := newApplyCmd()
	require.NoError(t, cmd.Flags().Set("retries", "7"))
	assert.Equal(t, 7, resolveRetries(cmd, 3))
}

func TestResolveRetriesFallsBackToConfig(t *testing.T) {
	cmd := newApplyCmd()
	assert.Equal(t, 3, resolveRetries(cmd, 3), "unset flag keeps the configured budget")
}

func TestResolveInstructionsRequiresOne(t *testing.T) {
	_, err := resolveInstructions(newApplyCmd())
	require.Error(t, err)
}

func TestBatchRequiresDashboardURL(t *testing.T) {
	err := runCommand(t, newBatchCmd(), "--instructions", "apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dashboard-url")
}

func TestBatchDeclineAllNeedsNoInstructions(t *testing.T) {
	err := runCommand(t, newBatchCmd(),
		"--dashboard-url", "https://x.test/dashboard",
		"--decline-all",
	)
	// The run itself fails without provider keys, but not on validation.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "--instructions")
}
