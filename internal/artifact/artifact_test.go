// internal/artifact/artifact_test.go
package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
)

func testWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter(config.ArtifactsConfig{Dir: t.TempDir(), SaveScreenshots: true}, zap.NewNop())
	w.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return w
}

func TestSaveResultNaming(t *testing.T) {
	w := testWriter(t)

	path, err := w.SaveResult("guidepoint", automation.Result{Success: true, Method: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "guidepoint_20260314_092653_success.json", filepath.Base(path))

	path, err = w.SaveResult("GLG Network", automation.Result{Success: false, Error: "exhausted"})
	require.NoError(t, err)
	assert.Equal(t, "glg-network_20260314_092653_failed.json", filepath.Base(path))
}

func TestSaveResultRoundTrip(t *testing.T) {
	w := testWriter(t)

	in := automation.Result{
		Success:   true,
		Method:    "gemini",
		ProjectID: "4521",
		Attempts:  2,
		Actions:   []automation.LogEntry{{Seq: 1, Kind: "click", Detail: "click at (10, 20)"}},
	}
	path, err := w.SaveResult("coleman", in)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out automation.Result
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Method, out.Method)
	assert.Equal(t, in.ProjectID, out.ProjectID)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, automation.KindClick, out.Actions[0].Kind)
}

func TestSaveFailureScreenshot(t *testing.T) {
	w := testWriter(t)

	path, err := w.SaveFailureScreenshot("guidepoint", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "guidepoint_20260314_092653_failed.png", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestSaveFailureScreenshotDisabled(t *testing.T) {
	w := NewWriter(config.ArtifactsConfig{Dir: t.TempDir(), SaveScreenshots: false}, zap.NewNop())

	path, err := w.SaveFailureScreenshot("guidepoint", []byte("png"))
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "unknown", slug(""))
	assert.Equal(t, "office-hours", slug("Office Hours"))
	assert.Equal(t, "glg_net-2", slug("GLG_Net 2"))
}
