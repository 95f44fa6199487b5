// internal/artifact/artifact.go

// Package artifact persists run records: one JSON document per task and a
// screenshot for failed runs. Everything written here has already been
// through credential sanitization.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const timestampLayout = "20060102_150405"

// Writer drops run artifacts into a flat directory.
type Writer struct {
	dir             string
	saveScreenshots bool
	logger          *zap.Logger

	// now is swappable for deterministic filenames in tests.
	now func() time.Time
}

func NewWriter(cfg config.ArtifactsConfig, logger *zap.Logger) *Writer {
	return &Writer{
		dir:             cfg.Dir,
		saveScreenshots: cfg.SaveScreenshots,
		logger:          logger.Named("artifact"),
		now:             time.Now,
	}
}

// SaveResult writes one task result as
// {platform}_{timestamp}_{success|failed}.json and returns the path.
func (w *Writer) SaveResult(platform string, result automation.Result) (string, error) {
	return w.save(platform, result.Success, result)
}

// SaveBatch writes a batch summary under the same naming scheme.
func (w *Writer) SaveBatch(platform string, succeeded bool, payload any) (string, error) {
	return w.save(platform, succeeded, payload)
}

func (w *Writer) save(platform string, success bool, payload any) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	status := "failed"
	if success {
		status = "success"
	}
	name := fmt.Sprintf("%s_%s_%s.json", slug(platform), w.now().Format(timestampLayout), status)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}

	w.logger.Info("Saved run artifact", zap.String("path", path), zap.String("status", status))
	return path, nil
}

// SaveFailureScreenshot keeps the last screenshot of a failed run for
// debugging. No-op when screenshots are disabled or the run passed.
func (w *Writer) SaveFailureScreenshot(platform string, png []byte) (string, error) {
	if !w.saveScreenshots || len(png) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s_failed.png", slug(platform), w.now().Format(timestampLayout))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	w.logger.Info("Saved failure screenshot", zap.String("path", path))
	return path, nil
}

// slug makes a platform name filesystem-safe.
func slug(platform string) string {
	if platform == "" {
		return "unknown"
	}
	platform = strings.ToLower(platform)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, platform)
}
