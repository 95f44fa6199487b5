// cmd/apply.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formpilot/formpilot-cli/internal/artifact"
	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/observability"
	"github.com/formpilot/formpilot-cli/internal/orchestrator"
)

// newApplyCmd creates and configures the `apply` command.
func newApplyCmd() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply to (or decline) one or more invitations by URL",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config and env.
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			urls, _ := cmd.Flags().GetStringSlice("url")
			if len(urls) == 0 {
				return fmt.Errorf("at least one --url is required")
			}

			instructions, err := resolveInstructions(cmd)
			if err != nil {
				return err
			}

			verification, _ := cmd.Flags().GetString("verification-prompt")
			platform, _ := cmd.Flags().GetString("platform")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			decline, _ := cmd.Flags().GetBool("decline")
			profileDir, _ := cmd.Flags().GetString("profile-dir")
			parallel, _ := cmd.Flags().GetInt("parallel")
			if parallel < 1 {
				parallel = 1
			}

			orch := orchestrator.New(appCfg, logger)
			writer := artifact.NewWriter(appCfg.Artifacts, logger)

			results := make([]automation.Result, len(urls))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(parallel)
			for i, url := range urls {
				g.Go(func() error {
					task := &automation.TaskSpec{
						URL:                url,
						Instructions:       instructions,
						VerificationPrompt: verification,
						Username:           username,
						Password:           password,
						Decline:            decline,
						MaxRetries:         resolveRetries(cmd, appCfg.Automation.MaxRetries),
						ProfileDir:         profileDir,
					}
					if platform != "" {
						task.Platform = &automation.PlatformConfig{Name: platform}
					}

					res := orch.Run(gctx, task)
					results[i] = res

					if path, err := writer.SaveResult(platform, res); err != nil {
						logger.Warn("Could not save result artifact", zap.Error(err))
					} else {
						logger.Info("Result saved", zap.String("path", path), zap.Bool("success", res.Success))
					}
					if !res.Success {
						if _, err := writer.SaveFailureScreenshot(platform, res.FinalScreenshot); err != nil {
							logger.Warn("Could not save failure screenshot", zap.Error(err))
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			succeeded := 0
			for _, res := range results {
				if res.Success {
					succeeded++
				}
			}
			logger.Info("Apply run finished",
				zap.Int("total", len(results)),
				zap.Int("succeeded", succeeded),
			)
			if succeeded < len(results) {
				return fmt.Errorf("%d of %d tasks failed", len(results)-succeeded, len(results))
			}
			return nil
		},
	}

	applyCmd.Flags().StringSlice("url", nil, "invitation URL (repeatable)")
	applyCmd.Flags().String("instructions", "", "task instructions for the model")
	applyCmd.Flags().String("task-file", "", "file containing task instructions")
	applyCmd.Flags().String("verification-prompt", "", "completion check appended to the instructions")
	applyCmd.Flags().String("platform", "", "platform name for indicators and artifact naming")
	applyCmd.Flags().String("username", "", "platform login username")
	applyCmd.Flags().String("password", "", "platform login password")
	applyCmd.Flags().Bool("decline", false, "decline the invitation instead of applying")
	applyCmd.Flags().Int("retries", 0, "provider attempts per task (0 uses config)")
	applyCmd.Flags().String("profile-dir", "", "persistent browser profile directory")
	applyCmd.Flags().Int("parallel", 1, "tasks to run concurrently")

	return applyCmd
}

// resolveRetries prefers an explicit --retries flag over the configured
// budget. Config unmarshalling happens in the root command before subcommand
// flags are bound into viper, so the flag is read directly.
func resolveRetries(cmd *cobra.Command, configured int) int {
	if retries, err := cmd.Flags().GetInt("retries"); err == nil && retries > 0 {
		return retries
	}
	return configured
}

// resolveInstructions takes --instructions or the contents of --task-file.
func resolveInstructions(cmd *cobra.Command) (string, error) {
	instructions, _ := cmd.Flags().GetString("instructions")
	taskFile, _ := cmd.Flags().GetString("task-file")

	if taskFile != "" {
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return "", fmt.Errorf("read task file: %w", err)
		}
		instructions = string(data)
	}
	if strings.TrimSpace(instructions) == "" {
		return "", fmt.Errorf("either --instructions or --task-file is required")
	}
	return instructions, nil
}
