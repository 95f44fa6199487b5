// cmd/batch.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/artifact"
	"github.com/formpilot/formpilot-cli/internal/automation"
	"github.com/formpilot/formpilot-cli/internal/observability"
	"github.com/formpilot/formpilot-cli/internal/orchestrator"
)

// newBatchCmd creates and configures the `batch` command.
func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Process every open invitation on a dashboard in one session",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("automation.batch_max_cards", cmd.Flags().Lookup("max-cards")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			dashboardURL, _ := cmd.Flags().GetString("dashboard-url")
			if dashboardURL == "" {
				return fmt.Errorf("--dashboard-url is required")
			}

			declineAll, _ := cmd.Flags().GetBool("decline-all")
			instructions := ""
			if !declineAll {
				var err error
				instructions, err = resolveInstructions(cmd)
				if err != nil {
					return err
				}
			}

			platform, _ := cmd.Flags().GetString("platform")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			maxCards, _ := cmd.Flags().GetInt("max-cards")
			profileDir, _ := cmd.Flags().GetString("profile-dir")

			spec := &orchestrator.BatchSpec{
				DashboardURL: dashboardURL,
				Username:     username,
				Password:     password,
				Instructions: instructions,
				DeclineAll:   declineAll,
				MaxCards:     maxCards,
				ProfileDir:   profileDir,
			}
			if platform != "" {
				spec.Platform = &automation.PlatformConfig{Name: platform}
			}

			orch := orchestrator.New(appCfg, logger)
			result := orch.RunBatch(ctx, spec)

			writer := artifact.NewWriter(appCfg.Artifacts, logger)
			succeeded := result.Succeeded > 0 && result.Error == ""
			if path, err := writer.SaveBatch(platform, succeeded, result); err != nil {
				logger.Warn("Could not save batch artifact", zap.Error(err))
			} else {
				logger.Info("Batch summary saved", zap.String("path", path))
			}

			logger.Info("Batch run finished",
				zap.Int("processed", result.Processed),
				zap.Int("succeeded", result.Succeeded),
			)
			if result.Error != "" {
				return fmt.Errorf("batch run: %s", result.Error)
			}
			return nil
		},
	}

	batchCmd.Flags().String("dashboard-url", "", "platform dashboard URL")
	batchCmd.Flags().String("instructions", "", "per-card task instructions for the model")
	batchCmd.Flags().String("task-file", "", "file containing per-card instructions")
	batchCmd.Flags().String("platform", "", "platform name for indicators and artifact naming")
	batchCmd.Flags().String("username", "", "platform login username")
	batchCmd.Flags().String("password", "", "platform login password")
	batchCmd.Flags().Bool("decline-all", false, "decline every invitation instead of applying")
	batchCmd.Flags().Int("max-cards", 0, "cap on invitations to process (0 uses config)")
	batchCmd.Flags().String("profile-dir", "", "persistent browser profile directory")

	return batchCmd
}
