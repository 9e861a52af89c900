// File: cmd/autoplan.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/internal/observability"
	"github.com/karavolt/deskpilot-cli/internal/service"
)

// newAutoplanCmd creates and configures the `autoplan` command.
func newAutoplanCmd() *cobra.Command {
	var planPath string

	autoplanCmd := &cobra.Command{
		Use:   "autoplan [objective...]",
		Short: "Plans actions from a natural-language objective",
		Long: `Asks the inference service to break the objective into typed actions,
validates and previews them, and writes the drafted plan for
'deskpilot exec'. The model only proposes; nothing executes until you
approve it there.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			objective := strings.Join(args, " ")

			components, err := service.NewComponentFactory().Create(ctx, appCfg, service.Options{WithPlanner: true}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			actions, err := components.Planner.Plan(ctx, objective)
			if err != nil {
				return fmt.Errorf("planning failed: %w", err)
			}

			previews, err := components.Pipeline.SubmitPlan(ctx, actions)
			if err != nil {
				return fmt.Errorf("planned actions rejected: %w", err)
			}

			drafted := components.Pipeline.Actions()
			if err := savePlan(planPath, planFile{Actions: drafted, Previews: previews}); err != nil {
				return err
			}

			printPreviews(cmd.OutOrStdout(), drafted, previews)
			resolved, _ := resolvePlanPath(planPath)
			fmt.Fprintf(cmd.OutOrStdout(), "\nPlan written to %s. Run 'deskpilot exec' to review and execute.\n", resolved)
			logger.Info("Autoplan previewed",
				zap.String("objective", objective), zap.Int("actions", len(previews)))
			return nil
		},
	}

	autoplanCmd.Flags().StringVar(&planPath, "plan", "", "Where to write the drafted plan (default: "+defaultPlanPath+")")
	return autoplanCmd
}
