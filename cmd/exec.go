// File: cmd/exec.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/internal/observability"
	"github.com/karavolt/deskpilot-cli/internal/service"
)

// newExecCmd creates and configures the `exec` command.
func newExecCmd() *cobra.Command {
	var planPath string
	var approveAll bool

	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "Reviews a drafted plan and executes the actions you approve",
		Long: `Loads the plan written by 'deskpilot plan' or 'deskpilot autoplan',
re-previews every action against the current host state, and asks for a
decision on each. Only approved actions execute; every outcome is
audited.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			pf, resolved, err := loadPlan(planPath)
			if err != nil {
				return err
			}
			if len(pf.Actions) == 0 {
				return fmt.Errorf("plan %q has no actions", resolved)
			}

			components, err := service.NewComponentFactory().Create(ctx, appCfg, service.Options{}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			// Re-preview against current host state; the plan may be stale.
			previews, err := components.Pipeline.SubmitPlan(ctx, pf.Actions)
			if err != nil {
				return fmt.Errorf("plan no longer previews cleanly: %w", err)
			}
			drafted := components.Pipeline.Actions()
			printPreviews(cmd.OutOrStdout(), drafted, previews)
			fmt.Fprintln(cmd.OutOrStdout())

			reader := bufio.NewReader(cmd.InOrStdin())
			ids := make([]string, 0, len(drafted))
			for i, action := range drafted {
				if action.Status.Terminal() {
					// Already denied during preview; nothing to decide.
					ids = append(ids, action.ID)
					continue
				}
				approved := approveAll
				if !approveAll {
					approved, err = promptDecision(cmd.OutOrStdout(), reader, i+1, previews[i].Summary)
					if err != nil {
						return err
					}
				}
				if approved {
					if _, err := components.Pipeline.Approve(action.ID); err != nil {
						return err
					}
				} else {
					if _, err := components.Pipeline.Deny(ctx, action.ID, "rejected by user"); err != nil {
						return err
					}
				}
				ids = append(ids, action.ID)
			}

			batch := components.Pipeline.ExecuteBatch(ctx, ids)
			fmt.Fprintf(cmd.OutOrStdout(), "\nExecuted %d/%d action(s) successfully.\n", batch.Succeeded(), len(batch.Results))
			for i, r := range batch.Results {
				status := "ok"
				if !r.Success {
					status = "failed: " + r.Error
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, status)
				if path, ok := r.Payload["path"]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "     -> %s\n", path)
				}
			}
			logger.Info("Batch finished",
				zap.Int("succeeded", batch.Succeeded()), zap.Int("total", len(batch.Results)))
			return nil
		},
	}

	execCmd.Flags().StringVar(&planPath, "plan", "", "Plan file to execute (default: "+defaultPlanPath+")")
	execCmd.Flags().BoolVarP(&approveAll, "yes", "y", false, "Approve every action without prompting")
	return execCmd
}

// promptDecision asks for one approval. Anything other than an explicit
// yes denies; the safe default must be refusal.
func promptDecision(w io.Writer, r *bufio.Reader, n int, summary string) (bool, error) {
	fmt.Fprintf(w, "Approve action %d? %s [y/N]: ", n, summary)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("cannot read decision: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
