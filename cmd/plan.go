// File: cmd/plan.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/observability"
	"github.com/karavolt/deskpilot-cli/internal/service"
)

// actionInput is the wire shape users write by hand.
type actionInput struct {
	Type             string            `json:"type"`
	Params           map[string]string `json:"params"`
	PreviewOnly      bool              `json:"preview_only"`
	SandboxOnly      bool              `json:"sandbox_only"`
	FallbackEligible bool              `json:"fallback_eligible"`
}

// newPlanCmd creates and configures the `plan` command.
func newPlanCmd() *cobra.Command {
	var inputPath string
	var planPath string

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Validates and previews a batch of actions without executing anything",
		Long: `Reads a JSON array of actions from --input (or stdin), validates each
against its schema, previews what each would do, and writes the drafted
plan for 'deskpilot exec'. Nothing on the host changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			inputs, err := readActionInputs(inputPath)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no actions in input")
			}

			components, err := service.NewComponentFactory().Create(ctx, appCfg, service.Options{}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			actions := buildActions(inputs)

			previews, err := components.Pipeline.SubmitPlan(ctx, actions)
			if err != nil {
				return fmt.Errorf("plan rejected: %w", err)
			}

			drafted := components.Pipeline.Actions()
			if err := savePlan(planPath, planFile{Actions: drafted, Previews: previews}); err != nil {
				return err
			}

			printPreviews(cmd.OutOrStdout(), drafted, previews)
			resolved, _ := resolvePlanPath(planPath)
			fmt.Fprintf(cmd.OutOrStdout(), "\nPlan written to %s. Run 'deskpilot exec' to review and execute.\n", resolved)
			logger.Info("Plan previewed", zap.Int("actions", len(previews)))
			return nil
		},
	}

	planCmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSON action file to plan (default: stdin)")
	planCmd.Flags().StringVar(&planPath, "plan", "", "Where to write the drafted plan (default: "+defaultPlanPath+")")
	return planCmd
}

// buildActions turns wire inputs into drafted actions, carrying the
// per-action routing flags through.
func buildActions(inputs []actionInput) []schemas.Action {
	actions := make([]schemas.Action, len(inputs))
	for i, in := range inputs {
		a := schemas.NewAction(schemas.ActionType(in.Type), in.Params)
		a.PreviewOnly = in.PreviewOnly
		a.SandboxOnly = in.SandboxOnly
		a.FallbackEligible = in.FallbackEligible
		actions[i] = a
	}
	return actions
}

func readActionInputs(path string) ([]actionInput, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read actions: %w", err)
	}
	var inputs []actionInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("input is not a JSON action array: %w", err)
	}
	return inputs, nil
}

func printPreviews(w io.Writer, actions []schemas.Action, previews []schemas.PreviewSummary) {
	fmt.Fprintf(w, "Plan: %d action(s)\n\n", len(previews))
	for i, p := range previews {
		actionType := ""
		if i < len(actions) {
			actionType = string(actions[i].Type)
		}
		fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, actionType, p.Summary)
		fmt.Fprintf(w, "     target: %s\n", p.TargetDescriptor)
	}
}
