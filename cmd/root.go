// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/internal/config"
	"github.com/karavolt/deskpilot-cli/internal/observability"
)

var (
	cfgFile string
	appCfg  *config.Config
)

// NewRootCommand builds a fresh root command tree. Each invocation gets
// a clean instance so flags never leak between executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deskpilot",
		Short: "Deskpilot executes AI-planned desktop actions behind a human approval gate.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if err != nil {
				// Initialize a fallback logger if config loading fails
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "deskpilot"})
				return fmt.Errorf("failed to load config: %w", err)
			}
			appCfg = cfg

			observability.InitializeLogger(cfg.Logger)

			// Log the version at startup
			observability.GetLogger().Info("Starting deskpilot", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	// Optional: Customize the version output template
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newAutoplanCmd())
	return rootCmd
}

// Execute runs the root command under the given (signal-aware) context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Use the logger if available, otherwise fallback to stderr
		if logger := observability.GetLogger(); logger != nil && logger != zap.NewNop() {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
