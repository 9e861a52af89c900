// File: cmd/logs.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/audit"
	"github.com/karavolt/deskpilot-cli/internal/observability"
)

// newLogsCmd creates and configures the `logs` command.
func newLogsCmd() *cobra.Command {
	var limit int
	var follow bool
	var asJSON bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Shows the audit trail of executed, denied and failed actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			reader := audit.NewReader(appCfg.Audit.Path, logger)

			entries, err := reader.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				printEntry(cmd, e, asJSON)
			}
			if len(entries) == 0 && !follow {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit entries yet.")
			}

			if !follow {
				return nil
			}
			stream, err := reader.Follow(ctx)
			if err != nil {
				return err
			}
			for e := range stream {
				printEntry(cmd, e, asJSON)
			}
			return nil
		},
	}

	logsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries to show")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new entries as they are appended")
	logsCmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON entries")
	return logsCmd
}

func printEntry(cmd *cobra.Command, e schemas.AuditEntry, asJSON bool) {
	if asJSON {
		if data, err := json.Marshal(e); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
		return
	}
	line := fmt.Sprintf("%s  %-8s  %-18s  %s",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, e.ActionType, e.ResultSummary)
	if e.Error != "" {
		line += "  (" + e.Error + ")"
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
