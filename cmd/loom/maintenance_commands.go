package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/integrity"
	"loom/internal/recovery"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run an integrity scan now",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.client().Scan(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			printIntegrityReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run a recovery sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.client().Recover(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			printRecoveryReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the latest sweep reports and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Report(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}

			stdout := cmd.OutOrStdout()
			if resp.Integrity == nil && resp.Recovery == nil {
				fmt.Fprintln(stdout, "No sweep has run yet")
			}
			if resp.Integrity != nil {
				printIntegrityReport(cmd, resp.Integrity)
			}
			if resp.Recovery != nil {
				fmt.Fprintln(stdout)
				printRecoveryReport(cmd, resp.Recovery)
			}
			if len(resp.Alerts) > 0 {
				fmt.Fprintln(stdout)
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Recent Alerts", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, alert := range resp.Alerts {
					kind := statusInfo
					switch alert.Severity {
					case "warning":
						kind = statusWarn
					case "critical":
						kind = statusError
					}
					label := alert.Time.Local().Format(time.DateTime)
					fmt.Fprintln(stdout, renderStatusLine(label, kind, alert.Message, colorize))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printIntegrityReport(cmd *cobra.Command, report *integrity.Report) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader("Integrity", colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Scanned", statusInfo, fmt.Sprintf("%d content items", report.ScannedContent), colorize))
	foundKind := statusOK
	if report.IssuesFound > report.IssuesFixed {
		foundKind = statusError
	} else if report.IssuesFound > 0 {
		foundKind = statusWarn
	}
	fmt.Fprintln(stdout, renderStatusLine("Issues", foundKind, fmt.Sprintf("%d found, %d fixed", report.IssuesFound, report.IssuesFixed), colorize))
	for _, issue := range report.Details {
		kind := statusWarn
		if issue.Fixed {
			kind = statusOK
		}
		fmt.Fprintln(stdout, renderStatusLine(issue.Type, kind, issue.Description, colorize))
	}
}

func printRecoveryReport(cmd *cobra.Command, report *recovery.Report) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader("Recovery", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := [][]string{
		{"stuck retried", fmt.Sprintf("%d", report.StuckRetried)},
		{"stuck exhausted", fmt.Sprintf("%d", report.StuckExhausted)},
		{"failed retried", fmt.Sprintf("%d", report.FailedRetried)},
		{"failed exhausted", fmt.Sprintf("%d", report.FailedExhausted)},
		{"non-retryable", fmt.Sprintf("%d", report.NonRetryable)},
		{"orphans cancelled", fmt.Sprintf("%d", report.OrphansCancelled)},
		{"duplicates removed", fmt.Sprintf("%d", report.DuplicatesRemoved)},
		{"terminal pruned", fmt.Sprintf("%d", report.TerminalPruned)},
	}
	fmt.Fprintln(stdout, renderTable([]string{"Action", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
