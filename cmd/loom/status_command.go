package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			runningKind := statusError
			runningMsg := "not running"
			if status.Running {
				runningKind = statusOK
				runningMsg = fmt.Sprintf("pid %d", status.PID)
			}
			fmt.Fprintln(stdout, renderStatusLine("Running", runningKind, runningMsg, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d", status.Workers), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := queueDepthRows(status.Queue)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func queueDepthRows(depth map[string]int) [][]string {
	statuses := make([]string, 0, len(depth))
	for status, count := range depth {
		if count > 0 {
			statuses = append(statuses, status)
		}
	}
	sort.Strings(statuses)

	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status, fmt.Sprintf("%d", depth[status])})
	}
	return rows
}
