package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := ctx.client().Queue(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, listing)
			}

			stdout := cmd.OutOrStdout()
			if len(listing.Jobs) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(listing.Jobs))
			for _, job := range listing.Jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					strconv.FormatInt(job.ContentID, 10),
					job.Type,
					job.Status,
					fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
					job.UpdatedAt.Local().Format(time.DateTime),
					truncate(job.ErrorMessage, 60),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Content", "Type", "Status", "Retries", "Updated", "Error"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Return finished jobs to the pending state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client := ctx.client()
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				job, err := client.RetryJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Job %d (%s) returned to %s\n", job.ID, job.Type, job.Status)
			}
			return nil
		},
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
