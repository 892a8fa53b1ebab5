package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/api"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var title string
	var language string
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue <external-id> <source-url>",
		Short: "Register a content item and schedule transcript extraction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.EnqueueRequest{
				ExternalID: strings.TrimSpace(args[0]),
				SourceURL:  strings.TrimSpace(args[1]),
				Title:      title,
				Language:   language,
			}
			if priority > 0 {
				req.Priority = &priority
			}

			resp, err := ctx.client().Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued content %d (%s) as job %d (%s)\n",
				resp.Content.ID, resp.Content.ExternalID, resp.Job.ID, resp.Job.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Content title")
	cmd.Flags().StringVar(&language, "language", "", "Preferred transcript language")
	cmd.Flags().IntVar(&priority, "priority", 0, "Job priority (higher runs first)")
	return cmd
}
