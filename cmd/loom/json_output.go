package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON prints v to the command's stdout as indented JSON, for the
// --json flag on read commands.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
