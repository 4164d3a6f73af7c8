package main

import "github.com/spf13/cobra"

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model inspection and verification commands",
	}

	cmd.AddCommand(newModelInspectCmd())
	cmd.AddCommand(newModelVerifyCmd())
	return cmd
}
