package main

import (
	"fmt"

	"github.com/EmilLidir/spinbot-discord/internal/reward"
	"github.com/spf13/cobra"
)

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Print a sample reward summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), reward.Preview().Format())
			return nil
		},
	}
}
