package cmd

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Restore the session and keep it renewed until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, _, err := newSession()
		if err != nil {
			return err
		}
		defer m.Close()

		m.Start(ctx)
		follow(ctx, cmd.OutOrStdout(), m)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
