package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Restore the session, then end it on the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, _, err := newSession()
		if err != nil {
			return err
		}
		defer m.Close()

		m.Start(ctx)
		if !m.Snapshot().IsAuthenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "no session to end")
			return nil
		}

		m.SignOut(ctx)
		printSnapshot(cmd.OutOrStdout(), m.Snapshot())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
