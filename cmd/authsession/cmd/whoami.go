package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventduniya/authsession/internal/session"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Restore the session and print the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, client, err := newSession()
		if err != nil {
			return err
		}
		defer m.Close()

		m.Start(ctx)
		snap := m.Snapshot()
		if !snap.IsAuthenticated() {
			return session.ErrNotAuthenticated
		}

		user, err := client.Me(ctx, snap.AccessToken)
		if err != nil {
			return fmt.Errorf("failed to fetch profile: %w", err)
		}
		if err := m.UpdateUser(user); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:       %s\n", user.ID)
		fmt.Fprintf(out, "username: %s\n", user.Username)
		fmt.Fprintf(out, "email:    %s\n", user.Email)
		fmt.Fprintf(out, "role:     %s\n", user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
