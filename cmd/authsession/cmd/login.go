package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eventduniya/authsession/internal/session"
)

var (
	loginUsername string
	loginPassword string
	loginGoogle   string
	loginWatch    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with username and password or a Google credential",
	Long: `Sign in interactively. Without --password the password is read from the
first line of standard input. With --watch the session is kept renewed
until interrupted.

The refresh cookie lives in memory only and is dropped when the command
exits, so a later whoami or logout cannot resume this session on its own.
Pass a refresh credential obtained elsewhere with --refresh-cookie, or use
--watch to keep the session in this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, _, err := newSession()
		if err != nil {
			return err
		}
		defer m.Close()

		if loginGoogle != "" {
			err = m.SignInWithGoogle(ctx, loginGoogle)
		} else {
			if loginUsername == "" {
				return errors.New("--username or --google is required")
			}
			password := loginPassword
			if password == "" {
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}
			err = m.SignIn(ctx, session.Credentials{Username: loginUsername, Password: password})
		}
		if err != nil {
			return err
		}

		printSnapshot(cmd.OutOrStdout(), m.Snapshot())
		if loginWatch {
			follow(ctx, cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Account username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password (read from stdin when omitted)")
	loginCmd.Flags().StringVar(&loginGoogle, "google", "", "Google identity credential")
	loginCmd.Flags().BoolVarP(&loginWatch, "watch", "w", false, "Keep the session renewed until interrupted")
	loginCmd.MarkFlagsMutuallyExclusive("username", "google")
}
