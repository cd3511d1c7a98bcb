package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventduniya/authsession/internal/session"
)

var (
	registration session.Registration
	signupArtist bool
	signupWatch  bool
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Register a user or artist account and sign in",
	Long: `Register an account and sign it in. Without --password the password is
read from the first line of standard input.

As with login, the refresh cookie is held in memory and dropped on exit;
use --watch to keep the new session renewed in this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg := registration
		if reg.Username == "" || reg.Email == "" {
			return errors.New("--username and --email are required")
		}
		if reg.Password == "" {
			password, err := readLine(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			reg.Password = password
		}
		reg.Role = session.RoleUser
		if signupArtist {
			reg.Role = session.RoleArtist
		}

		m, _, err := newSession()
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.SignUp(ctx, reg); err != nil {
			return err
		}

		printSnapshot(cmd.OutOrStdout(), m.Snapshot())
		if signupWatch {
			follow(ctx, cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signupCmd)

	f := signupCmd.Flags()
	f.StringVarP(&registration.Username, "username", "u", "", "Account username")
	f.StringVarP(&registration.Email, "email", "e", "", "Account email")
	f.StringVarP(&registration.Password, "password", "p", "", "Account password (read from stdin when omitted)")
	f.BoolVar(&signupArtist, "artist", false, "Register an artist account")
	f.BoolVarP(&signupWatch, "watch", "w", false, "Keep the session renewed until interrupted")

	// artist profile
	f.StringVar(&registration.City, "city", "", "City")
	f.StringVar(&registration.State, "state", "", "State")
	f.StringVar(&registration.Country, "country", "", "Country")
	f.StringVar(&registration.Pincode, "pincode", "", "Postal code")
	f.StringVar(&registration.PhoneNumber, "phone", "", "Phone number")
	f.StringVar(&registration.Tag, "tag", "", "Artist category, e.g. singer")
	f.StringVar(&registration.Bio, "bio", "", "Short biography")
	f.StringVar(&registration.VideoLink1, "video1", "", "Showcase video link")
	f.StringVar(&registration.VideoLink2, "video2", "", "Showcase video link")
	f.StringVar(&registration.VideoLink3, "video3", "", "Showcase video link")
	f.StringVar(&registration.Instagram, "instagram", "", "Instagram profile")
	f.StringVar(&registration.Twitter, "twitter", "", "Twitter profile")
	f.StringVar(&registration.Youtube, "youtube", "", "YouTube channel")
	f.StringVar(&registration.Facebook, "facebook", "", "Facebook page")
	f.StringVar(&registration.Tiktok, "tiktok", "", "TikTok profile")
}
