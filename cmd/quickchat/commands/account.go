package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/auth"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/crypto"
)

// signup generates the key pair locally and uploads only the wrapped form
func signupCmd() *cobra.Command {
	var name, email, bio string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its encryption keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassword(); err != nil {
				return err
			}

			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer kp.Wipe()

			bundle, err := bundleFor(kp, password)
			if err != nil {
				return err
			}

			token, user, err := api.Signup(cmd.Context(), auth.SignupRequest{
				FullName: name,
				Email:    email,
				Password: password,
				Bio:      bio,
				Keys:     bundle,
			})
			if err != nil {
				return err
			}

			if err := saveSession(cfg.Client.TokenFile, &savedSession{Token: token, User: user, Keys: bundle}); err != nil {
				return err
			}
			fmt.Printf("signed up as %s (%s)\nkey fingerprint %s\n", user.FullName, user.ID, crypto.KeyFingerprint(kp.Public))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&bio, "bio", "", "short bio")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func loginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassword(); err != nil {
				return err
			}

			token, user, bundle, err := api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			saved := &savedSession{Token: token, User: user, Keys: *bundle}
			// fail here rather than on first use if the password cannot open the key
			keys, err := saved.unlock(password)
			if err != nil {
				return fmt.Errorf("failed to unlock private key: %w", err)
			}
			keys.Lock()

			if err := saveSession(cfg.Client.TokenFile, saved); err != nil {
				return err
			}
			fmt.Printf("logged in as %s (%s)\n", user.FullName, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := os.Remove(cfg.Client.TokenFile)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func authedAPI() (*savedSession, error) {
	saved, err := loadSession(cfg.Client.TokenFile)
	if err != nil {
		return nil, err
	}
	api = api.WithToken(saved.Token)
	return saved, nil
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			saved, err := authedAPI()
			if err != nil {
				return err
			}
			user, err := api.Me(cmd.Context())
			if err != nil {
				return err
			}
			pub, err := crypto.DecodeKey(saved.Keys.PublicKey)
			if err != nil {
				return err
			}
			fmt.Printf("%s <%s>\nid          %s\nfingerprint %s\n", user.FullName, user.Email, user.ID, crypto.KeyFingerprint(pub))
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find users by name or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := authedAPI(); err != nil {
				return err
			}
			users, err := api.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s  %s <%s>\n", u.ID, u.FullName, u.Email)
			}
			return nil
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List conversations with unseen counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := authedAPI(); err != nil {
				return err
			}
			users, counts, err := api.Contacts(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				line := fmt.Sprintf("%s  %s", u.ID, u.FullName)
				if n := counts[u.ID]; n > 0 {
					line += fmt.Sprintf("  (%d unseen)", n)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
