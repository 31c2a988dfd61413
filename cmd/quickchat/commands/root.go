package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/chat"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/config"
)

var (
	configPath string
	serverURL  string
	password   string

	cfg *config.Config
	api *chat.HTTPAPI
)

func Execute() error {
	root := &cobra.Command{
		Use:          "quickchat",
		Short:        "End-to-end encrypted chat and calls from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
			if password == "" {
				password = os.Getenv("QUICKCHAT_PASSWORD")
			}
			api = chat.NewHTTPAPI(cfg.Client.ServerURL, "")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $QUICKCHAT_CONFIG)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (overrides client.server_url)")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "account password (default $QUICKCHAT_PASSWORD)")

	root.AddCommand(
		signupCmd(),
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		searchCmd(),
		contactsCmd(),
		historyCmd(),
		sendCmd(),
		listenCmd(),
		callCmd(),
	)
	return root.Execute()
}

func requirePassword() error {
	if password == "" {
		return fmt.Errorf("password required (-p or QUICKCHAT_PASSWORD)")
	}
	return nil
}

// interruptContext is cancelled on SIGINT or SIGTERM
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
