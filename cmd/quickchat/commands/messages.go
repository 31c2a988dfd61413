package commands

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/call"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/chat"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

func parsePeer(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

// imageDataURL reads a file into a base64 data URL
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// formatMessage renders one decrypted message for the terminal
func formatMessage(self uuid.UUID, dm chat.DisplayMessage) string {
	who := dm.SenderID.String()[:8]
	if dm.SenderID == self {
		who = "me"
	}

	var body string
	switch {
	case dm.MessageType == models.MessageTypeCall:
		body = dm.Text
	case dm.Undecryptable:
		body = "[unable to decrypt]"
	case dm.Image != "":
		body = "[image] " + dm.Image
		if dm.Plaintext != "" {
			body = dm.Plaintext + " " + body
		}
	default:
		body = dm.Plaintext
	}

	seen := ""
	if dm.SenderID == self && dm.Seen {
		seen = " ✓"
	}
	return fmt.Sprintf("%s %-8s %s%s", dm.CreatedAt.Local().Format(time.Kitchen), who, body, seen)
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show and decrypt a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			messages, err := c.chat.Open(cmd.Context(), peer)
			if err != nil {
				return err
			}
			for _, dm := range messages {
				fmt.Println(formatMessage(c.session.User.ID, dm))
			}
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "send <user-id> [message]",
		Short: "Encrypt and send a message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}

			var content chat.Content
			if len(args) == 2 {
				content.Text = args[1]
			}
			if imagePath != "" {
				if content.Image, err = imageDataURL(imagePath); err != nil {
					return err
				}
			}

			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			dm, err := c.chat.SendMessage(cmd.Context(), peer, content)
			if err != nil {
				return err
			}
			fmt.Println(formatMessage(c.session.User.ID, *dm))
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "attach an image file")
	return cmd
}

// listen prints live messages until interrupted. With --peer the
// conversation is opened, so its messages are marked seen as they arrive.
// With --accept-calls incoming calls are answered.
func listenCmd() *cobra.Command {
	var peerArg string
	var acceptCalls bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptContext()
			defer stop()

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			self := c.session.User.ID
			c.chat.OnMessage(func(dm chat.DisplayMessage) {
				fmt.Println(formatMessage(self, dm))
			})

			if peerArg != "" {
				peer, err := parsePeer(peerArg)
				if err != nil {
					return err
				}
				history, err := c.chat.Open(ctx, peer)
				if err != nil {
					return err
				}
				for _, dm := range history {
					fmt.Println(formatMessage(self, dm))
				}
			} else {
				if _, err := c.chat.LoadContacts(ctx); err != nil {
					return err
				}
				for id, n := range c.chat.Unseen() {
					fmt.Printf("%d unseen from %s\n", n, id)
				}
			}

			if acceptCalls {
				calls, err := newCallSession(ctx, c)
				if err != nil {
					return err
				}
				defer calls.End()
				calls.OnChange(func(snap call.Snapshot) {
					printCallState(snap)
					if snap.State == call.IncomingRinging {
						go func() {
							if err := calls.Accept(ctx); err != nil {
								fmt.Fprintln(os.Stderr, err)
							}
						}()
					}
				})
			}

			fmt.Println("listening, ctrl-c to quit")
			select {
			case <-ctx.Done():
			case <-c.relay.Done():
				return fmt.Errorf("disconnected from server")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&peerArg, "peer", "", "open the conversation with this user")
	cmd.Flags().BoolVar(&acceptCalls, "accept-calls", false, "answer incoming calls")
	return cmd
}
