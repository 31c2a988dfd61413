package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/call"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// callEvents are the relay events a call session consumes
var callEvents = []string{
	models.EventIncomingCall,
	models.EventCallAccepted,
	models.EventCallRejected,
	models.EventCallEnded,
	models.EventICECandidate,
	models.EventVideoMuteStatus,
}

// newCallSession builds a call session on the connected relay. Local tracks
// are sample-fed; the terminal client has no capture device.
func newCallSession(ctx context.Context, c *online) (*call.Session, error) {
	servers, err := c.api.ICEServers(ctx)
	if err != nil {
		log.Printf("[ICE] Falling back to configured STUN servers: %v", err)
		for _, url := range cfg.ICE.STUNServers {
			servers = append(servers, models.ICEServer{URLs: []string{url}})
		}
	}

	peers, err := call.NewPionFactory(servers)
	if err != nil {
		return nil, err
	}

	sess := call.NewSession(c.relay, call.TrackSource{StreamID: "quickchat-" + c.session.User.ID.String()}, peers)
	for _, event := range callEvents {
		c.relay.On(event, func(raw json.RawMessage) {
			sess.HandleEvent(event, raw)
		})
	}
	c.relay.OnDisconnect(sess.HandleDisconnect)
	return sess, nil
}

func printCallState(snap call.Snapshot) {
	switch snap.State {
	case call.Idle:
		fmt.Println("call: idle")
	case call.Outgoing:
		fmt.Printf("call: ringing %s (%s)\n", snap.PeerID, snap.CallType)
	case call.IncomingRinging:
		name := snap.CallerInfo.FullName
		if name == "" {
			name = snap.PeerID
		}
		fmt.Printf("call: incoming %s call from %s\n", snap.CallType, name)
	case call.Active:
		line := fmt.Sprintf("call: connected with %s (%s)", snap.PeerID, snap.CallType)
		if !snap.StartedAt.IsZero() {
			line += " " + call.FormatDuration(time.Since(snap.StartedAt))
		}
		if snap.RemoteVideoMuted {
			line += ", peer camera off"
		}
		fmt.Println(line)
	}
}

func callCmd() *cobra.Command {
	var video bool
	var limit time.Duration
	cmd := &cobra.Command{
		Use:   "call <user-id>",
		Short: "Place an audio or video call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}

			ctx, stop := interruptContext()
			defer stop()
			if limit > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			sess, err := newCallSession(ctx, c)
			if err != nil {
				return err
			}

			finished := make(chan struct{})
			var started atomic.Bool
			var once sync.Once
			sess.OnChange(func(snap call.Snapshot) {
				printCallState(snap)
				if snap.State != call.Idle {
					started.Store(true)
				} else if started.Load() {
					once.Do(func() { close(finished) })
				}
			})

			callType := models.CallTypeAudio
			if video {
				callType = models.CallTypeVideo
			}
			me := c.session.User
			err = sess.Initiate(ctx, peer.String(), callType, models.CallerInfo{
				ID:         me.ID.String(),
				FullName:   me.FullName,
				ProfilePic: me.ProfilePic,
			})
			if err != nil {
				return err
			}

			select {
			case <-finished:
			case <-ctx.Done():
				sess.End()
			case <-c.relay.Done():
				return fmt.Errorf("disconnected from server")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "video call")
	cmd.Flags().DurationVar(&limit, "max-duration", 0, "hang up after this long")
	return cmd
}
