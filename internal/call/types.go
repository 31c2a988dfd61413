// Package call drives one participant's side of an audio/video call:
// offer/answer/ICE negotiation over the relay, the call lifecycle, mute
// flags and duration bookkeeping.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// MinLoggedDuration is the shortest call that produces a call-log message
const MinLoggedDuration = 3 * time.Second

// LogStatusCompleted is the status of every call log a session emits
const LogStatusCompleted = "completed"

// State is the negotiation state of a Session
type State int

const (
	Idle State = iota
	Outgoing
	IncomingRinging
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Outgoing:
		return "outgoing"
	case IncomingRinging:
		return "incoming"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role tells which side of the call the local participant is on
type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleReceiver:
		return "receiver"
	default:
		return "none"
	}
}

// Snapshot is a copy of the session state handed to observers
type Snapshot struct {
	State            State
	Role             Role
	PeerID           string
	CallType         string
	CallerInfo       models.CallerInfo
	StartedAt        time.Time
	AudioMuted       bool
	VideoMuted       bool
	RemoteVideoMuted bool
}

// Signaler delivers events to the relay. relayclient.Client satisfies it.
type Signaler interface {
	Emit(event string, payload interface{}) error
}

// LocalMedia is an acquired set of local tracks
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Stop()
}

// MediaSource acquires local media for a call type
type MediaSource interface {
	Acquire(ctx context.Context, callType string) (LocalMedia, error)
}

// Peer is the negotiation object of one call
type Peer interface {
	AddLocalMedia(media LocalMedia) error
	CreateOffer() (models.SessionDescription, error)
	CreateAnswer() (models.SessionDescription, error)
	SetRemoteDescription(desc models.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory creates peers. onCandidate is invoked for every locally
// gathered candidate and must not block.
type PeerFactory interface {
	NewPeer(onCandidate func(webrtc.ICECandidateInit)) (Peer, error)
}

// FormatDuration renders a call length as m:ss
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}
