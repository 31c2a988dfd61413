package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeCall  = "call"
)

// Media kinds for calls
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

var (
	ErrEmptyMessage       = errors.New("message has neither text nor image")
	ErrNonceMismatch      = errors.New("ciphertext and nonce must be both present or both absent")
	ErrImageWithNonce     = errors.New("image messages carry no nonce")
	ErrInvalidCallType    = errors.New("call type must be audio or video")
	ErrMissingCallSummary = errors.New("call log requires a duration")
)

// User represents an account as seen by the relay and the message API
type User struct {
	ID         uuid.UUID `json:"_id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	Bio        string    `json:"bio,omitempty"`
	ProfilePic string    `json:"profilePic,omitempty"`
	PublicKey  string    `json:"publicKey"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// KeyBundle carries a user's public key and the password-wrapped private key.
// The server stores it verbatim; it never sees the private key in plaintext.
type KeyBundle struct {
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	Salt                string `json:"salt"`
	IV                  string `json:"iv"`
}

// Complete reports whether every field of the bundle is set
func (b KeyBundle) Complete() bool {
	return b.PublicKey != "" && b.EncryptedPrivateKey != "" && b.Salt != "" && b.IV != ""
}

// Message represents a persisted chat record. Text holds box ciphertext for
// text messages and a plaintext summary for call logs.
type Message struct {
	ID          uuid.UUID `json:"_id"`
	SenderID    uuid.UUID `json:"senderId"`
	ReceiverID  uuid.UUID `json:"receiverId"`
	Text        string    `json:"text,omitempty"`
	Nonce       string    `json:"nonce,omitempty"`
	Image       string    `json:"image,omitempty"`
	Seen        bool      `json:"seen"`
	MessageType string    `json:"messageType"`
	CallType    string    `json:"callType,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the ciphertext/nonce pairing for the message's type
func (m *Message) Validate() error {
	switch m.MessageType {
	case MessageTypeCall:
		if m.CallType != CallTypeAudio && m.CallType != CallTypeVideo {
			return ErrInvalidCallType
		}
		if m.Duration == "" {
			return ErrMissingCallSummary
		}
		if m.Nonce != "" {
			return ErrNonceMismatch
		}
		return nil
	case MessageTypeImage:
		if m.Image == "" {
			return ErrEmptyMessage
		}
		if m.Nonce != "" {
			return ErrImageWithNonce
		}
		return nil
	default:
		if m.Text == "" && m.Image == "" {
			return ErrEmptyMessage
		}
		if (m.Text == "") != (m.Nonce == "") {
			return ErrNonceMismatch
		}
		return nil
	}
}

// WebSocket frame exchanged on the relay connection
type WSMessage struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// Presence statuses
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Presence status mirrored to redis
type Presence struct {
	UserID     uuid.UUID `json:"user_id"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ICEServer mirrors the browser RTCIceServer dictionary
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
