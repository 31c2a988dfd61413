package models

import "encoding/json"

// Relay events, client to server
const (
	EventCallUser        = "callUser"
	EventAnswerCall      = "answerCall"
	EventRejectCall      = "rejectCall"
	EventEndCall         = "endCall"
	EventSaveCallLog     = "saveCallLog"
	EventICECandidate    = "iceCandidate"
	EventVideoMuteStatus = "videoMuteStatus"
)

// Relay events, server to client
const (
	EventIncomingCall   = "incomingCall"
	EventCallAccepted   = "callAccepted"
	EventCallRejected   = "callRejected"
	EventCallEnded      = "callEnded"
	EventGetOnlineUsers = "getOnlineUsers"
	EventNewMessage     = "newMessage"
)

// CallerInfo is the public profile a caller attaches to an offer
type CallerInfo struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// SessionDescription matches RTCSessionDescriptionInit on the wire
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CallUserPayload is sent by a caller to start ringing the receiver
type CallUserPayload struct {
	ReceiverID string             `json:"receiverId"`
	Offer      SessionDescription `json:"offer"`
	CallType   string             `json:"callType"`
	CallerInfo CallerInfo         `json:"callerInfo"`
}

// IncomingCallPayload is delivered to the receiver
type IncomingCallPayload struct {
	Offer      SessionDescription `json:"offer"`
	CallType   string             `json:"callType"`
	CallerInfo CallerInfo         `json:"callerInfo"`
}

type AnswerCallPayload struct {
	CallerID string             `json:"callerId"`
	Answer   SessionDescription `json:"answer"`
}

type CallAcceptedPayload struct {
	Answer SessionDescription `json:"answer"`
}

// ICECandidatePayload carries a candidate in either direction. TargetUserID
// is only present client to server. Candidate stays raw so the relay never
// has to understand it.
type ICECandidatePayload struct {
	TargetUserID string          `json:"targetUserId,omitempty"`
	Candidate    json.RawMessage `json:"candidate"`
}

type RejectCallPayload struct {
	CallerID string `json:"callerId"`
}

type EndCallPayload struct {
	TargetUserID string `json:"targetUserId"`
}

type VideoMuteStatusPayload struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	IsMuted      bool   `json:"isMuted"`
}

// CallLogPayload asks the relay to persist a finished call
type CallLogPayload struct {
	Type       string `json:"type,omitempty"`
	CallType   string `json:"callType"`
	Duration   string `json:"duration"`
	Status     string `json:"status"`
	ReceiverID string `json:"receiverId"`
}

// Envelope is the decoded form of an inbound frame with a raw payload
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}
