package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// HandleMessage decodes one inbound frame and forwards it to its addressee.
// Malformed frames and unknown events are logged and dropped.
func (s *Service) HandleMessage(client *Client, message []byte) {
	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("[Relay] Failed to unmarshal message: %v", err)
		return
	}

	switch env.Type {
	case models.EventCallUser:
		s.handleCallUser(client, env.Content)

	case models.EventAnswerCall:
		var p models.AnswerCallPayload
		if !decode(env, &p) {
			return
		}
		s.forward(p.CallerID, models.EventCallAccepted, models.CallAcceptedPayload{Answer: p.Answer})

	case models.EventICECandidate:
		var p models.ICECandidatePayload
		if !decode(env, &p) {
			return
		}
		s.forward(p.TargetUserID, models.EventICECandidate, models.ICECandidatePayload{Candidate: p.Candidate})

	case models.EventRejectCall:
		var p models.RejectCallPayload
		if !decode(env, &p) {
			return
		}
		s.forward(p.CallerID, models.EventCallRejected, struct{}{})

	case models.EventEndCall:
		var p models.EndCallPayload
		if !decode(env, &p) {
			return
		}
		s.forward(p.TargetUserID, models.EventCallEnded, struct{}{})

	case models.EventVideoMuteStatus:
		var p models.VideoMuteStatusPayload
		if !decode(env, &p) {
			return
		}
		s.forward(p.TargetUserID, models.EventVideoMuteStatus, models.VideoMuteStatusPayload{IsMuted: p.IsMuted})

	case models.EventSaveCallLog:
		var p models.CallLogPayload
		if !decode(env, &p) {
			return
		}
		s.handleSaveCallLog(client, p)

	default:
		log.Printf("[Relay] Unknown message type: %s", env.Type)
	}
}

func (s *Service) handleCallUser(client *Client, raw json.RawMessage) {
	var p models.CallUserPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("[Relay] Invalid callUser content: %v", err)
		return
	}

	if s.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		err := s.limiter.CheckCallAttempt(ctx, client.UserID.String())
		cancel()
		if err != nil {
			log.Printf("[Relay] Dropping callUser from %s: %v", client.UserID, err)
			return
		}
	}

	// The receiver answers to callerInfo._id, so it must be the authenticated sender.
	p.CallerInfo.ID = client.UserID.String()

	s.forward(p.ReceiverID, models.EventIncomingCall, models.IncomingCallPayload{
		Offer:      p.Offer,
		CallType:   p.CallType,
		CallerInfo: p.CallerInfo,
	})
}

// handleSaveCallLog persists off the read loop and fans the stored message
// out to both parties.
func (s *Service) handleSaveCallLog(client *Client, p models.CallLogPayload) {
	if s.callLogs == nil {
		return
	}
	callerID := client.UserID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		defer cancel()

		msg, err := s.callLogs.SaveCallLog(ctx, callerID, p)
		if err != nil {
			log.Printf("[Relay] Failed to save call log from %s: %v", callerID, err)
			return
		}

		s.Route(msg.ReceiverID, models.EventNewMessage, msg)
		s.Route(msg.SenderID, models.EventNewMessage, msg)
	}()
}

func (s *Service) forward(target, event string, payload interface{}) {
	id, err := uuid.Parse(target)
	if err != nil {
		log.Printf("[Relay] Invalid target for %s: %q", event, target)
		return
	}
	s.Route(id, event, payload)
}

func decode(env models.Envelope, v interface{}) bool {
	if len(env.Content) == 0 {
		log.Printf("[Relay] Missing %s content", env.Type)
		return false
	}
	if err := json.Unmarshal(env.Content, v); err != nil {
		log.Printf("[Relay] Invalid %s content: %v", env.Type, err)
		return false
	}
	return true
}
