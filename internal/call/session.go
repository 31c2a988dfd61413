package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// Session is the local participant's side of at most one call at a time.
// Local intents and remote events are serialized on one mutex; events not
// valid for the current state are ignored.
type Session struct {
	signaler Signaler
	media    MediaSource
	peers    PeerFactory
	now      func() time.Time

	// generation invalidates candidate callbacks of torn down peers
	generation atomic.Uint64

	// local candidates are held until the offer or answer has been sent
	outMu    sync.Mutex
	outReady bool
	outbound []webrtc.ICECandidateInit

	mu        sync.Mutex
	state     State
	role      Role
	peerID    string
	callType  string
	caller    models.CallerInfo
	offer     *models.SessionDescription
	startedAt time.Time
	local     LocalMedia
	pc        Peer
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	audioMuted       bool
	videoMuted       bool
	remoteVideoMuted bool

	observers []func(Snapshot)
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithClock replaces time.Now
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates an idle session
func NewSession(signaler Signaler, media MediaSource, peers PeerFactory, opts ...SessionOption) *Session {
	s := &Session{
		signaler: signaler,
		media:    media,
		peers:    peers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers an observer invoked after every transition
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:            s.state,
		Role:             s.role,
		PeerID:           s.peerID,
		CallType:         s.callType,
		CallerInfo:       s.caller,
		StartedAt:        s.startedAt,
		AudioMuted:       s.audioMuted,
		VideoMuted:       s.videoMuted,
		RemoteVideoMuted: s.remoteVideoMuted,
	}
}

// unlockAndNotify releases the mutex and, when changed, hands a snapshot
// to the observers outside the lock.
func (s *Session) unlockAndNotify(changed bool) {
	if !changed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	observers := append([]func(Snapshot){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// Initiate starts an outgoing call. It is a no-op while another call is in
// progress. A media failure leaves the session idle and returns a
// *MediaError.
func (s *Session) Initiate(ctx context.Context, peerID, callType string, callerInfo models.CallerInfo) error {
	if callType != models.CallTypeAudio && callType != models.CallTypeVideo {
		return models.ErrInvalidCallType
	}

	s.mu.Lock()
	if state := s.state; state != Idle {
		s.mu.Unlock()
		log.Printf("[Call] Ignoring initiate while %s", state)
		return nil
	}

	local, err := s.media.Acquire(ctx, callType)
	if err != nil {
		s.mu.Unlock()
		me := classifyMediaError(err, false)
		log.Printf("[Call] Media acquisition failed: %v", err)
		return me
	}
	s.local = local
	s.callType = callType
	s.peerID = peerID

	if err := s.newPeerLocked(); err != nil {
		s.resetLocked()
		s.mu.Unlock()
		return err
	}

	offer, err := s.pc.CreateOffer()
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		return fmt.Errorf("failed to create offer: %w", err)
	}

	err = s.signaler.Emit(models.EventCallUser, models.CallUserPayload{
		ReceiverID: peerID,
		Offer:      offer,
		CallType:   callType,
		CallerInfo: callerInfo,
	})
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		return fmt.Errorf("failed to send call offer: %w", err)
	}

	s.releaseCandidates()

	s.state = Outgoing
	s.role = RoleCaller
	s.caller = callerInfo
	log.Printf("[Call] Calling %s (%s)", peerID, callType)
	s.unlockAndNotify(true)
	return nil
}

// Accept answers the ringing call. A media failure rejects the call and
// returns a *MediaError.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != IncomingRinging {
		s.mu.Unlock()
		return nil
	}

	local, err := s.media.Acquire(ctx, s.callType)
	if err != nil {
		me := classifyMediaError(err, true)
		log.Printf("[Call] Media acquisition failed while accepting: %v", err)
		s.rejectLocked()
		s.unlockAndNotify(true)
		return me
	}
	s.local = local

	if err := s.answerLocked(); err != nil {
		log.Printf("[Call] Failed to answer call: %v", err)
		s.rejectLocked()
		s.unlockAndNotify(true)
		return err
	}

	s.state = Active
	s.startedAt = s.now()
	log.Printf("[Call] Call with %s active", s.peerID)
	s.unlockAndNotify(true)
	return nil
}

func (s *Session) answerLocked() error {
	if err := s.newPeerLocked(); err != nil {
		return err
	}
	if err := s.pc.SetRemoteDescription(*s.offer); err != nil {
		return fmt.Errorf("failed to apply offer: %w", err)
	}
	s.remoteSet = true
	s.flushCandidatesLocked()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	err = s.signaler.Emit(models.EventAnswerCall, models.AnswerCallPayload{
		CallerID: s.peerID,
		Answer:   answer,
	})
	if err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	s.releaseCandidates()
	return nil
}

// Reject declines the ringing call
func (s *Session) Reject() {
	s.mu.Lock()
	if s.state != IncomingRinging {
		s.mu.Unlock()
		return
	}
	s.rejectLocked()
	s.unlockAndNotify(true)
}

func (s *Session) rejectLocked() {
	s.emit(models.EventRejectCall, models.RejectCallPayload{CallerID: s.peerID})
	log.Printf("[Call] Rejected call from %s", s.peerID)
	s.resetLocked()
}

// End hangs up. While ringing it rejects, while dialing it cancels, and an
// active call is torn down with a call log when long enough.
func (s *Session) End() {
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.mu.Unlock()
		return
	case IncomingRinging:
		s.rejectLocked()
	case Outgoing:
		s.emit(models.EventEndCall, models.EndCallPayload{TargetUserID: s.peerID})
		log.Printf("[Call] Cancelled call to %s", s.peerID)
		s.resetLocked()
	case Active:
		s.finishLocked(false)
	}
	s.unlockAndNotify(true)
}

// HandleDisconnect ends any call locally after the relay connection is lost.
// Nothing is sent to the peer.
func (s *Session) HandleDisconnect() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	log.Printf("[Call] Relay connection lost, ending %s call with %s", s.state, s.peerID)
	s.resetLocked()
	s.unlockAndNotify(true)
}

// finishLocked tears down an active call. Only a locally ended call emits
// the call log; a remote end skips both the log and the endCall notice.
func (s *Session) finishLocked(remote bool) {
	elapsed := s.now().Sub(s.startedAt)
	peerID, callType := s.peerID, s.callType

	s.resetLocked()

	if remote {
		log.Printf("[Call] Call with %s ended by peer after %s", peerID, FormatDuration(elapsed))
		return
	}

	if elapsed >= MinLoggedDuration {
		s.emit(models.EventSaveCallLog, models.CallLogPayload{
			Type:       models.MessageTypeCall,
			CallType:   callType,
			Duration:   FormatDuration(elapsed),
			Status:     LogStatusCompleted,
			ReceiverID: peerID,
		})
	}
	s.emit(models.EventEndCall, models.EndCallPayload{TargetUserID: peerID})
	log.Printf("[Call] Ended call with %s after %s", peerID, FormatDuration(elapsed))
}

// HandleEvent applies one relay event addressed to this participant
func (s *Session) HandleEvent(event string, raw json.RawMessage) {
	s.mu.Lock()
	changed := false

	switch event {
	case models.EventIncomingCall:
		changed = s.onIncomingCallLocked(raw)

	case models.EventCallAccepted:
		changed = s.onCallAcceptedLocked(raw)

	case models.EventCallRejected:
		if s.state == Outgoing {
			log.Printf("[Call] Call rejected by %s", s.peerID)
			s.resetLocked()
			changed = true
		}

	case models.EventCallEnded:
		switch s.state {
		case Active:
			s.finishLocked(true)
			changed = true
		case Outgoing, IncomingRinging:
			log.Printf("[Call] Call with %s ended before it was answered", s.peerID)
			s.resetLocked()
			changed = true
		}

	case models.EventICECandidate:
		s.onCandidateLocked(raw)

	case models.EventVideoMuteStatus:
		if s.state == Active {
			var p models.VideoMuteStatusPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Printf("[Call] Malformed videoMuteStatus: %v", err)
				break
			}
			changed = s.remoteVideoMuted != p.IsMuted
			s.remoteVideoMuted = p.IsMuted
		}
	}

	s.unlockAndNotify(changed)
}

func (s *Session) onIncomingCallLocked(raw json.RawMessage) bool {
	if s.state != Idle {
		log.Printf("[Call] Ignoring incoming call while %s", s.state)
		return false
	}

	var p models.IncomingCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("[Call] Malformed incomingCall: %v", err)
		return false
	}
	if p.CallerInfo.ID == "" || (p.CallType != models.CallTypeAudio && p.CallType != models.CallTypeVideo) {
		log.Printf("[Call] Ignoring incomingCall without caller or call type")
		return false
	}

	offer := p.Offer
	s.state = IncomingRinging
	s.role = RoleReceiver
	s.peerID = p.CallerInfo.ID
	s.callType = p.CallType
	s.caller = p.CallerInfo
	s.offer = &offer
	s.pending = nil
	log.Printf("[Call] Incoming %s call from %s", p.CallType, p.CallerInfo.ID)
	return true
}

func (s *Session) onCallAcceptedLocked(raw json.RawMessage) bool {
	if s.state != Outgoing {
		return false
	}

	var p models.CallAcceptedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("[Call] Malformed callAccepted: %v", err)
		return false
	}

	if err := s.pc.SetRemoteDescription(p.Answer); err != nil {
		log.Printf("[Call] Failed to apply answer from %s: %v", s.peerID, err)
		s.emit(models.EventEndCall, models.EndCallPayload{TargetUserID: s.peerID})
		s.resetLocked()
		return true
	}
	s.remoteSet = true
	s.flushCandidatesLocked()

	s.state = Active
	s.startedAt = s.now()
	log.Printf("[Call] Call with %s active", s.peerID)
	return true
}

// onCandidateLocked applies a remote candidate, or queues it until the
// remote description is in place.
func (s *Session) onCandidateLocked(raw json.RawMessage) {
	if s.state == Idle {
		return
	}

	var p models.ICECandidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("[Call] Malformed iceCandidate: %v", err)
		return
	}
	candidate, err := decodeCandidate(p.Candidate)
	if err != nil {
		log.Printf("[Call] Malformed candidate: %v", err)
		return
	}

	if s.pc == nil || !s.remoteSet {
		s.pending = append(s.pending, candidate)
		return
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		log.Printf("[Call] Error adding ICE candidate: %v", err)
	}
}

func (s *Session) flushCandidatesLocked() {
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			log.Printf("[Call] Error adding queued ICE candidate: %v", err)
		}
	}
	s.pending = nil
}

// ToggleVideo flips the local video track and tells the peer. Returns the
// new muted state. Only video calls with acquired media are affected.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	if s.local == nil || s.callType != models.CallTypeVideo {
		muted := s.videoMuted
		s.mu.Unlock()
		return muted
	}

	s.videoMuted = !s.videoMuted
	s.local.SetVideoEnabled(!s.videoMuted)
	muted := s.videoMuted
	s.emit(models.EventVideoMuteStatus, models.VideoMuteStatusPayload{
		TargetUserID: s.peerID,
		IsMuted:      muted,
	})
	s.unlockAndNotify(true)
	return muted
}

// ToggleAudio flips the local audio track. Nothing is signaled.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	if s.local == nil {
		muted := s.audioMuted
		s.mu.Unlock()
		return muted
	}

	s.audioMuted = !s.audioMuted
	s.local.SetAudioEnabled(!s.audioMuted)
	muted := s.audioMuted
	s.unlockAndNotify(true)
	return muted
}

func (s *Session) newPeerLocked() error {
	gen := s.generation.Add(1)
	target := s.peerID

	pc, err := s.peers.NewPeer(func(c webrtc.ICECandidateInit) {
		s.outMu.Lock()
		if s.generation.Load() != gen {
			s.outMu.Unlock()
			return
		}
		if !s.outReady {
			s.outbound = append(s.outbound, c)
			s.outMu.Unlock()
			return
		}
		s.outMu.Unlock()
		s.sendCandidate(target, c)
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.pc = pc

	if err := pc.AddLocalMedia(s.local); err != nil {
		return fmt.Errorf("failed to add local media: %w", err)
	}
	return nil
}

// releaseCandidates sends the held local candidates and lets later ones
// through directly.
func (s *Session) releaseCandidates() {
	s.outMu.Lock()
	held := s.outbound
	s.outbound = nil
	s.outReady = true
	s.outMu.Unlock()

	for _, c := range held {
		s.sendCandidate(s.peerID, c)
	}
}

func (s *Session) sendCandidate(target string, c webrtc.ICECandidateInit) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	s.emit(models.EventICECandidate, models.ICECandidatePayload{
		TargetUserID: target,
		Candidate:    raw,
	})
}

// resetLocked releases media and the peer and returns to Idle
func (s *Session) resetLocked() {
	s.generation.Add(1)

	s.outMu.Lock()
	s.outReady = false
	s.outbound = nil
	s.outMu.Unlock()

	if s.local != nil {
		s.local.Stop()
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			log.Printf("[Call] Error closing peer connection: %v", err)
		}
	}

	s.state = Idle
	s.role = RoleNone
	s.peerID = ""
	s.callType = ""
	s.caller = models.CallerInfo{}
	s.offer = nil
	s.startedAt = time.Time{}
	s.local = nil
	s.pc = nil
	s.remoteSet = false
	s.pending = nil
	s.audioMuted = false
	s.videoMuted = false
	s.remoteVideoMuted = false
}

// emit sends best-effort; a lost relay is logged only
func (s *Session) emit(event string, payload interface{}) {
	if err := s.signaler.Emit(event, payload); err != nil {
		log.Printf("[Call] Failed to send %s: %v", event, err)
	}
}
