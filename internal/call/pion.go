package call

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// PionFactory creates pion peer connections with the default codecs and
// interceptors.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory builds the pion API once for all calls
func NewPionFactory(iceServers []models.ICEServer) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, s := range iceServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	return &PionFactory{
		api:    api,
		config: webrtc.Configuration{ICEServers: servers},
	}, nil
}

func (f *PionFactory) NewPeer(onCandidate func(webrtc.ICECandidateInit)) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		onCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[Call] Peer connection state: %s", state)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("[Call] Remote %s track (%s)", track.Kind(), track.Codec().MimeType)
	})

	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddLocalMedia(m LocalMedia) error {
	tracks := m.Tracks()
	for _, track := range tracks {
		if _, err := p.pc.AddTrack(track); err != nil {
			return err
		}
	}
	if len(tracks) > 0 {
		return nil
	}

	// No local tracks: still offer m-lines so the peer can send to us.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *pionPeer) CreateOffer() (models.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *pionPeer) CreateAnswer() (models.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *pionPeer) SetRemoteDescription(desc models.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// TrackSource hands out sample-fed local tracks. It has no capture device
// of its own; callers feed encoded samples through WriteSample.
type TrackSource struct {
	StreamID string
}

func (s TrackSource) Acquire(ctx context.Context, callType string) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = "quickchat"
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	tm := &TrackMedia{audio: audio, audioOn: true, videoOn: true}
	if callType == models.CallTypeVideo {
		tm.video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
	}
	return tm, nil
}

// TrackMedia is the LocalMedia produced by TrackSource
type TrackMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	audioOn bool
	videoOn bool
	stopped bool
}

func (m *TrackMedia) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{m.audio}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

func (m *TrackMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	m.audioOn = enabled
	m.mu.Unlock()
}

func (m *TrackMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.videoOn = enabled
	m.mu.Unlock()
}

func (m *TrackMedia) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// WriteSample feeds one encoded sample. Samples for a muted or missing
// track, or after Stop, are dropped.
func (m *TrackMedia) WriteSample(kind webrtc.RTPCodecType, sample media.Sample) error {
	m.mu.Lock()
	stopped, audioOn, videoOn := m.stopped, m.audioOn, m.videoOn
	m.mu.Unlock()

	if stopped {
		return nil
	}
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		if audioOn {
			return m.audio.WriteSample(sample)
		}
	case webrtc.RTPCodecTypeVideo:
		if videoOn && m.video != nil {
			return m.video.WriteSample(sample)
		}
	}
	return nil
}
