// Package relay forwards signaling and chat events between online users.
//
// Each user holds at most one WebSocket connection, tracked by a
// presence.Registry. Events addressed to an offline user are dropped.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/presence"
)

// CallLogStore persists call logs requested through saveCallLog
type CallLogStore interface {
	SaveCallLog(ctx context.Context, callerID uuid.UUID, log models.CallLogPayload) (*models.Message, error)
}

// PresenceMirror records online/offline transitions outside the process
type PresenceMirror interface {
	SetPresence(ctx context.Context, userID uuid.UUID, status string) error
}

// CallLimiter bounds how often a user may ring others
type CallLimiter interface {
	CheckCallAttempt(ctx context.Context, callerID string) error
}

type Service struct {
	registry *presence.Registry
	upgrader websocket.Upgrader

	callLogs CallLogStore
	mirror   PresenceMirror
	limiter  CallLimiter

	storeTimeout time.Duration

	// broadcastMu orders presence snapshots with their fan-out
	broadcastMu sync.Mutex

	// users whose presence changed since the mirror last wrote them
	mirrorMu      sync.Mutex
	mirrorPending map[uuid.UUID]struct{}
	mirrorWake    chan struct{}
}

type Option func(*Service)

func WithCallLogStore(store CallLogStore) Option {
	return func(s *Service) { s.callLogs = store }
}

func WithPresenceMirror(mirror PresenceMirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

func WithCallLimiter(limiter CallLimiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithAllowedOrigin restricts WebSocket upgrades to one origin. Empty allows all.
func WithAllowedOrigin(origin string) Option {
	return func(s *Service) {
		if origin == "" {
			return
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == origin
		}
	}
}

func NewService(registry *presence.Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		storeTimeout:  10 * time.Second,
		mirrorPending: make(map[uuid.UUID]struct{}),
		mirrorWake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mirror != nil {
		go s.mirrorLoop()
	}
	return s
}

// Registry exposes the presence registry backing the relay
func (s *Service) Registry() *presence.Registry {
	return s.registry
}

// ServeWS upgrades r for an already authenticated user and starts its pumps
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Relay] Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := s.Register(userID, conn)

	go s.WritePump(client)
	go s.ReadPump(client)
}

// Register makes conn the live connection for userID. A prior connection of
// the same user is closed once the registry points at the new one.
func (s *Service) Register(userID uuid.UUID, conn *websocket.Conn) *Client {
	client := newClient(userID, conn)

	if prev := s.registry.Connect(userID, client); prev != nil {
		log.Printf("[Relay] Replacing stale connection for user %s", userID)
		prev.Close()
	}
	log.Printf("[Relay] User %s connected (%d online)", userID, s.registry.Len())

	s.mirrorPresence(userID)
	s.BroadcastOnlineUsers()

	return client
}

// Unregister removes client from the registry if it still owns its user's
// entry. Safe to call more than once.
func (s *Service) Unregister(client *Client) {
	client.Close()

	userID, removed := s.registry.Disconnect(client)
	if !removed {
		return
	}
	log.Printf("[Relay] User %s disconnected (%d online)", userID, s.registry.Len())

	s.mirrorPresence(userID)
	s.BroadcastOnlineUsers()
}

// Route delivers event to target if online. It reports whether the frame was
// queued; offline targets are not an error.
func (s *Service) Route(target uuid.UUID, event string, payload interface{}) bool {
	conn, ok := s.registry.Lookup(target)
	if !ok {
		return false
	}

	data, err := json.Marshal(models.WSMessage{Type: event, Content: payload})
	if err != nil {
		log.Printf("[Relay] Failed to marshal %s: %v", event, err)
		return false
	}

	return conn.Send(data)
}

// BroadcastOnlineUsers sends the current presence set to every connection.
// Broadcasts are serialized, so the last frame each connection receives
// reflects every registry change made before it.
func (s *Service) BroadcastOnlineUsers() {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	online := s.registry.Online()
	ids := make([]string, len(online))
	for i, id := range online {
		ids[i] = id.String()
	}

	data, err := json.Marshal(models.WSMessage{
		Type:    models.EventGetOnlineUsers,
		Content: ids,
	})
	if err != nil {
		log.Printf("[Relay] Failed to marshal broadcast: %v", err)
		return
	}

	for _, c := range s.registry.Conns() {
		c.Send(data)
	}
}

// mirrorPresence marks userID for the mirror loop
func (s *Service) mirrorPresence(userID uuid.UUID) {
	if s.mirror == nil {
		return
	}
	s.mirrorMu.Lock()
	s.mirrorPending[userID] = struct{}{}
	s.mirrorMu.Unlock()

	select {
	case s.mirrorWake <- struct{}{}:
	default:
	}
}

// mirrorLoop writes presence one user at a time. The status written is read
// from the registry at write time, so a burst of transitions settles on the
// current state whatever order they were marked in.
func (s *Service) mirrorLoop() {
	for range s.mirrorWake {
		s.mirrorMu.Lock()
		pending := s.mirrorPending
		s.mirrorPending = make(map[uuid.UUID]struct{})
		s.mirrorMu.Unlock()

		for userID := range pending {
			status := models.PresenceOffline
			if _, ok := s.registry.Lookup(userID); ok {
				status = models.PresenceOnline
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
			if err := s.mirror.SetPresence(ctx, userID, status); err != nil {
				log.Printf("[Relay] Failed to mirror presence for %s: %v", userID, err)
			}
			cancel()
		}
	}
}
