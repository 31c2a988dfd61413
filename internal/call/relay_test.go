package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/presence"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relay"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relayclient"
)

type countingLogs struct {
	mu    sync.Mutex
	saved []models.CallLogPayload
}

func (l *countingLogs) SaveCallLog(ctx context.Context, callerID uuid.UUID, p models.CallLogPayload) (*models.Message, error) {
	l.mu.Lock()
	l.saved = append(l.saved, p)
	l.mu.Unlock()
	receiver, err := uuid.Parse(p.ReceiverID)
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ID:          uuid.New(),
		SenderID:    callerID,
		ReceiverID:  receiver,
		MessageType: models.MessageTypeCall,
		CallType:    p.CallType,
		Duration:    p.Duration,
	}, nil
}

func (l *countingLogs) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.saved)
}

type lockedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *lockedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *lockedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var sessionEvents = []string{
	models.EventIncomingCall,
	models.EventCallAccepted,
	models.EventCallRejected,
	models.EventCallEnded,
	models.EventICECandidate,
	models.EventVideoMuteStatus,
}

type participant struct {
	id      uuid.UUID
	client  *relayclient.Client
	session *Session
	clock   *lockedClock
}

// The relay test server treats the token as the user id.
func newRelay(t *testing.T, logs relay.CallLogStore) (*relay.Service, *httptest.Server) {
	t.Helper()
	svc := relay.NewService(presence.NewRegistry(), relay.WithCallLogStore(logs))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		svc.ServeWS(w, r, userID)
	}))
	t.Cleanup(srv.Close)
	return svc, srv
}

func join(t *testing.T, srv *httptest.Server) *participant {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &participant{id: uuid.New(), clock: &lockedClock{t: time.Unix(1700000000, 0)}}
	c, err := relayclient.Dial(ctx, srv.URL, p.id.String())
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	p.client = c

	p.session = NewSession(c, &fakeSource{}, &fakeFactory{}, WithClock(p.clock.now))
	for _, event := range sessionEvents {
		c.On(event, func(raw json.RawMessage) {
			p.session.HandleEvent(event, raw)
		})
	}
	c.OnDisconnect(p.session.HandleDisconnect)
	return p
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitUsers(t *testing.T, svc *relay.Service, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for svc.Registry().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("registry has %d users, want %d", svc.Registry().Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// connectCall rings bob from alice, has bob answer, and waits for both sides
func connectCall(t *testing.T, alice, bob *participant) {
	t.Helper()
	bob.session.OnChange(func(snap Snapshot) {
		if snap.State == IncomingRinging {
			go func() {
				if err := bob.session.Accept(context.Background()); err != nil {
					t.Errorf("Accept() failed: %v", err)
				}
			}()
		}
	})

	err := alice.session.Initiate(context.Background(), bob.id.String(), models.CallTypeVideo,
		models.CallerInfo{ID: alice.id.String(), FullName: "Alice"})
	if err != nil {
		t.Fatalf("Initiate() failed: %v", err)
	}

	waitState(t, alice.session, Active)
	waitState(t, bob.session, Active)
}

func TestCallOverRelayBothSidesActive(t *testing.T) {
	logs := &countingLogs{}
	svc, srv := newRelay(t, logs)
	alice, bob := join(t, srv), join(t, srv)
	waitUsers(t, svc, 2)

	connectCall(t, alice, bob)

	if snap := bob.session.Snapshot(); snap.Role != RoleReceiver || snap.PeerID != alice.id.String() || snap.CallType != models.CallTypeVideo {
		t.Errorf("bob snapshot = %+v", snap)
	}
	if snap := alice.session.Snapshot(); snap.Role != RoleCaller || snap.PeerID != bob.id.String() {
		t.Errorf("alice snapshot = %+v", snap)
	}

	alice.clock.advance(6 * time.Second)
	alice.session.End()

	waitState(t, alice.session, Idle)
	waitState(t, bob.session, Idle)

	deadline := time.Now().Add(5 * time.Second)
	for logs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// bob's remote end must not produce a second log
	time.Sleep(100 * time.Millisecond)
	if n := logs.count(); n != 1 {
		t.Errorf("saved %d call logs, want 1", n)
	}
}

func TestRelayLossEndsCallLocally(t *testing.T) {
	svc, srv := newRelay(t, &countingLogs{})
	alice, bob := join(t, srv), join(t, srv)
	waitUsers(t, svc, 2)

	connectCall(t, alice, bob)

	conn, ok := svc.Registry().Lookup(alice.id)
	if !ok {
		t.Fatal("alice not registered")
	}
	conn.Close()

	waitState(t, alice.session, Idle)

	ended := make(chan struct{})
	go func() {
		alice.session.End()
		alice.session.ToggleVideo()
		close(ended)
	}()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("session blocked after losing the relay")
	}
}
