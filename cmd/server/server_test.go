package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/auth"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/messaging"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/presence"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relay"
	"github.com/Ramanapenmetsa01/Quick-chat/pkg/handlers"
)

// newTestServer wires the router without postgres, redis or object storage
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := &Server{
		authService:      auth.NewService(nil, auth.NewTokenSigner("test-secret", time.Hour)),
		messagingService: messaging.NewService(nil, nil),
		relayService:     relay.NewService(presence.NewRegistry()),
		iceHandler:       handlers.NewIceHandler("", "", []string{"stun:stun.example.org:3478"}),
	}
	srv := httptest.NewServer(corsMiddleware("http://localhost:5173", s.setupRouter()))
	t.Cleanup(srv.Close)
	return s, srv
}

func issue(t *testing.T, s *Server, id uuid.UUID) string {
	t.Helper()
	token, err := s.authService.GenerateSessionToken(id)
	if err != nil {
		t.Fatalf("GenerateSessionToken() failed: %v", err)
	}
	return token
}

func do(t *testing.T, method, url, token, body string) (*http.Response, models.APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out models.APIResponse
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t)

	resp, _ := do(t, http.MethodOptions, srv.URL+"/api/messages/users", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCORSDefaultsToWildcard(t *testing.T) {
	rec := httptest.NewRecorder()
	corsMiddleware("", http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, srv := newTestServer(t)
	url := srv.URL + "/api/messages/send/" + uuid.New().String()

	resp, body := do(t, http.MethodPost, url, "", `{"text":"x","nonce":"y"}`)
	if resp.StatusCode != http.StatusUnauthorized || body.Success {
		t.Errorf("no token: status = %d, body = %+v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, url, "garbage", `{"text":"x","nonce":"y"}`)
	if resp.StatusCode != http.StatusUnauthorized || body.Message != "Invalid token" {
		t.Errorf("bad token: status = %d, body = %+v", resp.StatusCode, body)
	}

	other := auth.NewTokenSigner("other-secret", time.Hour).Issue(uuid.New())
	resp, _ = do(t, http.MethodPost, url, other, `{"text":"x","nonce":"y"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("foreign token: status = %d", resp.StatusCode)
	}

	// valid token reaches the handler, which rejects the image for lack of storage
	resp, body = do(t, http.MethodPost, url, issue(t, s, uuid.New()), `{"image":"data:image/png;base64,AAAA"}`)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Success {
		t.Errorf("image without storage: status = %d, body = %+v", resp.StatusCode, body)
	}
}

func TestBareTokenHeader(t *testing.T) {
	s, _ := newTestServer(t)
	id := uuid.New()

	var seen uuid.UUID
	h := s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		seen = userIDFrom(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.Header.Set("token", issue(t, s, id))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != id {
		t.Errorf("userID = %s, want %s", seen, id)
	}
}

func TestSendMessageBadBody(t *testing.T) {
	s, srv := newTestServer(t)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/messages/send/"+uuid.New().String(), issue(t, s, uuid.New()), "{")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRoutesRejectNonUUID(t *testing.T) {
	s, srv := newTestServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/messages/not-a-user", issue(t, s, uuid.New()), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestImageWithoutStorage(t *testing.T) {
	_, srv := newTestServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/images/images/a/b.png", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusAndHealth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	var status map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["status"] != "ok" || status["images"] != false {
		t.Errorf("status = %v", status)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestIceServersRoute(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/ice-servers")
	if err != nil {
		t.Fatalf("GET /api/ice-servers failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		IceServers []models.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.IceServers) != 1 || body.IceServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("iceServers = %+v", body.IceServers)
	}
}

func socketURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket?" + query
}

func TestSocketAuth(t *testing.T) {
	s, srv := newTestServer(t)
	id := uuid.New()
	token := issue(t, s, id)

	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"bad token", "token=nope", http.StatusUnauthorized},
		{"mismatched user", "token=" + token + "&userId=" + uuid.New().String(), http.StatusForbidden},
	}
	for _, tc := range cases {
		_, resp, err := websocket.DefaultDialer.Dial(socketURL(srv, tc.query), nil)
		if err == nil {
			t.Errorf("%s: dial succeeded", tc.name)
			continue
		}
		if resp == nil || resp.StatusCode != tc.status {
			t.Errorf("%s: response = %v, want %d", tc.name, resp, tc.status)
		}
	}
}

func TestSocketConnectsAndBroadcastsPresence(t *testing.T) {
	s, srv := newTestServer(t)
	id := uuid.New()

	conn, _, err := websocket.DefaultDialer.Dial(socketURL(srv, "token="+issue(t, s, id)+"&userId="+id.String()), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type    string   `json:"type"`
		Content []string `json:"content"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Type != models.EventGetOnlineUsers || len(frame.Content) != 1 || frame.Content[0] != id.String() {
		t.Errorf("frame = %+v", frame)
	}
}

func TestPresence(t *testing.T) {
	s, srv := newTestServer(t)
	viewer := issue(t, s, uuid.New())
	online := uuid.New()

	conn, _, err := websocket.DefaultDialer.Dial(socketURL(srv, "token="+issue(t, s, online)), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.relayService.Registry().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/users/"+online.String()+"/presence", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET presence failed: %v", err)
	}
	var p models.Presence
	json.NewDecoder(resp.Body).Decode(&p)
	resp.Body.Close()
	if p.Status != models.PresenceOnline || p.UserID != online {
		t.Errorf("presence = %+v", p)
	}

	// offline users fall through to the redis mirror, absent here
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/users/"+uuid.New().String()+"/presence", viewer, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("offline without redis: status = %d, want 503", resp.StatusCode)
	}
}

// fkViolationDB fails every query the way postgres does for a missing
// referenced row
type fkViolationDB struct{}

func (d fkViolationDB) Connect(context.Context) (driver.Conn, error) { return d, nil }
func (d fkViolationDB) Driver() driver.Driver                        { return d }
func (d fkViolationDB) Open(string) (driver.Conn, error)             { return d, nil }
func (d fkViolationDB) Prepare(string) (driver.Stmt, error)          { return nil, errors.New("unsupported") }
func (d fkViolationDB) Close() error                                 { return nil }
func (d fkViolationDB) Begin() (driver.Tx, error)                    { return nil, errors.New("unsupported") }

func (d fkViolationDB) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return nil, &pq.Error{Code: "23503", Message: `insert or update on table "messages" violates foreign key constraint`}
}

func TestSendToUnknownUser(t *testing.T) {
	s, srv := newTestServer(t)
	db := sql.OpenDB(fkViolationDB{})
	t.Cleanup(func() { db.Close() })
	s.messagingService = messaging.NewService(db, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/messages/send/"+uuid.New().String(),
		issue(t, s, uuid.New()), `{"text":"Y2lwaGVy","nonce":"bm9uY2U="}`)
	if resp.StatusCode != http.StatusNotFound || body.Message != "User not found" {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, body)
	}
}
