package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

type fakeTokens struct {
	token *twilioApi.ApiV2010Token
	err   error
}

func (f *fakeTokens) CreateToken(*twilioApi.CreateTokenParams) (*twilioApi.ApiV2010Token, error) {
	return f.token, f.err
}

func decodeServers(t *testing.T, rec *httptest.ResponseRecorder) []models.ICEServer {
	t.Helper()
	var body struct {
		IceServers []models.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body.IceServers
}

func TestGetIceServers_STUNFallback(t *testing.T) {
	h := NewIceHandler("", "", []string{"stun:stun.l.google.com:19302"})

	rec := httptest.NewRecorder()
	h.GetIceServers(rec, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	servers := decodeServers(t, rec)
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("servers = %+v", servers)
	}
	if servers[0].Credential != "" {
		t.Errorf("STUN entry should carry no credential")
	}
}

func TestGetIceServers_Twilio(t *testing.T) {
	ice := []twilioApi.ApiV2010AccountTokenIceServers{
		{Url: "turn:global.turn.twilio.com:3478?transport=udp", Username: "u", Credential: "c"},
	}
	h := NewIceHandlerWithTokens(&fakeTokens{token: &twilioApi.ApiV2010Token{IceServers: &ice}}, []string{"stun:x"})

	rec := httptest.NewRecorder()
	h.GetIceServers(rec, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	servers := decodeServers(t, rec)
	if len(servers) != 1 || servers[0].Username != "u" || servers[0].Credential != "c" {
		t.Errorf("servers = %+v", servers)
	}
}

func TestGetIceServers_TwilioErrorFallsBack(t *testing.T) {
	h := NewIceHandlerWithTokens(&fakeTokens{err: errors.New("boom")}, []string{"stun:x"})

	servers := h.Servers()
	if len(servers) != 1 || servers[0].URLs[0] != "stun:x" {
		t.Errorf("servers = %+v", servers)
	}
}

func TestGetIceServers_Empty(t *testing.T) {
	h := NewIceHandler("", "", nil)
	if got := h.Servers(); got == nil || len(got) != 0 {
		t.Errorf("Servers() = %#v, want empty non-nil", got)
	}
}
