package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

func TestHTTPAPISendAndContacts(t *testing.T) {
	peer := uuid.New()
	var gotAuth string
	var gotBody models.SendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/messages/send/"+peer.String():
			json.NewDecoder(r.Body).Decode(&gotBody)
			json.NewEncoder(w).Encode(models.APIResponse{
				Success:    true,
				NewMessage: &models.Message{ID: uuid.New(), ReceiverID: peer, Text: gotBody.Text, Nonce: gotBody.Nonce},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/messages/users":
			json.NewEncoder(w).Encode(models.APIResponse{
				Success:        true,
				Users:          []*models.User{{ID: peer, FullName: "Bob"}},
				UnseenMessages: map[string]int{peer.String(): 4, "not-a-uuid": 1},
			})
		default:
			json.NewEncoder(w).Encode(models.APIResponse{Success: false, Message: "Not found"})
		}
	}))
	defer srv.Close()

	api := NewHTTPAPI(srv.URL+"/", "tok")
	ctx := context.Background()

	msg, err := api.Send(ctx, peer, models.SendMessageRequest{Text: "ct", Nonce: "n"})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if msg.Text != "ct" || gotBody.Nonce != "n" {
		t.Errorf("message = %+v, body = %+v", msg, gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	users, counts, err := api.Contacts(ctx)
	if err != nil {
		t.Fatalf("Contacts() failed: %v", err)
	}
	if len(users) != 1 || counts[peer] != 4 || len(counts) != 1 {
		t.Errorf("users = %v, counts = %v", users, counts)
	}

	if err := api.MarkSeen(ctx, uuid.New()); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("MarkSeen() = %v, want ErrRequestFailed", err)
	}
}

func TestHTTPAPILoginRequiresKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.APIResponse{Success: true, Token: "t", UserData: &models.User{}})
	}))
	defer srv.Close()

	_, _, _, err := NewHTTPAPI(srv.URL, "").Login(context.Background(), "a@b.c", "pw")
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Login() = %v", err)
	}
}

func TestHTTPAPINonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewHTTPAPI(srv.URL, "t").Me(context.Background()); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Me() = %v", err)
	}
}
