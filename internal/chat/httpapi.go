package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/auth"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// ErrRequestFailed is returned when the server answers success=false
var ErrRequestFailed = errors.New("request failed")

// HTTPAPI is the REST client of the message API
type HTTPAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithToken returns a copy authenticated with token
func (a *HTTPAPI) WithToken(token string) *HTTPAPI {
	c := *a
	c.token = token
	return &c
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body interface{}) (*models.APIResponse, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrRequestFailed, method, path, resp.StatusCode)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, out.Message)
	}
	return &out, nil
}

// Signup creates an account and returns the session token
func (a *HTTPAPI) Signup(ctx context.Context, req auth.SignupRequest) (string, *models.User, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/auth/signup", req)
	if err != nil {
		return "", nil, err
	}
	return resp.Token, resp.UserData, nil
}

// Login returns the session token, the user and the wrapped key bundle
func (a *HTTPAPI) Login(ctx context.Context, email, password string) (string, *models.User, *models.KeyBundle, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return "", nil, nil, err
	}
	if resp.Keys == nil {
		return "", nil, nil, fmt.Errorf("%w: login response carries no keys", ErrRequestFailed)
	}
	return resp.Token, resp.UserData, resp.Keys, nil
}

// Me returns the authenticated user
func (a *HTTPAPI) Me(ctx context.Context) (*models.User, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/auth/check", nil)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (a *HTTPAPI) PublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/users/"+userID.String()+"/public-key", nil)
	if err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

func (a *HTTPAPI) SearchUsers(ctx context.Context, query string) ([]*models.User, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (a *HTTPAPI) Send(ctx context.Context, peer uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/messages/send/"+peer.String(), req)
	if err != nil {
		return nil, err
	}
	return resp.NewMessage, nil
}

func (a *HTTPAPI) Conversation(ctx context.Context, peer uuid.UUID) ([]*models.Message, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/messages/"+peer.String(), nil)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (a *HTTPAPI) MarkSeen(ctx context.Context, messageID uuid.UUID) error {
	_, err := a.do(ctx, http.MethodPut, "/api/messages/mark/"+messageID.String(), nil)
	return err
}

// Contacts returns the sidebar users with their unseen counts
func (a *HTTPAPI) Contacts(ctx context.Context) ([]*models.User, map[uuid.UUID]int, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/messages/users", nil)
	if err != nil {
		return nil, nil, err
	}
	return resp.Users, parseCounts(resp.UnseenMessages), nil
}

// Unseen returns unseen counts per sender
func (a *HTTPAPI) Unseen(ctx context.Context) (map[uuid.UUID]int, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/messages/unseen", nil)
	if err != nil {
		return nil, err
	}
	return parseCounts(resp.UnseenMessages), nil
}

func parseCounts(raw map[string]int) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int, len(raw))
	for k, v := range raw {
		if id, err := uuid.Parse(k); err == nil {
			counts[id] = v
		}
	}
	return counts
}

func (a *HTTPAPI) ICEServers(ctx context.Context) ([]models.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/ice-servers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ICE servers: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		IceServers []models.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ICE servers: %w", err)
	}
	return body.IceServers, nil
}
