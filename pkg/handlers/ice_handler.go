package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

// TokenCreator is the slice of the twilio API the handler needs
type TokenCreator interface {
	CreateToken(params *twilioApi.CreateTokenParams) (*twilioApi.ApiV2010Token, error)
}

type IceHandler struct {
	tokens      TokenCreator
	stunServers []string
}

// NewIceHandler serves TURN credentials from twilio when an account is
// configured, and the static STUN list otherwise or when twilio fails.
func NewIceHandler(accountSid, authToken string, stunServers []string) *IceHandler {
	h := &IceHandler{stunServers: stunServers}
	if accountSid != "" && authToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		})
		h.tokens = client.Api
	}
	return h
}

// NewIceHandlerWithTokens is used when the token source is supplied directly
func NewIceHandlerWithTokens(tokens TokenCreator, stunServers []string) *IceHandler {
	return &IceHandler{tokens: tokens, stunServers: stunServers}
}

// Servers returns the ICE server list, falling back to STUN only
func (h *IceHandler) Servers() []models.ICEServer {
	if h.tokens != nil {
		ttl := 86400
		token, err := h.tokens.CreateToken(&twilioApi.CreateTokenParams{
			Ttl: &ttl,
		})
		if err != nil {
			log.Printf("[ICE] Failed to get twilio token: %v (falling back to STUN)", err)
		} else if token.IceServers != nil {
			servers := make([]models.ICEServer, 0, len(*token.IceServers))
			for _, s := range *token.IceServers {
				servers = append(servers, models.ICEServer{
					URLs:       []string{s.Url},
					Username:   s.Username,
					Credential: s.Credential,
				})
			}
			if len(servers) > 0 {
				return servers
			}
		}
	}

	if len(h.stunServers) == 0 {
		return []models.ICEServer{}
	}
	return []models.ICEServer{{URLs: h.stunServers}}
}

func (h *IceHandler) GetIceServers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"iceServers": h.Servers(),
	})
}
