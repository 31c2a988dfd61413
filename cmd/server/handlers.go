package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/auth"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/keys"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/messaging"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/ratelimit"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/storage"
)

const searchLimit = 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

func userIDFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

// pathID parses the {id} route variable
func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

// Status and health

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"onlineUsers": s.relayService.Registry().Len(),
		"images":      s.storageService != nil,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Auth

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.authService.CreateUser(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidSignup):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "Account already exists")
		return
	case err != nil:
		log.Printf("[Server] Signup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	token, err := s.authService.GenerateSessionToken(user.ID)
	if err != nil {
		log.Printf("[Server] Failed to issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	log.Printf("[Server] New account %s", user.ID)
	writeJSON(w, http.StatusCreated, models.APIResponse{
		Success:  true,
		Message:  "Account created successfully",
		Token:    token,
		UserData: user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, bundle, err := s.authService.AuthenticateByEmail(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		log.Printf("[Server] Login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := s.authService.GenerateSessionToken(user.ID)
	if err != nil {
		log.Printf("[Server] Failed to issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success:  true,
		Message:  "Login successful",
		Token:    token,
		UserData: user,
		Keys:     bundle,
	})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), userIDFrom(r))
	if errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		log.Printf("[Server] Failed to load user: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	bundle, err := s.keyDirectory.Bundle(r.Context(), user.ID)
	if err != nil {
		log.Printf("[Keys] Bundle for %s unavailable: %v", user.ID, err)
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, User: user, Keys: bundle})
}

// Users and keys

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Users: []*models.User{}})
		return
	}

	limit := searchLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}

	users, err := s.authService.SearchUsers(r.Context(), query, userIDFrom(r), limit)
	if err != nil {
		log.Printf("[Server] User search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Users: users})
}

func (s *Server) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	publicKey, err := s.keyDirectory.PublicKey(r.Context(), id)
	if errors.Is(err, keys.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "Public key not found")
		return
	}
	if err != nil {
		log.Printf("[Keys] Lookup for %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch public key")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, PublicKey: publicKey})
}

// handlePresence answers from the relay registry first, then the redis mirror
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if _, online := s.relayService.Registry().Lookup(id); online {
		writeJSON(w, http.StatusOK, models.Presence{UserID: id, Status: models.PresenceOnline, LastSeenAt: time.Now()})
		return
	}

	p, err := s.messagingService.GetPresence(r.Context(), id)
	switch {
	case errors.Is(err, messaging.ErrPresenceNotFound):
		writeJSON(w, http.StatusOK, models.Presence{UserID: id, Status: models.PresenceOffline})
	case errors.Is(err, messaging.ErrRedisUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Presence is not available")
	case err != nil:
		log.Printf("[Server] Presence lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load presence")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

// Messages

func encodeCounts(counts map[uuid.UUID]int) map[string]int {
	out := make(map[string]int, len(counts))
	for id, n := range counts {
		out[id.String()] = n
	}
	return out
}

func (s *Server) handleSidebarUsers(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	users, err := s.messagingService.Contacts(r.Context(), userID)
	if err != nil {
		log.Printf("[Chat] Contacts for %s failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load users")
		return
	}
	counts, err := s.messagingService.UnseenCounts(r.Context(), userID)
	if err != nil {
		log.Printf("[Chat] Unseen counts for %s failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load users")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success:        true,
		Users:          users,
		UnseenMessages: encodeCounts(counts),
	})
}

func (s *Server) handleUnseen(w http.ResponseWriter, r *http.Request) {
	counts, err := s.messagingService.UnseenCounts(r.Context(), userIDFrom(r))
	if err != nil {
		log.Printf("[Chat] Unseen counts failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load unseen counts")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, UnseenMessages: encodeCounts(counts)})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	peerID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	messages, err := s.messagingService.GetConversation(r.Context(), userIDFrom(r), peerID)
	if err != nil {
		log.Printf("[Chat] Conversation load failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Messages: messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	senderID := userIDFrom(r)
	receiverID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := s.rateLimiter.CheckMessageSend(r.Context(), senderID.String()); errors.Is(err, ratelimit.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, "Too many messages, slow down")
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       req.Text,
		Nonce:      req.Nonce,
	}

	if req.Image != "" {
		if s.storageService == nil {
			writeError(w, http.StatusServiceUnavailable, "Image messages are not available")
			return
		}
		ref, err := s.storageService.UploadImage(r.Context(), senderID, req.Image)
		switch {
		case errors.Is(err, storage.ErrInvalidDataURL), errors.Is(err, storage.ErrUnsupportedImage):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, storage.ErrImageTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		case err != nil:
			log.Printf("[Storage] Upload failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to upload image")
			return
		}
		msg.Image = ref
	}

	created, err := s.messagingService.CreateMessage(r.Context(), msg)
	if err != nil {
		if errors.Is(err, models.ErrEmptyMessage) || errors.Is(err, models.ErrNonceMismatch) || errors.Is(err, models.ErrImageWithNonce) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, messaging.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("[Chat] Failed to store message: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	if s.relayService.Route(receiverID, models.EventNewMessage, created) {
		log.Printf("[Chat] Delivered %s to %s", created.ID, receiverID)
	}

	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true, NewMessage: created})
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	err := s.messagingService.MarkSeen(r.Context(), messageID, userIDFrom(r))
	switch {
	case errors.Is(err, messaging.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, messaging.ErrNotReceiver):
		writeError(w, http.StatusForbidden, "Not allowed")
	case err != nil:
		log.Printf("[Chat] Mark seen failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to mark message")
	default:
		writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
	}
}

// Images

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	if s.storageService == nil {
		writeError(w, http.StatusNotFound, "Image storage is not configured")
		return
	}

	target, err := s.storageService.DownloadURL(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		log.Printf("[Storage] %v", err)
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Relay

// handleSocket authenticates the websocket by query token. An explicit
// userId parameter must agree with the token.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = requestToken(r)
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := s.authService.ValidateSessionToken(token)
	if err != nil {
		log.Printf("[Relay] Rejected socket: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != userID.String() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.relayService.ServeWS(w, r, userID)
}
