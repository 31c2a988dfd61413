// Package chat composes the client side of message delivery: encrypt and
// send, receive and decrypt live messages, and track unseen counts per peer.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/crypto"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relayclient"
)

const (
	handlerTimeout = 10 * time.Second
	queueSize      = 256
)

// ErrEmptyContent is returned when a message has neither text nor image
var ErrEmptyContent = errors.New("message has neither text nor image")

// API is the server-side message store as the client sees it. HTTPAPI
// implements it.
type API interface {
	PublicKey(ctx context.Context, userID uuid.UUID) (string, error)
	Send(ctx context.Context, peer uuid.UUID, req models.SendMessageRequest) (*models.Message, error)
	Conversation(ctx context.Context, peer uuid.UUID) ([]*models.Message, error)
	MarkSeen(ctx context.Context, messageID uuid.UUID) error
	Contacts(ctx context.Context) ([]*models.User, map[uuid.UUID]int, error)
}

// Subscriber delivers relay events. relayclient.Client implements it.
type Subscriber interface {
	On(event string, h relayclient.Handler) (off func())
}

// Cipher seals and opens text with the local private key.
// crypto.Session implements it.
type Cipher interface {
	Seal(plaintext string, peerPub *[crypto.KeySize]byte) (*crypto.Sealed, error)
	Open(ciphertext, nonce string, senderPub *[crypto.KeySize]byte) (string, error)
}

// Content is what the user typed or picked
type Content struct {
	Text  string
	Image string
}

// DisplayMessage is a stored message with its decrypted text
type DisplayMessage struct {
	*models.Message
	Plaintext     string
	Undecryptable bool
}

type Service struct {
	self   uuid.UUID
	api    API
	events Subscriber
	cipher Cipher

	keysMu sync.Mutex
	keys   map[uuid.UUID]*[crypto.KeySize]byte

	mu            sync.Mutex
	open          uuid.UUID
	messages      []DisplayMessage
	unseen        map[uuid.UUID]int
	offOpen       func()
	offBackground func()
	observers     []func(DisplayMessage)

	// key fetches and decryption run here, off the relay read loop, in
	// arrival order
	work     chan func()
	quit     chan struct{}
	stopOnce sync.Once
}

// NewService starts counting unseen messages immediately. Stop releases
// that subscription.
func NewService(self uuid.UUID, api API, events Subscriber, cipher Cipher) *Service {
	s := &Service{
		self:   self,
		api:    api,
		events: events,
		cipher: cipher,
		keys:   make(map[uuid.UUID]*[crypto.KeySize]byte),
		unseen: make(map[uuid.UUID]int),
		work:   make(chan func(), queueSize),
		quit:   make(chan struct{}),
	}
	go s.run()
	s.offBackground = events.On(models.EventNewMessage, s.handleBackground)
	return s
}

// Stop releases every subscription and the delivery worker
func (s *Service) Stop() {
	s.mu.Lock()
	if s.offOpen != nil {
		s.offOpen()
		s.offOpen = nil
	}
	if s.offBackground != nil {
		s.offBackground()
		s.offBackground = nil
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *Service) run() {
	for {
		select {
		case job := <-s.work:
			job()
		case <-s.quit:
			return
		}
	}
}

// enqueue hands job to the worker without blocking the caller
func (s *Service) enqueue(job func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.work <- job:
		return true
	default:
		log.Printf("[Chat] Delivery queue full, dropping event")
		return false
	}
}

// OnMessage registers an observer for every live message, decrypted
func (s *Service) OnMessage(fn func(DisplayMessage)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// peerKey returns a peer's public key, fetching it once
func (s *Service) peerKey(ctx context.Context, peer uuid.UUID) (*[crypto.KeySize]byte, error) {
	s.keysMu.Lock()
	key, ok := s.keys[peer]
	s.keysMu.Unlock()
	if ok {
		return key, nil
	}

	encoded, err := s.api.PublicKey(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	key, err = crypto.DecodeKey(encoded)
	if err != nil {
		return nil, err
	}

	s.keysMu.Lock()
	s.keys[peer] = key
	s.keysMu.Unlock()
	return key, nil
}

// SendMessage encrypts text for peer and submits it. Images are sent as
// given. The server routes newMessage to the peer when online.
func (s *Service) SendMessage(ctx context.Context, peer uuid.UUID, content Content) (*DisplayMessage, error) {
	if content.Text == "" && content.Image == "" {
		return nil, ErrEmptyContent
	}

	var req models.SendMessageRequest
	if content.Text != "" {
		pub, err := s.peerKey(ctx, peer)
		if err != nil {
			return nil, err
		}
		sealed, err := s.cipher.Seal(content.Text, pub)
		if err != nil {
			return nil, err
		}
		req.Text, req.Nonce = sealed.Text, sealed.Nonce
	}
	req.Image = content.Image

	msg, err := s.api.Send(ctx, peer, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	dm := DisplayMessage{Message: msg, Plaintext: content.Text}
	s.mu.Lock()
	if s.open == peer {
		s.appendLocked(dm)
	}
	s.mu.Unlock()
	return &dm, nil
}

// decrypt opens a message's text. The box key is always the other party's
// public key, so our own sent messages open the same way.
func (s *Service) decrypt(ctx context.Context, msg *models.Message) DisplayMessage {
	dm := DisplayMessage{Message: msg}
	if msg.Text == "" || msg.Nonce == "" {
		dm.Plaintext = msg.Text
		return dm
	}

	other := msg.SenderID
	if other == s.self {
		other = msg.ReceiverID
	}

	pub, err := s.peerKey(ctx, other)
	if err != nil {
		log.Printf("[Chat] No public key for %s: %v", other, err)
		dm.Undecryptable = true
		return dm
	}

	text, err := s.cipher.Open(msg.Text, msg.Nonce, pub)
	if err != nil {
		log.Printf("[Chat] Message %s undecryptable: %v", msg.ID, err)
		dm.Undecryptable = true
		return dm
	}
	dm.Plaintext = text
	return dm
}

// Open makes peer the current conversation. Any previous conversation's
// subscription is released first; the peer's unseen counter is zeroed and
// the server marks the history seen.
func (s *Service) Open(ctx context.Context, peer uuid.UUID) ([]DisplayMessage, error) {
	s.mu.Lock()
	if s.offOpen != nil {
		s.offOpen()
	}
	s.open = peer
	s.messages = nil
	s.unseen[peer] = 0
	s.offOpen = s.events.On(models.EventNewMessage, s.HandleNewMessage)
	s.mu.Unlock()

	history, err := s.api.Conversation(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	decrypted := make([]DisplayMessage, 0, len(history))
	for _, msg := range history {
		decrypted = append(decrypted, s.decrypt(ctx, msg))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != peer {
		return decrypted, nil
	}
	live := s.messages
	s.messages = decrypted
	for _, dm := range live {
		s.appendLocked(dm)
	}
	return s.messagesLocked(), nil
}

// Close leaves the current conversation
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offOpen != nil {
		s.offOpen()
		s.offOpen = nil
	}
	s.open = uuid.Nil
	s.messages = nil
}

// Current returns the open peer, or uuid.Nil
func (s *Service) Current() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// HandleNewMessage is the live path for the open conversation. The frame is
// decoded on the caller's goroutine; decrypting, appending and marking seen
// happen on the worker.
func (s *Service) HandleNewMessage(raw json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[Chat] Malformed newMessage: %v", err)
		return
	}

	s.mu.Lock()
	peer := s.open
	s.mu.Unlock()
	if peer == uuid.Nil || !involves(&msg, s.self, peer) {
		return
	}
	s.enqueue(func() { s.deliverOpen(peer, &msg) })
}

func (s *Service) deliverOpen(peer uuid.UUID, msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	dm := s.decrypt(ctx, msg)

	s.mu.Lock()
	if s.open != peer {
		s.mu.Unlock()
		return
	}
	s.appendLocked(dm)
	s.mu.Unlock()

	if msg.SenderID == peer {
		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			if err := s.api.MarkSeen(ctx, id); err != nil {
				log.Printf("[Chat] Failed to mark message seen: %v", err)
			}
		}(msg.ID)
	}
	s.notify(dm)
}

// handleBackground counts arrivals from peers other than the open one
func (s *Service) handleBackground(raw json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.SenderID == s.self {
		return
	}

	s.mu.Lock()
	if s.open == msg.SenderID {
		s.mu.Unlock()
		return
	}
	s.unseen[msg.SenderID]++
	watching := len(s.observers) > 0
	s.mu.Unlock()

	if watching {
		s.enqueue(func() {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			s.notify(s.decrypt(ctx, &msg))
		})
	}
}

func (s *Service) notify(dm DisplayMessage) {
	s.mu.Lock()
	observers := append([]func(DisplayMessage){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(dm)
	}
}

func involves(msg *models.Message, self, peer uuid.UUID) bool {
	return (msg.SenderID == peer && msg.ReceiverID == self) ||
		(msg.SenderID == self && msg.ReceiverID == peer)
}

// appendLocked adds a message unless one with the same id is present
func (s *Service) appendLocked(dm DisplayMessage) {
	for _, m := range s.messages {
		if m.ID == dm.ID {
			return
		}
	}
	s.messages = append(s.messages, dm)
}

// Messages returns the open conversation
func (s *Service) Messages() []DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *Service) messagesLocked() []DisplayMessage {
	return append([]DisplayMessage(nil), s.messages...)
}

// Unseen returns a copy of the unseen counters
func (s *Service) Unseen() map[uuid.UUID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]int, len(s.unseen))
	for k, v := range s.unseen {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// LoadContacts fetches the sidebar and seeds the unseen counters from the
// server, except for the open conversation.
func (s *Service) LoadContacts(ctx context.Context) ([]*models.User, error) {
	users, counts, err := s.api.Contacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for peer, n := range counts {
		if peer == s.open {
			continue
		}
		s.unseen[peer] = n
	}
	return users, nil
}
