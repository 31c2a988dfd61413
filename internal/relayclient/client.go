// Package relayclient is the participant side of the relay websocket:
// emit events, subscribe to events, learn about connection loss.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ErrNotConnected is returned by Emit once the connection is gone
var ErrNotConnected = errors.New("relay not connected")

// Handler receives the raw content of one event
type Handler func(content json.RawMessage)

type subscription struct {
	id      uint64
	handler Handler
}

type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu           sync.RWMutex
	handlers     map[string][]subscription
	nextID       uint64
	onDisconnect []func()

	done      chan struct{}
	closeOnce sync.Once
}

// SocketURL turns the server base URL into the relay websocket URL
func SocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial connects to the relay as the user the token belongs to
func Dial(ctx context.Context, serverURL, token string) (*Client, error) {
	socketURL, err := SocketURL(serverURL, token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string][]subscription),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Emit sends one event to the relay
func (c *Client) Emit(event string, payload interface{}) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	frame, err := json.Marshal(models.WSMessage{Type: event, Content: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// On subscribes to an event. The returned func removes exactly this
// subscription and is safe to call more than once. Handlers run on the read
// loop in arrival order and must not block.
func (c *Client) On(event string, h Handler) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, handler: h})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(event, id) })
	}
}

// Off removes every handler of an event
func (c *Client) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

func (c *Client) remove(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.handlers[event]
	for i, s := range subs {
		if s.id == id {
			c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// Handlers returns how many handlers an event has
func (c *Client) Handlers(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers[event])
}

// OnDisconnect registers fn to run once the connection is lost or closed.
// Callbacks run on the read loop after it exits, never inside Emit or Close,
// so fn may take locks the Emit caller holds.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.shutdown()
	return err
}

// shutdown closes the socket, which ends the read loop
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) notifyDisconnect() {
	c.mu.RLock()
	callbacks := append([]func(){}, c.onDisconnect...)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.shutdown()
		c.notifyDisconnect()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Relay] Connection error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[Relay] Failed to unmarshal event: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	c.mu.RLock()
	subs := append([]subscription(nil), c.handlers[env.Type]...)
	c.mu.RUnlock()

	for _, s := range subs {
		s.handler(env.Content)
	}
}
