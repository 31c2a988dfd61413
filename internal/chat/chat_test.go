package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/crypto"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/models"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relayclient"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]relayclient.Handler
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[int]relayclient.Handler)}
}

func (f *fakeSubscriber) On(event string, h relayclient.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSubscriber) deliver(t *testing.T, msg *models.Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	handlers := make([]relayclient.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

type fakeAPI struct {
	mu      sync.Mutex
	keys    map[uuid.UUID]string
	history []*models.Message
	sent    []models.SendMessageRequest
	seen    []uuid.UUID
	counts  map[uuid.UUID]int
	self    uuid.UUID

	// keyGate, when set, holds every key fetch until it is closed
	keyGate chan struct{}
}

func (a *fakeAPI) PublicKey(ctx context.Context, id uuid.UUID) (string, error) {
	if a.keyGate != nil {
		select {
		case <-a.keyGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	k, ok := a.keys[id]
	if !ok {
		return "", errors.New("no key")
	}
	return k, nil
}

func (a *fakeAPI) Send(ctx context.Context, peer uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	msgType := models.MessageTypeText
	if req.Image != "" && req.Text == "" {
		msgType = models.MessageTypeImage
	}
	return &models.Message{
		ID:          uuid.New(),
		SenderID:    a.self,
		ReceiverID:  peer,
		Text:        req.Text,
		Nonce:       req.Nonce,
		Image:       req.Image,
		MessageType: msgType,
	}, nil
}

func (a *fakeAPI) Conversation(ctx context.Context, peer uuid.UUID) ([]*models.Message, error) {
	return a.history, nil
}

func (a *fakeAPI) MarkSeen(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	a.seen = append(a.seen, id)
	a.mu.Unlock()
	return nil
}

func (a *fakeAPI) Contacts(ctx context.Context) ([]*models.User, map[uuid.UUID]int, error) {
	return []*models.User{}, a.counts, nil
}

func (a *fakeAPI) seenIDs() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.seen...)
}

type party struct {
	id      uuid.UUID
	keys    *crypto.KeyPair
	session *crypto.Session
}

func newParty(t *testing.T) *party {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	wrapped, err := crypto.WrapPrivateKey(kp.Private, "pw")
	if err != nil {
		t.Fatal(err)
	}
	s := &crypto.Session{}
	if err := s.Unlock(*wrapped, "pw", kp.Public); err != nil {
		t.Fatal(err)
	}
	return &party{id: uuid.New(), keys: kp, session: s}
}

type fixture struct {
	me, bob, carol *party
	api            *fakeAPI
	events         *fakeSubscriber
	svc            *Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{me: newParty(t), bob: newParty(t), carol: newParty(t)}
	f.api = &fakeAPI{
		self: f.me.id,
		keys: map[uuid.UUID]string{
			f.me.id:    crypto.EncodeKey(f.me.keys.Public),
			f.bob.id:   crypto.EncodeKey(f.bob.keys.Public),
			f.carol.id: crypto.EncodeKey(f.carol.keys.Public),
		},
	}
	f.events = newFakeSubscriber()
	f.svc = NewService(f.me.id, f.api, f.events, f.me.session)
	t.Cleanup(f.svc.Stop)
	return f
}

// settle waits until the worker has run everything queued so far
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	if !f.svc.enqueue(func() { close(done) }) {
		t.Fatal("worker not accepting jobs")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain")
	}
}

// sealFrom builds a message from p to me
func (f *fixture) sealFrom(t *testing.T, p *party, text string) *models.Message {
	t.Helper()
	sealed, err := p.session.Seal(text, f.me.keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	return &models.Message{
		ID:          uuid.New(),
		SenderID:    p.id,
		ReceiverID:  f.me.id,
		Text:        sealed.Text,
		Nonce:       sealed.Nonce,
		MessageType: models.MessageTypeText,
	}
}

func TestSendMessageEncryptsForPeer(t *testing.T) {
	f := newFixture(t)

	dm, err := f.svc.SendMessage(context.Background(), f.bob.id, Content{Text: "hello bob"})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if dm.Plaintext != "hello bob" {
		t.Errorf("plaintext = %q", dm.Plaintext)
	}

	req := f.api.sent[0]
	if req.Text == "" || req.Nonce == "" || req.Text == "hello bob" {
		t.Fatalf("request not encrypted: %+v", req)
	}

	got, err := f.bob.session.Open(req.Text, req.Nonce, f.me.keys.Public)
	if err != nil || got != "hello bob" {
		t.Errorf("bob opened %q, %v", got, err)
	}
}

func TestSendImageSkipsCipher(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SendMessage(context.Background(), f.bob.id, Content{Image: "data:image/png;base64,AAAA"}); err != nil {
		t.Fatal(err)
	}
	req := f.api.sent[0]
	if req.Nonce != "" || req.Text != "" || req.Image == "" {
		t.Errorf("image request = %+v", req)
	}

	if _, err := f.svc.SendMessage(context.Background(), f.bob.id, Content{}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content error = %v", err)
	}
}

func TestSendLockedSession(t *testing.T) {
	f := newFixture(t)
	f.me.session.Lock()

	_, err := f.svc.SendMessage(context.Background(), f.bob.id, Content{Text: "hi"})
	if !errors.Is(err, crypto.ErrLocked) {
		t.Errorf("SendMessage() = %v, want ErrLocked", err)
	}
	if len(f.api.sent) != 0 {
		t.Errorf("message submitted while locked")
	}
}

func TestOpenDecryptsHistoryBothDirections(t *testing.T) {
	f := newFixture(t)

	incoming := f.sealFrom(t, f.bob, "from bob")
	sealed, err := f.me.session.Seal("from me", f.bob.keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	outgoing := &models.Message{
		ID: uuid.New(), SenderID: f.me.id, ReceiverID: f.bob.id,
		Text: sealed.Text, Nonce: sealed.Nonce, MessageType: models.MessageTypeText,
	}
	callLog := &models.Message{
		ID: uuid.New(), SenderID: f.bob.id, ReceiverID: f.me.id,
		Text: "📞 Audio call completed - 0:07", MessageType: models.MessageTypeCall,
		CallType: models.CallTypeAudio, Duration: "0:07",
	}
	f.api.history = []*models.Message{incoming, outgoing, callLog}

	msgs, err := f.svc.Open(context.Background(), f.bob.id)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	want := []string{"from bob", "from me", "📞 Audio call completed - 0:07"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i, w := range want {
		if msgs[i].Plaintext != w || msgs[i].Undecryptable {
			t.Errorf("message %d = %q (undecryptable=%v), want %q", i, msgs[i].Plaintext, msgs[i].Undecryptable, w)
		}
	}
}

func TestTamperedMessageUndecryptable(t *testing.T) {
	f := newFixture(t)
	msg := f.sealFrom(t, f.bob, "secret")
	// Sealed by bob but claimed to be from carol.
	msg.SenderID = f.carol.id
	f.api.history = []*models.Message{msg}

	msgs, err := f.svc.Open(context.Background(), f.carol.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].Undecryptable || msgs[0].Plaintext != "" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestLiveMessageForOpenConversation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Open(context.Background(), f.bob.id); err != nil {
		t.Fatal(err)
	}

	var observed []string
	f.svc.OnMessage(func(dm DisplayMessage) { observed = append(observed, dm.Plaintext) })

	msg := f.sealFrom(t, f.bob, "live")
	f.events.deliver(t, msg)
	f.settle(t)

	msgs := f.svc.Messages()
	if len(msgs) != 1 || msgs[0].Plaintext != "live" {
		t.Fatalf("messages = %+v", msgs)
	}
	if len(f.svc.Unseen()) != 0 {
		t.Errorf("open conversation counted as unseen: %v", f.svc.Unseen())
	}
	if len(observed) != 1 {
		t.Errorf("observer called %d times", len(observed))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.api.seenIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ids := f.api.seenIDs(); len(ids) != 1 || ids[0] != msg.ID {
		t.Errorf("marked seen = %v", ids)
	}

	// Redelivery of the same id is not appended twice.
	f.events.deliver(t, msg)
	f.settle(t)
	if n := len(f.svc.Messages()); n != 1 {
		t.Errorf("duplicate appended, %d messages", n)
	}
}

func TestUnseenCounting(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Open(context.Background(), f.bob.id); err != nil {
		t.Fatal(err)
	}

	f.events.deliver(t, f.sealFrom(t, f.carol, "one"))
	f.events.deliver(t, f.sealFrom(t, f.carol, "two"))
	f.events.deliver(t, f.sealFrom(t, f.bob, "open"))
	f.settle(t)

	unseen := f.svc.Unseen()
	if unseen[f.carol.id] != 2 || unseen[f.bob.id] != 0 {
		t.Errorf("unseen = %v", unseen)
	}
	if n := len(f.svc.Messages()); n != 1 {
		t.Errorf("carol's messages leaked into bob's conversation: %d", n)
	}

	if _, err := f.svc.Open(context.Background(), f.carol.id); err != nil {
		t.Fatal(err)
	}
	if n := f.svc.Unseen()[f.carol.id]; n != 0 {
		t.Errorf("opening did not reset counter: %d", n)
	}
}

func TestOpenSubscribesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	base := f.events.count()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Open(context.Background(), f.bob.id); err != nil {
			t.Fatal(err)
		}
		if n := f.events.count(); n != base+1 {
			t.Fatalf("after open %d: %d handlers, want %d", i, n, base+1)
		}
	}

	f.svc.Close()
	if n := f.events.count(); n != base {
		t.Errorf("after close: %d handlers, want %d", n, base)
	}
	f.svc.Close()
	if n := f.events.count(); n != base {
		t.Errorf("second close changed handlers: %d", n)
	}

	// With nothing open every arrival is unseen.
	f.events.deliver(t, f.sealFrom(t, f.bob, "later"))
	if n := f.svc.Unseen()[f.bob.id]; n != 1 {
		t.Errorf("unseen after close = %d", n)
	}

	f.svc.Stop()
	if n := f.events.count(); n != 0 {
		t.Errorf("after Stop: %d handlers", n)
	}
}

func TestLoadContactsSeedsUnseen(t *testing.T) {
	f := newFixture(t)
	f.api.counts = map[uuid.UUID]int{f.bob.id: 3, f.carol.id: 1}

	if _, err := f.svc.Open(context.Background(), f.carol.id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.LoadContacts(context.Background()); err != nil {
		t.Fatal(err)
	}

	unseen := f.svc.Unseen()
	if unseen[f.bob.id] != 3 {
		t.Errorf("bob unseen = %d", unseen[f.bob.id])
	}
	if unseen[f.carol.id] != 0 {
		t.Errorf("open conversation seeded: %d", unseen[f.carol.id])
	}
}

func TestOwnEchoNotCounted(t *testing.T) {
	f := newFixture(t)
	sealed, err := f.me.session.Seal("mine", f.bob.keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	f.events.deliver(t, &models.Message{
		ID: uuid.New(), SenderID: f.me.id, ReceiverID: f.bob.id,
		Text: sealed.Text, Nonce: sealed.Nonce, MessageType: models.MessageTypeText,
	})
	if len(f.svc.Unseen()) != 0 {
		t.Errorf("own message counted: %v", f.svc.Unseen())
	}
}

func TestSlowKeyFetchDoesNotBlockDelivery(t *testing.T) {
	f := newFixture(t)
	f.api.keyGate = make(chan struct{})
	if _, err := f.svc.Open(context.Background(), f.bob.id); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var observed []string
	f.svc.OnMessage(func(dm DisplayMessage) {
		mu.Lock()
		observed = append(observed, dm.Plaintext)
		mu.Unlock()
	})

	// a second subscriber on the same connection
	other := make(chan struct{}, 1)
	f.events.On(models.EventICECandidate, func(json.RawMessage) {
		select {
		case other <- struct{}{}:
		default:
		}
	})

	delivered := make(chan struct{})
	go func() {
		f.events.deliver(t, f.sealFrom(t, f.bob, "first"))
		f.events.deliver(t, f.sealFrom(t, f.bob, "second"))
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("handlers blocked on the key fetch")
	}
	select {
	case <-other:
	default:
		t.Error("second subscriber was not reached")
	}

	close(f.api.keyGate)
	f.settle(t)

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 2 || observed[0] != "first" || observed[1] != "second" {
		t.Errorf("observed = %v, want [first second]", observed)
	}
}
