package dispatch

import (
	"crypto/sha512"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
	"github.com/Hamza1s34/Gumnam/internal/protocol"
	"github.com/Hamza1s34/Gumnam/internal/store"
)

// fakeStore is a minimal in-memory store.Store used to unit-test dispatch's
// routing logic without a real database.
type fakeStore struct {
	mu       sync.Mutex
	contacts map[string]store.Contact
	messages map[string]store.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{contacts: map[string]store.Contact{}, messages: map[string]store.Message{}}
}

func (f *fakeStore) AddContact(addr, nickname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[addr] = store.Contact{Address: addr, Nickname: nickname}
	return nil
}
func (f *fakeStore) GetContact(addr string) (*store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[addr]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (f *fakeStore) ListContacts() ([]store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Contact
	for _, c := range f.contacts {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStore) DeleteContact(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contacts, addr)
	return nil
}
func (f *fakeStore) SaveMessage(m store.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.messages[m.ID]; exists {
		return false, nil
	}
	f.messages[m.ID] = m
	return true, nil
}
func (f *fakeStore) ListMessages(peer string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.messages {
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeStore) MarkRead(id string) error { return nil }
func (f *fakeStore) ClearChat(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.messages {
		if m.Sender == addr || m.Recipient == addr {
			delete(f.messages, id)
		}
	}
	return nil
}
func (f *fakeStore) Wipe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = map[string]store.Contact{}
	f.messages = map[string]store.Message{}
	return nil
}
func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

func newTestEngine(t *testing.T, seed byte) (*Engine, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseDir = t.TempDir()

	e := New(cfg, newFakeStore())

	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	h := sha512.Sum512(s[:])
	var exp cryptocore.ExpandedSecret
	copy(exp[:32], h[:32])
	exp[0] &= 248
	exp[31] &= 127
	exp[31] |= 64
	copy(exp[32:], h[32:])
	require.NoError(t, e.core.Install(exp))

	vfy, err := e.core.VerifyingKey()
	require.NoError(t, err)
	return e, address.Encode(vfy)
}

// TestAddContactRejectsInvalidAddress covers S4: a textually-short address
// must be rejected before any store mutation or handshake dispatch.
func TestAddContactRejectsInvalidAddress(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	err := e.AddContact(t.Context(), "too-short-address", "")
	require.True(t, errs.Is(err, errs.InvalidAddress))

	list, err := e.store.ListContacts()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDispatchParsedMessageDropsMalformedAndInvalid(t *testing.T) {
	e, _ := newTestEngine(t, 2)

	e.dispatchParsedMessage("not json")
	e.dispatchParsedMessage(`{"id":"","kind":"text","version":"1.0"}`)

	list, err := e.store.ListMessages("", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestHandleHandshakeUpsertsContactAndQueuesResponse(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	peerCore, peerAddr := newTestEngine(t, 4)
	_ = peerCore

	msg := protocol.NewHandshake(peerAddr, "self-placeholder", false)
	require.NoError(t, protocol.Sign(&msg, peerCore.core))

	e.handleHandshake(msg)

	c, err := e.store.GetContact(peerAddr)
	require.NoError(t, err)
	require.NotNil(t, c)

	select {
	case in := <-e.intents:
		require.Equal(t, intentHandshakeResponse, in.kind)
		require.Equal(t, peerAddr, in.peer)
	default:
		t.Fatal("expected a queued handshake-response intent")
	}
}

func TestHandleHandshakeResponseDoesNotRequeue(t *testing.T) {
	e, _ := newTestEngine(t, 5)
	peerCore, peerAddr := newTestEngine(t, 6)

	msg := protocol.NewHandshake(peerAddr, "self-placeholder", true)
	require.NoError(t, protocol.Sign(&msg, peerCore.core))

	e.handleHandshake(msg)

	select {
	case <-e.intents:
		t.Fatal("a handshake response must not itself queue another response")
	default:
	}
}

// TestHandleTextPersistsDecryptedMessageIdempotently covers Testable
// Property #6 at the dispatch layer: delivering the same encrypted text
// message twice must store it once.
func TestHandleTextPersistsDecryptedMessageIdempotently(t *testing.T) {
	recipient, recipientAddr := newTestEngine(t, 7)
	senderCore, senderAddr := newTestEngine(t, 8)

	env, err := senderCore.core.Encrypt([]byte("hello there"), recipientAddr)
	require.NoError(t, err)
	msg := protocol.NewEncryptedText(senderAddr, recipientAddr, env)
	require.NoError(t, protocol.Sign(&msg, senderCore.core))

	recipient.handleText(msg)
	recipient.handleText(msg)

	list, err := recipient.store.ListMessages("", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, senderAddr, list[0].Sender)
}

// TestHandleHandshakeStormQueuesAllResponsesWithoutDeadlock covers Testable
// Property #8: N>=64 concurrent inbound handshakes must all be processed,
// each queuing exactly one response intent, without the store's locking and
// the outbound-intent channel send deadlocking against each other.
func TestHandleHandshakeStormQueuesAllResponsesWithoutDeadlock(t *testing.T) {
	const n = 64
	e, _ := newTestEngine(t, 20)

	msgs := make([]protocol.Message, n)
	peers := make([]string, n)
	for i := 0; i < n; i++ {
		peerCore, peerAddr := newTestEngine(t, byte(21+i))
		msg := protocol.NewHandshake(peerAddr, "self-placeholder", false)
		require.NoError(t, protocol.Sign(&msg, peerCore.core))
		msgs[i] = msg
		peers[i] = peerAddr
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(msg protocol.Message) {
			defer wg.Done()
			e.handleHandshake(msg)
		}(msgs[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handleHandshake storm deadlocked")
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		select {
		case in := <-e.intents:
			require.Equal(t, intentHandshakeResponse, in.kind)
			seen[in.peer] = true
		default:
			t.Fatalf("expected %d queued intents, got %d", n, i)
		}
	}
	require.Len(t, seen, n)

	for _, p := range peers {
		c, err := e.store.GetContact(p)
		require.NoError(t, err)
		require.NotNil(t, c)
	}
}

func TestHandleTextDropsUndecryptableEnvelope(t *testing.T) {
	recipient, recipientAddr := newTestEngine(t, 9)
	_, otherAddr := newTestEngine(t, 10)
	senderCore, senderAddr := newTestEngine(t, 11)

	// Encrypt to the wrong recipient so recipient's Decrypt fails.
	env, err := senderCore.core.Encrypt([]byte("not for you"), otherAddr)
	require.NoError(t, err)
	msg := protocol.NewEncryptedText(senderAddr, recipientAddr, env)
	require.NoError(t, protocol.Sign(&msg, senderCore.core))

	recipient.handleText(msg)

	list, err := recipient.store.ListMessages("", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}
