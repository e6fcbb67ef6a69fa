// Package dispatch composes the address, crypto, protocol, store, overlay,
// and offline packages into the user-facing behaviours: starting up a local
// identity, adding contacts, sending text, and handling inbound frames.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
	"github.com/Hamza1s34/Gumnam/internal/offline"
	"github.com/Hamza1s34/Gumnam/internal/overlay"
	"github.com/Hamza1s34/Gumnam/internal/protocol"
	"github.com/Hamza1s34/Gumnam/internal/store"
)

// outboundIntentQueueSize bounds the worker queue that response handshakes
// are drained from, so the inbound handler
// never blocks waiting for network I/O (see the lock-order Design Note).
const outboundIntentQueueSize = 256

// intent is a unit of self-initiated outbound work, queued by the inbound
// handler instead of being sent inline while holding a lock.
type intent struct {
	kind intentKind
	peer string
}

type intentKind int

const (
	intentHandshakeResponse intentKind = iota
)

// Engine is the top-level state machine composing every component.
type Engine struct {
	cfg     *config.Config
	core    *cryptocore.Core
	store   store.Store
	overlay *overlay.Service

	intents chan intent
	wg      sync.WaitGroup
}

// New constructs an Engine bound to cfg, with st as its message/contact
// store. The caller owns st's lifecycle beyond Close (called from Shutdown).
func New(cfg *config.Config, st store.Store) *Engine {
	return &Engine{
		cfg:     cfg,
		core:    cryptocore.New(),
		store:   st,
		overlay: overlay.New(cfg),
		intents: make(chan intent, outboundIntentQueueSize),
	}
}

// Startup brings up the crypto core and overlay transport, waits for the
// hidden-service address, installs the expanded secret, registers the
// inbound callback, starts the outbound-intent worker, and kicks off a
// one-shot task to fetch and process any staged offline messages.
func (e *Engine) Startup(ctx context.Context, torBinary string) (string, error) {
	const op = "dispatch.Startup"

	e.overlay.SetMessageHandler(e.handleInboundFrame)
	e.overlay.SetBootstrapCallback(func(pct int, phase string) {
		log.Printf("[dispatch] bootstrap %d%% (%s)", pct, phase)
	})

	if err := e.overlay.Start(torBinary); err != nil {
		return "", err
	}

	addr := e.overlay.Address()
	if addr == "" {
		return "", errs.New(op, errs.StartFailed, fmt.Errorf("overlay did not publish a hidden-service address within the bootstrap window"))
	}

	exp, err := loadExpandedSecret(e.cfg.HiddenServiceDir())
	if err != nil {
		return "", errs.New(op, errs.KeyLoading, err)
	}
	if err := e.core.Install(exp); err != nil {
		return "", err
	}

	vfy, err := e.core.VerifyingKey()
	if err != nil {
		return "", err
	}
	if address.Encode(vfy) != addr {
		log.Printf("[dispatch] warning: installed identity does not match published hidden-service address")
	}

	e.wg.Add(1)
	go e.runOutboundWorker()

	go e.fetchStagedOnce(ctx, addr)

	log.Printf("[dispatch] started with address %s", addr)
	return addr, nil
}

// Shutdown stops the overlay transport and the outbound worker, then closes
// the store.
func (e *Engine) Shutdown() error {
	close(e.intents)
	e.wg.Wait()
	if err := e.overlay.Stop(); err != nil {
		return err
	}
	return e.store.Close()
}

// AddContact validates addr, inserts it into the store, and dispatches an
// initiating handshake (is_response=false).
func (e *Engine) AddContact(ctx context.Context, addr, nickname string) error {
	const op = "dispatch.AddContact"

	if _, err := address.Decode(addr); err != nil {
		return err // already errs.InvalidAddress
	}
	if nickname == "" {
		nickname = defaultNickname(addr)
	}
	if err := e.store.AddContact(addr, nickname); err != nil {
		return err
	}

	selfAddr, err := e.selfAddress()
	if err != nil {
		return errs.New(op, errs.KeyLoading, err)
	}

	msg := protocol.NewHandshake(selfAddr, addr, false)
	if err := protocol.Sign(&msg, e.core); err != nil {
		return err
	}
	e.sendOrStage(ctx, addr, msg)
	return nil
}

// SendText encrypts plaintext for peer, wraps it as a signed encrypted-text
// message, and attempts direct delivery; on failure it falls back to the
// offline store. Either way the intent is persisted as a sent message.
func (e *Engine) SendText(ctx context.Context, peer, plaintext string) (staged bool, err error) {
	const op = "dispatch.SendText"

	selfAddr, err := e.selfAddress()
	if err != nil {
		return false, errs.New(op, errs.KeyLoading, err)
	}

	env, err := e.core.Encrypt([]byte(plaintext), peer)
	if err != nil {
		return false, err
	}
	msg := protocol.NewEncryptedText(selfAddr, peer, env)
	if err := protocol.Sign(&msg, e.core); err != nil {
		return false, err
	}

	staged = e.sendOrStage(ctx, peer, msg)

	raw, err := protocol.ToJSON(msg)
	if err != nil {
		return staged, errs.New(op, errs.ProtocolMalformed, err)
	}
	if _, err := e.store.SaveMessage(store.Message{
		ID:        msg.ID,
		Kind:      string(msg.Kind),
		Sender:    selfAddr,
		Recipient: peer,
		Payload:   string(raw),
		Timestamp: msg.Timestamp,
		IsSent:    true,
	}); err != nil {
		return staged, err
	}
	return staged, nil
}

// sendOrStage attempts direct delivery and, when it fails for any reason,
// publishes an offline-staged copy. Returns true when the message was staged rather
// than delivered directly.
func (e *Engine) sendOrStage(ctx context.Context, peer string, msg protocol.Message) bool {
	raw, err := protocol.ToJSON(msg)
	if err != nil {
		log.Printf("[dispatch] failed to serialise outbound message: %v", err)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	if err := overlay.Send(sendCtx, e.cfg, peer, raw); err == nil {
		log.Printf("[dispatch] sent %s to %s directly", msg.Kind, shortAddr(peer))
		return false
	} else if !errs.Is(err, errs.Connection) && !errs.Is(err, errs.Timeout) {
		log.Printf("[dispatch] unexpected send error to %s: %v", shortAddr(peer), err)
	}

	selfAddr := msg.Sender

	// The inner envelope offline.Publish wraps is the whole signed message
	// ECIES-encrypted to peer — this covers handshake/ack/ping kinds as well
	// as already-encrypted text, so every outbound kind stages the same way.
	innerEnv, encErr := e.core.Encrypt(raw, peer)
	if encErr != nil {
		log.Printf("[dispatch] could not prepare offline staging for %s: %v", shortAddr(peer), encErr)
		return true
	}

	pubCtx, pubCancel := context.WithTimeout(ctx, e.cfg.DHTPublishTimeout+e.cfg.DHTBootstrapTimeout)
	defer pubCancel()
	if err := offline.Publish(pubCtx, e.cfg, e.core, selfAddr, peer, innerEnv); err != nil {
		log.Printf("[dispatch] offline staging for %s failed: %v", shortAddr(peer), err)
		return true
	}
	log.Printf("[dispatch] staged message for %s to offline store", shortAddr(peer))
	return true
}

func (e *Engine) selfAddress() (string, error) {
	vfy, err := e.core.VerifyingKey()
	if err != nil {
		return "", err
	}
	return address.Encode(vfy), nil
}

func shortAddr(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8] + "…"
}

func defaultNickname(addr string) string {
	return "peer-" + shortAddr(addr)
}

func b64StdEncode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// loadExpandedSecret reads the daemon-materialised 64-byte expanded secret
// from hsDir. The overlay daemon is responsible for writing this file
// alongside its "hostname" file before this module ever runs.
func loadExpandedSecret(hsDir string) (cryptocore.ExpandedSecret, error) {
	path := filepath.Join(hsDir, "expanded_secret")
	b, err := os.ReadFile(path)
	if err != nil {
		return cryptocore.ExpandedSecret{}, fmt.Errorf("read expanded secret: %w", err)
	}
	if len(b) != 64 {
		return cryptocore.ExpandedSecret{}, fmt.Errorf("expanded secret is %d bytes, want 64", len(b))
	}
	var exp cryptocore.ExpandedSecret
	copy(exp[:], b)
	return exp, nil
}

// fetchStagedOnce runs once at startup: fetch any packages staged for self,
// unwrap and persist each.
func (e *Engine) fetchStagedOnce(ctx context.Context, selfAddr string) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.DHTFetchTimeout+e.cfg.DHTBootstrapTimeout)
	defer cancel()

	packages, err := offline.Fetch(fctx, e.cfg, selfAddr)
	if err != nil {
		log.Printf("[dispatch] offline fetch failed: %v", err)
		return
	}
	for _, pkg := range packages {
		e.processStaged(pkg)
	}
}

// processStaged reverses the wrapping sendOrStage applied: Recover peels the
// outer envelope and the wrapper message, leaving an inner envelope whose
// plaintext is the original signed message's own JSON serialisation. That
// original message is then routed through the same per-kind dispatch as a
// live inbound frame.
func (e *Engine) processStaged(pkg offline.StagedPackage) {
	wrapperMsg, innerEnv, err := offline.Recover(e.core, pkg)
	if err != nil {
		log.Printf("[dispatch] could not recover staged package: %v", err)
		return
	}
	originalBytes, err := e.core.Decrypt(innerEnv)
	if err != nil {
		log.Printf("[dispatch] could not inner-decrypt staged message from %s: %v", shortAddr(wrapperMsg.Sender), err)
		return
	}
	e.dispatchParsedMessage(string(originalBytes))
}

func (e *Engine) runOutboundWorker() {
	defer e.wg.Done()
	for in := range e.intents {
		switch in.kind {
		case intentHandshakeResponse:
			e.sendHandshakeResponse(in.peer)
		}
	}
}

func (e *Engine) sendHandshakeResponse(peer string) {
	selfAddr, err := e.selfAddress()
	if err != nil {
		log.Printf("[dispatch] cannot send handshake response: %v", err)
		return
	}
	msg := protocol.NewHandshake(selfAddr, peer, true)
	if err := protocol.Sign(&msg, e.core); err != nil {
		log.Printf("[dispatch] cannot sign handshake response: %v", err)
		return
	}
	e.sendOrStage(context.Background(), peer, msg)
}

// handleInboundFrame is the overlay listener's MessageCallback. It never
// blocks on network I/O beyond what sendOrStage itself bounds with timeouts,
// and never holds a lock while enqueuing outbound intents.
func (e *Engine) handleInboundFrame(body string) {
	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		log.Printf("[dispatch] dropping non-JSON inbound frame")
		return
	}
	if t, ok := probe["type"].(string); ok && t == "web_message" {
		log.Printf("[dispatch] unauthenticated message from browser: %v", probe["text"])
		return
	}

	e.dispatchParsedMessage(body)
}

// dispatchParsedMessage parses body as a protocol message, validates it, and
// routes it by kind. Shared by live inbound frames and recovered staged
// packages so both paths apply identical validation and handling.
func (e *Engine) dispatchParsedMessage(body string) {
	msg, err := protocol.FromJSON([]byte(body))
	if err != nil {
		log.Printf("[dispatch] dropping malformed message: %v", err)
		return
	}
	if err := protocol.Validate(msg); err != nil {
		log.Printf("[dispatch] dropping invalid message: %v", err)
		return
	}
	if msg.Sender == "" {
		return
	}

	switch msg.Kind {
	case protocol.KindHandshake:
		e.handleHandshake(msg)
	case protocol.KindText:
		e.handleText(msg)
	case protocol.KindImage, protocol.KindAudio, protocol.KindFile:
		e.handleMedia(msg)
	default:
		// acks/pings/pongs: ignored.
	}
}

func (e *Engine) handleHandshake(msg protocol.Message) {
	verified := protocol.Verify(msg)
	if !verified {
		log.Printf("[dispatch] handshake from %s failed signature verification", shortAddr(msg.Sender))
	}

	existing, err := e.store.GetContact(msg.Sender)
	if err != nil {
		log.Printf("[dispatch] contact lookup failed: %v", err)
		return
	}
	nickname := defaultNickname(msg.Sender)
	if existing != nil && existing.Nickname != "" {
		nickname = existing.Nickname
	}
	if err := e.store.AddContact(msg.Sender, nickname); err != nil {
		log.Printf("[dispatch] could not upsert contact %s: %v", shortAddr(msg.Sender), err)
	}

	isResponse, _ := msg.Payload["is_response"].(bool)
	if !isResponse {
		select {
		case e.intents <- intent{kind: intentHandshakeResponse, peer: msg.Sender}:
		default:
			log.Printf("[dispatch] outbound intent queue full, dropping handshake response to %s", shortAddr(msg.Sender))
		}
	}
}

func (e *Engine) handleText(msg protocol.Message) {
	verified := protocol.Verify(msg)
	if !verified {
		log.Printf("[dispatch] text from %s failed signature verification, continuing", shortAddr(msg.Sender))
	}

	env, ok := protocol.IsEncryptedText(msg)
	if !ok {
		log.Printf("[dispatch] dropping text message without a well-formed envelope from %s", shortAddr(msg.Sender))
		return
	}
	plaintext, err := e.core.Decrypt(env)
	if err != nil {
		log.Printf("[dispatch] could not decrypt text from %s: %v", shortAddr(msg.Sender), err)
		return
	}
	e.persistInbound(msg, plaintext, verified)
}

func (e *Engine) handleMedia(msg protocol.Message) {
	// IsEncryptedText only accepts KindText, so the envelope is read here.
	encrypted, _ := msg.Payload["encrypted"].(bool)
	data, ok := msg.Payload["data"].(map[string]interface{})
	var env *cryptocore.Envelope
	if ok && encrypted {
		var envErr error
		env, envErr = protocol.EnvelopeFromPayload(data)
		ok = envErr == nil
	}
	if !ok || !encrypted {
		log.Printf("[dispatch] dropping media message without a well-formed envelope from %s", shortAddr(msg.Sender))
		return
	}
	verified := protocol.Verify(msg)
	plaintext, err := e.core.Decrypt(env)
	if err != nil {
		log.Printf("[dispatch] could not decrypt media from %s: %v", shortAddr(msg.Sender), err)
		return
	}
	e.persistInboundMedia(msg, plaintext, verified)
}

func (e *Engine) persistInbound(msg protocol.Message, plaintext []byte, verified bool) {
	payload := map[string]interface{}{
		"text":            string(plaintext),
		"unauthenticated": !verified,
	}
	e.persistInboundPayload(msg, payload)
}

// persistInboundMedia marks the stored payload as a media blob instead of
// plain text, per SPEC_FULL.md §4.G.
func (e *Engine) persistInboundMedia(msg protocol.Message, plaintext []byte, verified bool) {
	payload := map[string]interface{}{
		"media":           true,
		"data_b64":        b64StdEncode(plaintext),
		"unauthenticated": !verified,
	}
	e.persistInboundPayload(msg, payload)
}

func (e *Engine) persistInboundPayload(msg protocol.Message, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[dispatch] could not marshal inbound payload: %v", err)
		return
	}

	inserted, err := e.store.SaveMessage(store.Message{
		ID:        msg.ID,
		Kind:      string(msg.Kind),
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Payload:   string(raw),
		Timestamp: msg.Timestamp,
		IsSent:    false,
	})
	if err != nil {
		log.Printf("[dispatch] could not persist inbound message: %v", err)
		return
	}
	if inserted {
		if text, ok := payload["text"].(string); ok {
			log.Printf("[dispatch] from %s: %s", shortAddr(msg.Sender), text)
		} else {
			log.Printf("[dispatch] from %s: %s message stored", shortAddr(msg.Sender), msg.Kind)
		}
	}
}

// ListContacts returns every known contact.
func (e *Engine) ListContacts() ([]store.Contact, error) {
	return e.store.ListContacts()
}

// Status reports the overlay transport's lifecycle state and the local
// hidden-service address, if known.
func (e *Engine) Status() (state string, addr string) {
	return e.overlay.State().String(), e.overlay.Address()
}

// Wipe stops the overlay, wipes the store, and removes the lock file —
// scenario S6.
func (e *Engine) Wipe() error {
	if err := e.overlay.Stop(); err != nil {
		return err
	}
	if err := e.store.Wipe(); err != nil {
		return err
	}
	return nil
}
