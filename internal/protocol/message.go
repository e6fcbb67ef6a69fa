// Package protocol implements the JSON-framed wire message: construction
// helpers for every message kind, canonical signing-string derivation,
// signing/verification, and validation.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// Kind tags the semantic type of a protocol message.
type Kind string

const (
	KindText      Kind = "text"
	KindHandshake Kind = "handshake"
	KindAck       Kind = "ack"
	KindPing      Kind = "ping"
	KindPong      Kind = "pong"
	KindImage     Kind = "image"
	KindAudio     Kind = "audio"
	KindFile      Kind = "file"
	KindStaged    Kind = "staged"
)

// Version is the only protocol version this module speaks.
const Version = "1.0"

// maxFutureSkew bounds how far into the future a message's timestamp may
// claim to be (SPEC_FULL.md §4.C validation rule).
const maxFutureSkew = 300 * time.Second

// Message is the wire form of every inter-peer payload.
type Message struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
	Sender    string                 `json:"sender,omitempty"`
	Recipient string                 `json:"recipient,omitempty"`
	Signature string                 `json:"signature,omitempty"`
	Version   string                 `json:"version"`
}

func newBase(kind Kind, sender, recipient string, payload map[string]interface{}) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
		Sender:    sender,
		Recipient: recipient,
		Version:   Version,
	}
}

// NewText builds an unencrypted text message.
func NewText(sender, recipient, text string) Message {
	return newBase(KindText, sender, recipient, map[string]interface{}{"text": text})
}

// NewEncryptedText wraps an ECIES envelope as an encrypted text message
// payload: {"encrypted": true, "data": <envelope>}.
func NewEncryptedText(sender, recipient string, env *cryptocore.Envelope) Message {
	return newBase(KindText, sender, recipient, map[string]interface{}{
		"encrypted": true,
		"data":      envelopeToPayload(env),
	})
}

// NewMedia builds an image/audio/file message carrying mediaB64 as given,
// unencrypted, under "data_b64" (plus "filename" when non-empty).
func NewMedia(kind Kind, sender, recipient, mediaB64, filename string) Message {
	payload := map[string]interface{}{"data_b64": mediaB64}
	if filename != "" {
		payload["filename"] = filename
	}
	return newBase(kind, sender, recipient, payload)
}

// NewHandshake builds the contact-registration message. isResponse
// distinguishes the initiating handshake from its reply.
func NewHandshake(sender, recipient string, isResponse bool) Message {
	return newBase(KindHandshake, sender, recipient, map[string]interface{}{
		"protocol_version": Version,
		"is_response":      isResponse,
	})
}

// NewAck builds an acknowledgement referencing the message id being acked.
func NewAck(sender, recipient, ackID string) Message {
	return newBase(KindAck, sender, recipient, map[string]interface{}{"ack_id": ackID})
}

// NewPing builds a ping. Sender is optional for pings (SPEC_FULL.md §4.C).
func NewPing(sender string) Message {
	return newBase(KindPing, sender, "", map[string]interface{}{})
}

// NewPong builds a pong in reply to a ping.
func NewPong(sender, recipient string) Message {
	return newBase(KindPong, sender, recipient, map[string]interface{}{})
}

// CanonicalPayload renders payload deterministically: lexicographically
// sorted keys, no insignificant whitespace, stable escaping. Every
// implementation that verifies this module's signatures MUST reproduce this
// exact byte sequence for semantically identical payloads (SPEC_FULL.md §9).
func CanonicalPayload(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := canonicalValue(payload[k])
		if err != nil {
			return "", err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// canonicalValue re-marshals nested maps with sorted keys too, so the
// canonicalisation is stable at every depth, not just the top level.
func canonicalValue(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		s, err := CanonicalPayload(t)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return json.Marshal(t)
	}
}

// CanonicalSigningBytes builds the deterministic byte string a signature
// covers: id|kind|canonical_payload_json|ts|sender|recipient.
func CanonicalSigningBytes(m Message) ([]byte, error) {
	canonPayload, err := CanonicalPayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalise payload: %w", err)
	}
	s := strings.Join([]string{
		m.ID,
		string(m.Kind),
		canonPayload,
		fmt.Sprintf("%d", m.Timestamp),
		m.Sender,
		m.Recipient,
	}, "|")
	return []byte(s), nil
}

// Sign computes the canonical signing bytes and signs them with core,
// setting m.Signature to the base64 result.
func Sign(m *Message, core *cryptocore.Core) error {
	const op = "protocol.Sign"

	bytesToSign, err := CanonicalSigningBytes(*m)
	if err != nil {
		return errs.New(op, errs.ProtocolMalformed, err)
	}
	sig, err := core.Sign(bytesToSign)
	if err != nil {
		return err // already an *errs.Error
	}
	m.Signature = b64Encode(sig)
	return nil
}

// Verify checks m.Signature against m.Sender's address. Returns false on
// any malformed input; never panics.
func Verify(m Message) bool {
	if m.Sender == "" || m.Signature == "" {
		return false
	}
	sig, err := b64Decode(m.Signature)
	if err != nil {
		return false
	}
	bytesSigned, err := CanonicalSigningBytes(m)
	if err != nil {
		return false
	}
	return cryptocore.Verify(bytesSigned, sig, m.Sender)
}

// ToJSON serialises m as the newline-framed wire form (the newline is
// appended by the transport layer, not here).
func ToJSON(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses a single JSON-framed message.
func FromJSON(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errs.New("protocol.FromJSON", errs.ProtocolMalformed, err)
	}
	return m, nil
}
