package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

func b64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func b64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// envelopeToPayload renders a cryptocore.Envelope as the plain
// map[string]interface{} shape the canonical payload serialiser expects
// (json.Marshal on a *cryptocore.Envelope would already base64-encode the
// []byte fields, but going through a map keeps CanonicalPayload's sorted-key
// rendering in full control of the bytes that get signed).
func envelopeToPayload(env *cryptocore.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"encrypted_message":    b64Encode(env.Ciphertext),
		"ephemeral_public_key": b64Encode(env.EphemeralPub),
		"nonce":                b64Encode(env.Nonce),
	}
}

// EnvelopeFromPayload extracts an ECIES envelope from a decoded `data`
// field, returning errs.ProtocolMalformed if any part is missing or not
// valid base64.
func EnvelopeFromPayload(data map[string]interface{}) (*cryptocore.Envelope, error) {
	const op = "protocol.EnvelopeFromPayload"

	ciphertext, err := decodeField(data, "encrypted_message")
	if err != nil {
		return nil, errs.New(op, errs.ProtocolMalformed, err)
	}
	ephemeral, err := decodeField(data, "ephemeral_public_key")
	if err != nil {
		return nil, errs.New(op, errs.ProtocolMalformed, err)
	}
	nonce, err := decodeField(data, "nonce")
	if err != nil {
		return nil, errs.New(op, errs.ProtocolMalformed, err)
	}
	return &cryptocore.Envelope{Ciphertext: ciphertext, EphemeralPub: ephemeral, Nonce: nonce}, nil
}

func decodeField(data map[string]interface{}, key string) ([]byte, error) {
	raw, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("field %q is not a string", key)
	}
	b, err := b64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return b, nil
}

// IsEncryptedText reports whether m is a text message carrying an envelope
// under payload.data, and returns that envelope when it is well-formed.
func IsEncryptedText(m Message) (env *cryptocore.Envelope, ok bool) {
	if m.Kind != KindText {
		return nil, false
	}
	encrypted, _ := m.Payload["encrypted"].(bool)
	if !encrypted {
		return nil, false
	}
	data, ok := m.Payload["data"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	e, err := EnvelopeFromPayload(data)
	if err != nil {
		return nil, false
	}
	return e, true
}
