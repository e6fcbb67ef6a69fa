package protocol

import (
	"fmt"
	"time"

	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// Validate enforces SPEC_FULL.md §4.C: non-empty id, matching version,
// bounded future timestamp, sender present for anything beyond a ping, and
// (for text messages claiming encryption) a well-formed envelope.
func Validate(m Message) error {
	const op = "protocol.Validate"

	if m.ID == "" {
		return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("empty id"))
	}
	if m.Version != Version {
		return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("unsupported version %q", m.Version))
	}
	if time.Unix(m.Timestamp, 0).After(time.Now().Add(maxFutureSkew)) {
		return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("timestamp too far in the future"))
	}
	if m.Kind != KindPing && m.Sender == "" {
		return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("sender required for kind %q", m.Kind))
	}

	if m.Kind == KindText {
		if encrypted, _ := m.Payload["encrypted"].(bool); encrypted {
			data, ok := m.Payload["data"].(map[string]interface{})
			if !ok {
				return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("encrypted text missing well-formed data envelope"))
			}
			if _, err := EnvelopeFromPayload(data); err != nil {
				return errs.New(op, errs.ProtocolMalformed, fmt.Errorf("malformed envelope: %w", err))
			}
		}
	}

	return nil
}
