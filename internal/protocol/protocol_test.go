package protocol

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

func newInstalledCore(t *testing.T) (*cryptocore.Core, string) {
	t.Helper()
	var seed [32]byte
	_, err := rand.Read(seed[:])
	require.NoError(t, err)

	h := sha512.Sum512(seed[:])
	var exp cryptocore.ExpandedSecret
	copy(exp[:32], h[:32])
	exp[0] &= 248
	exp[31] &= 127
	exp[31] |= 64
	copy(exp[32:], h[32:])

	c := cryptocore.New()
	require.NoError(t, c.Install(exp))
	vfy, err := c.VerifyingKey()
	require.NoError(t, err)
	return c, address.Encode(vfy)
}

func TestCanonicalPayloadIsKeySorted(t *testing.T) {
	a, err := CanonicalPayload(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, a)
}

func TestSignAndVerifyHandshake(t *testing.T) {
	core, addr := newInstalledCore(t)
	msg := NewHandshake(addr, "recipient-addr", false)
	require.NoError(t, Sign(&msg, core))
	require.True(t, Verify(msg))

	tampered := msg
	tampered.Payload = map[string]interface{}{"protocol_version": Version, "is_response": true}
	require.False(t, Verify(tampered))
}

func TestValidateRejectsCases(t *testing.T) {
	core, addr := newInstalledCore(t)

	valid := NewText(addr, "peer", "hi")
	require.NoError(t, Sign(&valid, core))
	require.NoError(t, Validate(valid))

	noID := valid
	noID.ID = ""
	require.True(t, errs.Is(Validate(noID), errs.ProtocolMalformed))

	badVersion := valid
	badVersion.Version = "2.0"
	require.True(t, errs.Is(Validate(badVersion), errs.ProtocolMalformed))

	future := valid
	future.Timestamp = time.Now().Add(time.Hour).Unix()
	require.True(t, errs.Is(Validate(future), errs.ProtocolMalformed))

	noSender := valid
	noSender.Sender = ""
	require.True(t, errs.Is(Validate(noSender), errs.ProtocolMalformed))

	ping := NewPing("")
	require.NoError(t, Validate(ping))

	badEncrypted := NewText(addr, "peer", "")
	badEncrypted.Payload = map[string]interface{}{"encrypted": true}
	require.True(t, errs.Is(Validate(badEncrypted), errs.ProtocolMalformed))
}

func TestFromJSONRejectsGarbage(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	require.True(t, errs.Is(err, errs.ProtocolMalformed))
}

func TestEncryptedTextRoundTripsThroughJSON(t *testing.T) {
	aCore, aAddr := newInstalledCore(t)
	_, bAddr := newInstalledCore(t)

	env, err := aCore.Encrypt([]byte("secret"), bAddr)
	require.NoError(t, err)

	msg := NewEncryptedText(aAddr, bAddr, env)
	require.NoError(t, Sign(&msg, aCore))

	raw, err := ToJSON(msg)
	require.NoError(t, err)

	parsed, err := FromJSON(raw)
	require.NoError(t, err)
	require.NoError(t, Validate(parsed))
	require.True(t, Verify(parsed))

	gotEnv, ok := IsEncryptedText(parsed)
	require.True(t, ok)
	require.Equal(t, env.Nonce, gotEnv.Nonce)

	var roundTrip map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &roundTrip))
}
