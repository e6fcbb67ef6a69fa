package offline

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/protocol"
)

func installedCore(t *testing.T, seed byte) (*cryptocore.Core, string) {
	t.Helper()
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

	c := cryptocore.New()
	require.NoError(t, c.Install(exp))
	vfy, err := c.VerifyingKey()
	require.NoError(t, err)
	return c, address.Encode(vfy)
}

func TestRecipientHashMatchesSHA256Hex(t *testing.T) {
	want := sha256.Sum256([]byte("some-address"))
	require.Equal(t, hex.EncodeToString(want[:]), RecipientHash("some-address"))
}

func TestStagedPackageRoundTripsThroughJSON(t *testing.T) {
	senderCore, senderAddr := installedCore(t, 1)
	_, recipientAddr := installedCore(t, 2)

	innerEnv, err := senderCore.Encrypt([]byte("hello"), recipientAddr)
	require.NoError(t, err)

	pkg := StagedPackage{
		RecipientHash: RecipientHash(recipientAddr),
		Envelope:      *innerEnv,
		StagedAt:      1234,
	}
	raw, err := json.Marshal(pkg)
	require.NoError(t, err)

	var parsed StagedPackage
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Equal(t, pkg.RecipientHash, parsed.RecipientHash)
	require.Equal(t, pkg.Envelope.Nonce, parsed.Envelope.Nonce)

	_ = senderAddr
}

// TestRecoverReversesPublishWrapping exercises the full wrap described for
// Publish (inner envelope -> signed message -> outer encrypt) without
// touching the network, then checks Recover unwinds it back to the inner
// envelope Fetch's caller is expected to decrypt.
func TestRecoverReversesPublishWrapping(t *testing.T) {
	senderCore, senderAddr := installedCore(t, 3)
	recipientCore, recipientAddr := installedCore(t, 4)

	innerEnv, err := senderCore.Encrypt([]byte("offline payload"), recipientAddr)
	require.NoError(t, err)

	inner := protocol.NewEncryptedText(senderAddr, recipientAddr, innerEnv)
	require.NoError(t, protocol.Sign(&inner, senderCore))
	innerBytes, err := protocol.ToJSON(inner)
	require.NoError(t, err)

	outerEnv, err := senderCore.Encrypt(innerBytes, recipientAddr)
	require.NoError(t, err)

	pkg := StagedPackage{
		RecipientHash: RecipientHash(recipientAddr),
		Envelope:      *outerEnv,
		StagedAt:      42,
	}

	msg, recoveredEnv, err := Recover(recipientCore, pkg)
	require.NoError(t, err)
	require.Equal(t, senderAddr, msg.Sender)

	plaintext, err := recipientCore.Decrypt(recoveredEnv)
	require.NoError(t, err)
	require.Equal(t, "offline payload", string(plaintext))
}
