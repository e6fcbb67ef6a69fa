package cryptocore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// testIdentity bundles an installed Core with its textual address, built
// the same way the daemon would: hash a random seed, clamp the scalar half,
// keep the SHA-512 second half as the nonce prefix.
type testIdentity struct {
	core *Core
	addr string
}

func newTestIdentity(t *testing.T) testIdentity {
	t.Helper()
	var seed [32]byte
	_, err := rand.Read(seed[:])
	require.NoError(t, err)

	h := sha512.Sum512(seed[:])
	var exp ExpandedSecret
	copy(exp[:32], h[:32])
	exp[0] &= 248
	exp[31] &= 127
	exp[31] |= 64
	copy(exp[32:], h[32:])

	c := New()
	require.NoError(t, c.Install(exp))

	vfy, err := c.VerifyingKey()
	require.NoError(t, err)

	return testIdentity{core: c, addr: address.Encode(vfy)}
}

func TestUninitialisedCoreRejectsDecryptAndSign(t *testing.T) {
	c := New()
	require.False(t, c.Ready())

	_, err := c.Decrypt(&Envelope{EphemeralPub: make([]byte, 32), Nonce: make([]byte, nonceSize)})
	require.True(t, errs.Is(err, errs.KeyLoading))

	_, err = c.Sign([]byte("hello"))
	require.True(t, errs.Is(err, errs.KeyLoading))
}

// TestECIESRoundTrip covers Testable Property #3.
func TestECIESRoundTrip(t *testing.T) {
	a := newTestIdentity(t)
	b := newTestIdentity(t)

	plaintext := []byte("hello from A to B")
	env, err := a.core.Encrypt(plaintext, b.addr)
	require.NoError(t, err)

	got, err := b.core.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestECIESDecryptFailsOnTamperedCiphertext(t *testing.T) {
	a := newTestIdentity(t)
	b := newTestIdentity(t)

	env, err := a.core.Encrypt([]byte("payload"), b.addr)
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xFF

	_, err = b.core.Decrypt(env)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Decryption))
}

// TestSignatureIdentityBinding covers Testable Property #4.
func TestSignatureIdentityBinding(t *testing.T) {
	a := newTestIdentity(t)
	b := newTestIdentity(t)

	msg := []byte("sign me")
	sig, err := a.core.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	require.True(t, Verify(msg, sig, a.addr))
	require.False(t, Verify(msg, sig, b.addr))
	require.False(t, Verify([]byte("different message"), sig, a.addr))
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	require.False(t, Verify([]byte("x"), []byte("not a signature"), "not-an-address"))
	require.False(t, Verify([]byte("x"), nil, ""))
}
