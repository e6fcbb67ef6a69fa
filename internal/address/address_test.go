package address

import (
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// generateIdentity reproduces what the overlay daemon does when it
// materialises a hidden-service key: hash a 32-byte seed with SHA-512,
// clamp the first 32 bytes to get the scalar, then derive the verifying key
// as scalar*G (never by re-hashing the seed). The second 32 bytes (the
// expanded secret's nonce-prefix) are not needed here and are discarded.
func generateIdentity(t *testing.T, seed [32]byte) (scalar [32]byte, verifying [32]byte) {
	t.Helper()
	h := sha512.Sum512(seed[:])
	var raw [32]byte
	copy(raw[:], h[:32])

	v, err := VerifyingFromScalar(rawClamp(raw))
	require.NoError(t, err)
	return rawClamp(raw), v
}

// rawClamp performs the standard Ed25519 scalar clamp so the test helper
// above produces a scalar byte layout identical to what the daemon emits
// (the clamping itself is re-applied internally by SetBytesWithClamping,
// this just keeps the raw bytes consistent for direct comparison in tests).
func rawClamp(b [32]byte) [32]byte {
	b[0] &= 248
	b[31] &= 127
	b[31] |= 64
	return b
}

func TestAddressRoundTrip(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	_, verifying := generateIdentity(t, seed)

	text := Encode(verifying)
	require.Len(t, text, TextLen)

	decoded, err := Decode(text)
	require.NoError(t, err)
	require.Equal(t, verifying, decoded)
}

func TestDecodeRejectsBadLength(t *testing.T) {
	_, err := Decode("tooshort")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidAddress))
}

func TestDecodeRejectsBadVersionByte(t *testing.T) {
	var seed [32]byte
	_, verifying := generateIdentity(t, seed)
	text := Encode(verifying)

	// 56 base32 characters carry exactly 35 bytes, so the last textual
	// character encodes the low five bits of the version byte ('d' for
	// version 3). Replacing it changes the decoded version byte while the
	// length stays valid, so Decode fails on its version check.
	corrupted := []byte(text)
	if corrupted[len(corrupted)-1] == 'a' {
		corrupted[len(corrupted)-1] = 'b'
	} else {
		corrupted[len(corrupted)-1] = 'a'
	}
	_, err := Decode(string(corrupted))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidAddress))
}

// TestDHPublicEquivalence covers Testable Property #2: for any identity,
// the Diffie-Hellman public derived from the clamped scalar must equal the
// one derived from the verifying key via Edwards->Montgomery conversion.
// This is the load-bearing correctness check of the whole scheme.
func TestDHPublicEquivalence(t *testing.T) {
	seeds := [][32]byte{{1}, {2, 3}, {9, 9, 9}}
	for _, seed := range seeds {
		scalar, verifying := generateIdentity(t, seed)

		fromScalar, err := DHPublicFromScalar(scalar)
		require.NoError(t, err)

		fromVerifying, err := DHPublicFromVerifying(verifying)
		require.NoError(t, err)

		require.Equal(t, fromScalar, fromVerifying, "dh_pub_from_scalar must equal dh_pub_from_verifying")
	}
}
