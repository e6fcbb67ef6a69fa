// Package address implements the v3-style hidden-service address codec:
// decoding the textual address into a signing verifying key, and deriving
// Diffie-Hellman public/secret keys from the signing material bound to it.
//
// The embedded public key is a compressed Edwards-curve point (Ed25519).
// Converting it to the Montgomery form needed for X25519 requires point
// arithmetic that crypto/ed25519 does not expose, so this package leans on
// filippo.io/edwards25519 the same way Go's own standard library does
// internally.
package address

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"github.com/Hamza1s34/Gumnam/internal/errs"
)

const (
	// TextLen is the length of the textual address, excluding any suffix.
	TextLen = 56
	// DecodedLen is the length of the base32-decoded address: 32-byte
	// verifying key, 2-byte checksum, 1-byte version.
	DecodedLen = 35
	// Version is the only supported address version byte.
	Version = 3

	pubKeyLen   = 32
	checksumLen = 2
)

// suffix is trimmed from user-supplied addresses before decoding, mirroring
// how a ".onion"-suffixed address is accepted interchangeably with the bare
// 56-character form.
const suffix = ".onion"

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Decode parses a textual address into its 32-byte Ed25519 verifying key.
// It fails with errs.InvalidAddress on any structural mismatch.
func Decode(text string) (ed25519VerifyingKey [32]byte, err error) {
	const op = "address.Decode"

	trimmed := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(text), suffix))
	if len(trimmed) != TextLen {
		return [32]byte{}, errs.New(op, errs.InvalidAddress, fmt.Errorf("textual length %d, want %d", len(trimmed), TextLen))
	}

	raw, decErr := b32.DecodeString(strings.ToUpper(trimmed))
	if decErr != nil {
		return [32]byte{}, errs.New(op, errs.InvalidAddress, fmt.Errorf("base32 decode: %w", decErr))
	}
	if len(raw) != DecodedLen {
		return [32]byte{}, errs.New(op, errs.InvalidAddress, fmt.Errorf("decoded length %d, want %d", len(raw), DecodedLen))
	}
	if raw[DecodedLen-1] != Version {
		return [32]byte{}, errs.New(op, errs.InvalidAddress, fmt.Errorf("version byte %d, want %d", raw[DecodedLen-1], Version))
	}

	copy(ed25519VerifyingKey[:], raw[:pubKeyLen])
	return ed25519VerifyingKey, nil
}

// Encode builds a 56-character textual address for a 32-byte Ed25519
// verifying key, appending this package's own checksum (see checksum) and
// the version byte. The checksum is not the one the daemon computes, so the
// result can differ from the daemon's hostname in its checksum characters.
func Encode(verifying [32]byte) string {
	raw := make([]byte, 0, DecodedLen)
	raw = append(raw, verifying[:]...)
	raw = append(raw, checksum(verifying)...)
	raw = append(raw, Version)
	return strings.ToLower(b32.EncodeToString(raw))
}

// checksum computes the 2-byte checksum field Encode embeds: the first two
// bytes of SHA-256(".onion checksum" || pubkey || version). The upstream v3
// scheme uses SHA3-256 over the same input instead. Decode does not check
// the checksum field at all, so addresses carrying either checksum decode.
func checksum(verifying [32]byte) []byte {
	h := sha256.New()
	h.Write([]byte(".onion checksum"))
	h.Write(verifying[:])
	h.Write([]byte{Version})
	sum := h.Sum(nil)
	return sum[:checksumLen]
}

// DHPublicFromVerifying converts an Ed25519 verifying key (a compressed
// Edwards point) to its Montgomery u-coordinate, the X25519 Diffie-Hellman
// public key a peer uses to ECIES-encrypt to this address.
func DHPublicFromVerifying(verifying [32]byte) ([32]byte, error) {
	const op = "address.DHPublicFromVerifying"

	point, err := new(edwards25519.Point).SetBytes(verifying[:])
	if err != nil {
		return [32]byte{}, errs.New(op, errs.InvalidAddress, fmt.Errorf("not a valid Edwards point: %w", err))
	}

	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return out, nil
}

// DHPublicFromScalar derives the X25519 Diffie-Hellman public key from a
// clamped scalar the same way DHPublicFromVerifying derives it from the
// corresponding point: scalar * basepoint. For a correctly-derived
// (scalar, verifying) pair the two functions MUST agree (Testable
// Property #2) — that equivalence is the load-bearing correctness check of
// the whole scheme and is covered in address_test.go.
func DHPublicFromScalar(clampedScalar [32]byte) ([32]byte, error) {
	const op = "address.DHPublicFromScalar"

	pub, err := curve25519.X25519(clampedScalar[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, errs.New(op, errs.KeyGeneration, err)
	}
	var out [32]byte
	copy(out[:], pub)
	return out, nil
}

// VerifyingFromScalar recomputes the Ed25519 verifying key as scalar*G,
// exactly the derivation SPEC_FULL.md §3 requires: the daemon's clamped
// scalar is already the discrete log of the verifying key, so the verifying
// key must never be re-derived by hashing a seed.
func VerifyingFromScalar(clampedScalar [32]byte) ([32]byte, error) {
	const op = "address.VerifyingFromScalar"

	s, err := new(edwards25519.Scalar).SetBytesWithClamping(clampedScalar[:])
	if err != nil {
		return [32]byte{}, errs.New(op, errs.KeyGeneration, err)
	}
	point := new(edwards25519.Point).ScalarBaseMult(s)

	var out [32]byte
	copy(out[:], point.Bytes())
	return out, nil
}
