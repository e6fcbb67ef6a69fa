package cryptocore

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// Sign produces a raw 64-byte Ed25519 signature over data using the local
// identity's expanded secret directly — the "hazmat"/prehash-free signing
// path that accepts a precomputed (scalar, nonce-prefix) pair instead of
// deriving them from a seed via SHA-512. This is required because the
// daemon never hands this module a seed, only the already-expanded secret;
// re-deriving a seed-based key here would silently produce signatures that
// do not verify against the address (SPEC_FULL.md §3).
//
// The signing equation (RFC 8032, §5.1.6, steps 2-6, starting from a
// precomputed scalar/prefix/verifying-key triple instead of step 1's
// seed-hash):
//
//	r = SHA512(prefix || data)                  mod L
//	R = r * G
//	k = SHA512(R || verifying || data)          mod L
//	S = (r + k * scalar)                        mod L
//	signature = R || S
func (c *Core) Sign(data []byte) ([]byte, error) {
	const op = "cryptocore.Sign"

	c.mu.RLock()
	ready := c.ready
	exp := c.exp
	vfy := c.vfy
	c.mu.RUnlock()
	if !ready {
		return nil, errs.New(op, errs.KeyLoading, fmt.Errorf("local identity not installed"))
	}

	// The expanded secret's scalar half is already clamped by the daemon;
	// re-applying the clamp is idempotent and lets us reuse the same Scalar
	// constructor address.VerifyingFromScalar relies on, so both derivations
	// are guaranteed to agree on what the scalar means.
	scalar, err := new(edwards25519.Scalar).SetBytesWithClamping(clampedCanonical(exp.scalar()))
	if err != nil {
		return nil, errs.New(op, errs.Signature, fmt.Errorf("invalid scalar: %w", err))
	}
	prefix := exp.noncePrefix()

	rHash := sha512.New()
	rHash.Write(prefix[:])
	rHash.Write(data)
	r, err := new(edwards25519.Scalar).SetUniformBytes(rHash.Sum(nil))
	if err != nil {
		return nil, errs.New(op, errs.Signature, err)
	}

	R := new(edwards25519.Point).ScalarBaseMult(r)

	kHash := sha512.New()
	kHash.Write(R.Bytes())
	kHash.Write(vfy[:])
	kHash.Write(data)
	k, err := new(edwards25519.Scalar).SetUniformBytes(kHash.Sum(nil))
	if err != nil {
		return nil, errs.New(op, errs.Signature, err)
	}

	s := new(edwards25519.Scalar).MultiplyAdd(k, scalar, r)

	sig := make([]byte, 0, 64)
	sig = append(sig, R.Bytes()...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}

// clampedCanonical returns the clamped scalar's bytes as-is. The daemon's
// expanded secret is already correctly clamped (see package doc), so this
// is just a named accessor kept separate from the raw array for clarity at
// the one call site that treats it as canonical scalar bytes rather than an
// opaque key blob.
func clampedCanonical(s [32]byte) []byte {
	b := make([]byte, 32)
	copy(b, s[:])
	return b
}
