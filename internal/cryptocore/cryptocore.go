// Package cryptocore implements the ECIES encrypt/decrypt and identity-bound
// sign/verify operations the rest of the messenger builds on. Construction
// is two-phase: a Core is Uninitialised until Install is called with the
// daemon-materialised expanded secret, after which every operation that
// needs local identity material becomes usable. Decrypt, Sign and
// VerifyingKey can be called on an Uninitialised Core; they return
// errs.KeyLoading until Install has succeeded, and never once it has.
package cryptocore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/Hamza1s34/Gumnam/internal/address"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// hkdfInfo is the fixed 20-byte HKDF context string shared by every ECIES
// operation in this module; it must be identical on both the encrypting and
// decrypting side or the derived AEAD keys will never match.
var hkdfInfo = []byte("tor-messenger-ecies!")

const (
	nonceSize = chacha20poly1305.NonceSize // 12 bytes
	keySize   = chacha20poly1305.KeySize   // 32 bytes
)

// ExpandedSecret is the overlay daemon's 64-byte materialised signing
// secret: a 32-byte clamped scalar followed by a 32-byte nonce-prefix used
// during signing (see SPEC_FULL.md §3, "Local identity").
type ExpandedSecret [64]byte

func (e ExpandedSecret) scalar() [32]byte {
	var s [32]byte
	copy(s[:], e[:32])
	return s
}

func (e ExpandedSecret) noncePrefix() [32]byte {
	var p [32]byte
	copy(p[:], e[32:])
	return p
}

// Envelope is the wire form of an ECIES-encrypted payload (SPEC_FULL.md §3).
// []byte fields marshal as base64 under encoding/json, matching the
// envelope's documented wire representation.
type Envelope struct {
	Ciphertext   []byte `json:"encrypted_message"`
	EphemeralPub []byte `json:"ephemeral_public_key"`
	Nonce        []byte `json:"nonce"`
}

// Core holds optional local-identity material. The zero value is
// Uninitialised: Encrypt (encrypting *to* a peer) and Verify never require
// local identity and work on the zero value; Decrypt and Sign do and return
// errs.KeyLoading until Install succeeds.
type Core struct {
	mu    sync.RWMutex
	ready bool
	exp   ExpandedSecret
	vfy   [32]byte // verifying key, scalar*G — never re-derived from a seed
}

// New returns an Uninitialised Core.
func New() *Core { return &Core{} }

// Install loads the local identity's expanded secret, deriving and caching
// the verifying key as scalar*G. After Install returns nil, the Core is
// Ready and Decrypt/Sign become usable.
func (c *Core) Install(exp ExpandedSecret) error {
	const op = "cryptocore.Install"

	vfy, err := address.VerifyingFromScalar(exp.scalar())
	if err != nil {
		return errs.New(op, errs.KeyLoading, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exp = exp
	c.vfy = vfy
	c.ready = true
	return nil
}

// Ready reports whether Install has succeeded.
func (c *Core) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// VerifyingKey returns the local verifying key. Requires Ready.
func (c *Core) VerifyingKey() ([32]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return [32]byte{}, errs.New("cryptocore.VerifyingKey", errs.KeyLoading, fmt.Errorf("local identity not installed"))
	}
	return c.vfy, nil
}

// Encrypt ECIES-encrypts plaintext for recipientAddr. It needs no local
// identity and is safe to call on an Uninitialised Core.
func (c *Core) Encrypt(plaintext []byte, recipientAddr string) (*Envelope, error) {
	const op = "cryptocore.Encrypt"

	recipVerifying, err := address.Decode(recipientAddr)
	if err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("decode recipient address: %w", err))
	}
	recipDH, err := address.DHPublicFromVerifying(recipVerifying)
	if err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("derive recipient DH public: %w", err))
	}

	var ephPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("generate ephemeral key: %w", err))
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("derive ephemeral public: %w", err))
	}

	shared, err := curve25519.X25519(ephPriv[:], recipDH[:])
	if err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("compute shared secret: %w", err))
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, errs.New(op, errs.Encryption, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.New(op, errs.Encryption, fmt.Errorf("generate nonce: %w", err))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.New(op, errs.Encryption, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Ciphertext:   ciphertext,
		EphemeralPub: append([]byte(nil), ephPub...),
		Nonce:        nonce,
	}, nil
}

// Decrypt reverses Encrypt using the local identity's Diffie-Hellman
// secret. Requires Ready.
func (c *Core) Decrypt(env *Envelope) ([]byte, error) {
	const op = "cryptocore.Decrypt"

	c.mu.RLock()
	ready := c.ready
	scalar := c.exp.scalar()
	c.mu.RUnlock()
	if !ready {
		return nil, errs.New(op, errs.KeyLoading, fmt.Errorf("local identity not installed"))
	}

	if len(env.EphemeralPub) != 32 || len(env.Nonce) != nonceSize {
		return nil, errs.New(op, errs.Decryption, fmt.Errorf("malformed envelope"))
	}

	shared, err := curve25519.X25519(scalar[:], env.EphemeralPub)
	if err != nil {
		return nil, errs.New(op, errs.Decryption, fmt.Errorf("compute shared secret: %w", err))
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, errs.New(op, errs.Decryption, err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.New(op, errs.Decryption, err)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, errs.New(op, errs.Decryption, fmt.Errorf("authenticate/decrypt: %w", err))
	}
	return plaintext, nil
}

// Verify checks signature (raw bytes) against data using the verifying key
// embedded in senderAddr. It never panics; any error in decoding the
// address or signature is treated as verification failure.
func Verify(data, signature []byte, senderAddr string) bool {
	verifying, err := address.Decode(senderAddr)
	if err != nil {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(verifying[:], data, signature)
}

func deriveKey(shared []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, shared, nil, hkdfInfo)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
