// Package offline stages messages for peers that are not currently
// reachable. Each call brings up a throwaway libp2p host plus a
// client-mode Kademlia DHT node, uses it for exactly one publish or fetch,
// and tears it down — no long-lived DHT participation.
package offline

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/cryptocore"
	"github.com/Hamza1s34/Gumnam/internal/errs"
	"github.com/Hamza1s34/Gumnam/internal/protocol"
)

// bootstrapPeers are well-known public DHT nodes used only to join the
// routing table; this module never advertises itself as one.
var bootstrapPeers = []string{
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
}

// StagedPackage is the record placed in the DHT under
// SHA-256(recipient_address).
type StagedPackage struct {
	RecipientHash string `json:"recipient_hash"`
	Envelope      cryptocore.Envelope `json:"encrypted_message"`
	StagedAt      int64  `json:"timestamp"`
}

// RecipientHash returns the hex-encoded SHA-256 hash of addr. This, not the
// namespaced dhtKey below, is the address-to-key mapping the staging scheme
// is defined over.
func RecipientHash(addr string) string {
	h := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(h[:])
}

// dhtNamespace is the namespace go-libp2p-kad-dht's record validator gates
// on. The default validator only recognizes "pk"; any other namespace must
// be registered explicitly (see passthroughValidator below) or every put/get
// is rejected locally before it ever reaches the network. rust-libp2p's
// MemoryStore-backed kad::Behaviour the original staging code used has no
// such gate, so the bare SHA-256 hex key from RecipientHash is wrapped under
// this namespace purely to satisfy the Go implementation's validator plumbing
// — the staged value itself still carries the unprefixed RecipientHash.
const dhtNamespace = "v"

func dhtKey(addr string) string {
	return "/" + dhtNamespace + "/" + RecipientHash(addr)
}

// passthroughValidator accepts and arbitrarily selects among any values
// under dhtNamespace: staged packages are self-authenticating (the outer and
// inner envelopes are only decryptable by their intended recipient), so no
// additional DHT-level validation is needed.
type passthroughValidator struct{}

var _ record.Validator = passthroughValidator{}

func (passthroughValidator) Validate(_ string, _ []byte) error { return nil }

func (passthroughValidator) Select(_ string, _ [][]byte) (int, error) { return 0, nil }

// node is one throwaway libp2p host + client-mode DHT, alive only for the
// duration of a single Publish or Fetch call.
type node struct {
	host host.Host
	dht  *dht.IpfsDHT
}

func bringUp(ctx context.Context, bootstrapWait time.Duration) (*node, error) {
	const op = "offline.bringUp"

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, errs.New(op, errs.Connection, fmt.Errorf("generate ephemeral identity: %w", err))
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.DefaultSecurity, // Noise
		libp2p.DefaultMuxers,   // Yamux
		libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"),
	)
	if err != nil {
		return nil, errs.New(op, errs.Connection, fmt.Errorf("create libp2p host: %w", err))
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeClient), dht.NamespacedValidator(dhtNamespace, passthroughValidator{}))
	if err != nil {
		h.Close()
		return nil, errs.New(op, errs.Connection, fmt.Errorf("create dht client: %w", err))
	}

	n := &node{host: h, dht: kad}
	if err := n.bootstrap(ctx, bootstrapWait); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

func (n *node) bootstrap(ctx context.Context, wait time.Duration) error {
	const op = "offline.bootstrap"

	bctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := n.dht.Bootstrap(bctx); err != nil {
		return errs.New(op, errs.Connection, fmt.Errorf("dht bootstrap: %w", err))
	}

	connected := 0
	for _, addrStr := range bootstrapPeers {
		addr, err := ma.NewMultiaddr(addrStr)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(bctx, 10*time.Second)
		if err := n.host.Connect(cctx, *info); err == nil {
			connected++
		}
		ccancel()
	}
	if connected == 0 {
		log.Printf("[offline] failed to connect to any bootstrap peer within %s", wait)
	}

	<-bctx.Done()
	if bctx.Err() == context.DeadlineExceeded {
		return nil
	}
	return nil
}

func (n *node) close() {
	if n.dht != nil {
		n.dht.Close()
	}
	if n.host != nil {
		n.host.Close()
	}
}

// Publish stages innerEnvelope (the sender->recipient ECIES envelope over
// the plaintext) for senderAddr to later deliver to recipientAddr. It wraps
// the inner envelope as a signed protocol text message, outer-ECIES-
// encrypts that to recipientAddr a second time, and PUTs the staged package
// under SHA-256(recipientAddr). Returns nil on confirmed put; on timeout it
// returns an errs.Timeout sentinel, since the write may still be propagating
// best-effort.
func Publish(ctx context.Context, cfg *config.Config, core *cryptocore.Core, senderAddr, recipientAddr string, innerEnvelope *cryptocore.Envelope) error {
	const op = "offline.Publish"

	inner := protocol.NewEncryptedText(senderAddr, recipientAddr, innerEnvelope)
	if err := protocol.Sign(&inner, core); err != nil {
		return err
	}
	innerBytes, err := protocol.ToJSON(inner)
	if err != nil {
		return errs.New(op, errs.ProtocolMalformed, err)
	}

	outer, err := core.Encrypt(innerBytes, recipientAddr)
	if err != nil {
		return err
	}

	pkg := StagedPackage{
		RecipientHash: RecipientHash(recipientAddr),
		Envelope:      *outer,
		StagedAt:      time.Now().Unix(),
	}
	pkgBytes, err := json.Marshal(pkg)
	if err != nil {
		return errs.New(op, errs.ProtocolMalformed, err)
	}

	n, err := bringUp(ctx, cfg.DHTBootstrapTimeout)
	if err != nil {
		return err
	}
	defer n.close()

	pctx, cancel := context.WithTimeout(ctx, cfg.DHTPublishTimeout)
	defer cancel()

	if err := n.dht.PutValue(pctx, dhtKey(recipientAddr), pkgBytes, dht.Quorum(1)); err != nil {
		if pctx.Err() != nil {
			log.Printf("[offline] publish for %s timed out, propagating best-effort", recipientAddr[:8])
			return errs.New(op, errs.Timeout, fmt.Errorf("publish still propagating: %w", err))
		}
		return errs.New(op, errs.Connection, fmt.Errorf("put record: %w", err))
	}
	return nil
}

// Fetch retrieves the staged package waiting for localAddr. It returns at
// most one package: the single value GetValue selects for localAddr's key
// (passthroughValidator.Select picks the first candidate). Other records
// stored under the same key are not collected. The caller is responsible
// for outer-decrypting each package's Envelope, parsing the recovered
// protocol message, verifying its signature, and inner-decrypting the
// plaintext.
func Fetch(ctx context.Context, cfg *config.Config, localAddr string) ([]StagedPackage, error) {
	const op = "offline.Fetch"

	n, err := bringUp(ctx, cfg.DHTBootstrapTimeout)
	if err != nil {
		return nil, err
	}
	defer n.close()

	fctx, cancel := context.WithTimeout(ctx, cfg.DHTFetchTimeout)
	defer cancel()

	raw, err := n.dht.GetValue(fctx, dhtKey(localAddr))
	if err != nil {
		if fctx.Err() != nil {
			return nil, nil // no messages staged within the timeout; not an error
		}
		return nil, errs.New(op, errs.Connection, fmt.Errorf("get record: %w", err))
	}

	var pkg StagedPackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, errs.New(op, errs.ProtocolMalformed, fmt.Errorf("decode staged package: %w", err))
	}
	return []StagedPackage{pkg}, nil
}

// Recover reverses the wrapping Publish performs: outer-decrypt with core,
// parse the recovered protocol message, verify its signature, and return the
// inner envelope still awaiting the caller's own decryption.
func Recover(core *cryptocore.Core, pkg StagedPackage) (*protocol.Message, *cryptocore.Envelope, error) {
	const op = "offline.Recover"

	innerBytes, err := core.Decrypt(&pkg.Envelope)
	if err != nil {
		return nil, nil, err
	}

	msg, err := protocol.FromJSON(innerBytes)
	if err != nil {
		return nil, nil, err
	}
	if err := protocol.Validate(msg); err != nil {
		return nil, nil, err
	}
	if !protocol.Verify(msg) {
		return nil, nil, errs.New(op, errs.Unauthenticated, fmt.Errorf("staged message signature does not verify"))
	}

	env, ok := protocol.IsEncryptedText(msg)
	if !ok {
		return nil, nil, errs.New(op, errs.ProtocolMalformed, fmt.Errorf("staged message is not an encrypted text payload"))
	}
	return &msg, env, nil
}
