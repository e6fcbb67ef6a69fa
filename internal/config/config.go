// Package config holds the process-wide configuration for the messenger:
// ports, timeouts, and the per-user data directory layout.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved set of runtime knobs for one node. Construct it
// with DefaultConfig and override fields before use, or use
// LoadFromEnv to apply environment/`.env` overrides on top of the defaults.
type Config struct {
	// BaseDir is the per-user data directory, typically $HOME/.tor_messenger.
	BaseDir string

	// SocksPort is the overlay daemon's local SOCKS5 listener port.
	SocksPort int
	// ControlPort is the overlay daemon's local control-protocol port.
	ControlPort int
	// LoopbackPort is the local TCP port the hidden service maps to.
	LoopbackPort int
	// VirtualPort is the hidden service's public-facing port. All outbound
	// dials to an address without an explicit port target this port, even
	// though the connection itself goes out over the local SOCKS proxy —
	// that is deliberate (see SPEC_FULL.md §9, open question a).
	VirtualPort int

	// ConnectTimeout bounds both the SOCKS5 handshake and each direct-send
	// read/write.
	ConnectTimeout time.Duration
	// BootstrapWait bounds how long Start() waits for the hidden-service
	// hostname file to appear before returning control to the caller.
	BootstrapWait time.Duration

	// DHTBootstrapTimeout bounds the DHT client's bootstrap() call.
	DHTBootstrapTimeout time.Duration
	// DHTPublishTimeout bounds a single publish call end-to-end.
	DHTPublishTimeout time.Duration
	// DHTFetchTimeout bounds a single fetch call end-to-end.
	DHTFetchTimeout time.Duration

	// MaxMessageBytes bounds a single inbound frame.
	MaxMessageBytes int64
}

// DefaultConfig mirrors the port/timeout defaults named in SPEC_FULL.md §6.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		BaseDir:             filepath.Join(home, ".tor_messenger"),
		SocksPort:           9350,
		ControlPort:         9351,
		LoopbackPort:        8080,
		VirtualPort:         80,
		ConnectTimeout:      30 * time.Second,
		BootstrapWait:       30 * time.Second,
		DHTBootstrapTimeout: 45 * time.Second,
		DHTPublishTimeout:   100 * time.Second,
		DHTFetchTimeout:     75 * time.Second,
		MaxMessageBytes:     10 << 20,
	}
}

// TorDataDir is the overlay daemon's working directory.
func (c *Config) TorDataDir() string { return filepath.Join(c.BaseDir, "tor_data") }

// HiddenServiceDir holds the daemon-materialised hostname and expanded secret.
func (c *Config) HiddenServiceDir() string { return filepath.Join(c.TorDataDir(), "hidden_service") }

// LockPath is the stale-lock marker removed on both start and stop.
func (c *Config) LockPath() string { return filepath.Join(c.TorDataDir(), "lock") }

// DBPath is the relational store file.
func (c *Config) DBPath() string { return filepath.Join(c.BaseDir, "messages.db") }

// LoadFromEnv applies `.env`-file and process-environment overrides on top
// of base, following the same env-var override convention the node process
// this module grew from used for its own group key and device serial
// (GROUP_KEY_HEX, MIXNETS_DEVICE_SN). A missing .env file is not an error.
func LoadFromEnv(base *Config) *Config {
	_ = godotenv.Load()

	cfg := *base
	if v := os.Getenv("TORMSGR_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v, ok := intEnv("TORMSGR_SOCKS_PORT"); ok {
		cfg.SocksPort = v
	}
	if v, ok := intEnv("TORMSGR_CONTROL_PORT"); ok {
		cfg.ControlPort = v
	}
	if v, ok := intEnv("TORMSGR_LOOPBACK_PORT"); ok {
		cfg.LoopbackPort = v
	}
	if v, ok := intEnv("TORMSGR_VIRTUAL_PORT"); ok {
		cfg.VirtualPort = v
	}
	return &cfg
}

func intEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
