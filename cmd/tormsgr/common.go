package main

import (
	"context"
	"fmt"

	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/dispatch"
	"github.com/Hamza1s34/Gumnam/internal/store"
)

var (
	flagBaseDir   string
	flagTorBinary string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseDir, "data-dir", "", "override the per-user data directory")
	rootCmd.PersistentFlags().StringVar(&flagTorBinary, "tor-binary", "tor", "path to the overlay daemon executable")
}

// bringUpEngine loads configuration, opens the store, and runs Startup —
// the shared bootstrap every subcommand (including "quit") runs before it
// can act. The caller is responsible for calling Shutdown.
func bringUpEngine(ctx context.Context) (*dispatch.Engine, string, error) {
	cfg := config.LoadFromEnv(config.DefaultConfig())
	if flagBaseDir != "" {
		cfg.BaseDir = flagBaseDir
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, "", fmt.Errorf("open store: %w", err)
	}

	eng := dispatch.New(cfg, st)
	addr, err := eng.Startup(ctx, flagTorBinary)
	if err != nil {
		st.Close()
		return nil, "", fmt.Errorf("startup: %w", err)
	}
	return eng, addr, nil
}
