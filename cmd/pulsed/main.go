// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pulsetv/pulse/internal/api"
	"github.com/pulsetv/pulse/internal/config"
	"github.com/pulsetv/pulse/internal/engine"
	plog "github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/secrets"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pulsed %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	plog.Configure(plog.Config{Level: "info", Service: "pulsed"})
	logger := plog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	plog.Configure(plog.Config{Level: cfg.LogLevel, Service: "pulsed"})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Str("profile_id", cfg.ProfileID).
		Msg("starting pulsed")

	vault := secrets.NewVault(&secrets.FileKeyProvider{
		Path: filepath.Join(cfg.DataDir, "secret.key"),
	})
	eng := engine.New(cfg, vault)
	defer eng.Close()

	// fast first paint: serve whatever the disk layer has before any
	// network acquisition
	if snap, ok := eng.Warmup(); ok {
		logger.Info().
			Str("event", "warmup.loaded").
			Int("channels", len(snap.Channels)).
			Msg("disk snapshot warmed up")
	} else {
		logger.Info().
			Str("event", "warmup.empty").
			Msg("no disk snapshot for this profile")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(eng).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "http.listening").
			Str("addr", cfg.Listen).
			Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().
			Str("event", "shutdown.signal").
			Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().
				Err(err).
				Str("event", "http.failed").
				Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().
			Err(err).
			Str("event", "shutdown.forced").
			Msg("graceful shutdown did not complete")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("server exiting")
}
