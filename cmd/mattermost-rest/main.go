// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-rest logs into Mattermost as a single user and exposes
// that session as a JSON REST API, forwarding live events to a webhook.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/mattermost-rest/pkg/api"
	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/session"
	"github.com/aiku/mattermost-rest/pkg/webhook"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	flags := pflag.NewFlagSet("mattermost-rest", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "Path to the config file")
	noSave := flags.BoolP("no-update", "n", false, "Don't write the upgraded config back to disk")
	version := flags.BoolP("version", "v", false, "Print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 2, err
	}
	if *version {
		fmt.Printf("mattermost-rest %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return 0, nil
	}

	// A missing .env file is fine, the variables may come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, !*noSave)
	if err != nil {
		return 10, err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return 11, fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().Str("version", Tag).Str("commit", Commit).Str("built_at", BuildTime).Msg("Initializing mattermost-rest")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, *log)
}

// serve runs the session, webhook dispatcher and HTTP API until ctx is done
// or the API fails. Only an API failure yields a non-zero exit code.
func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) (int, error) {
	sess := session.New(&cfg.Mattermost, log)
	dispatcher := webhook.New(&cfg.Webhook, log)
	sess.Subscribe(dispatcher.Listen)
	dispatcher.Start(ctx)

	if cfg.Mattermost.HasCredentials() {
		if err := sess.LoginFromConfig(ctx); err != nil {
			// The API stays up so a client can retry through /api/session/login.
			log.Err(err).Msg("Automatic login failed")
		}
	} else {
		log.Info().Msg("No credentials configured, waiting for POST /api/session/login")
	}

	srv := api.New(cfg, sess, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	var apiErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case apiErr = <-serveErr:
		log.Err(apiErr).Msg("HTTP API stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down HTTP API cleanly")
	}
	sess.Disconnect()
	dispatcher.Stop()
	delivered, dropped, failed := dispatcher.Stats()
	log.Info().
		Int64("webhooks_delivered", delivered).
		Int64("webhooks_dropped", dropped).
		Int64("webhooks_failed", failed).
		Msg("Stopped")
	if apiErr != nil {
		return 12, apiErr
	}
	return 0, nil
}
