// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

// charbridge bridges Matrix rooms to a conversational AI backend. It
// long-polls the homeserver sync endpoint, evaluates each room message
// against the configured trigger rules, forwards triggering messages
// to the active character's chat session, and relays the replies back
// into the room.
//
// Usage:
//
//	charbridge --config /etc/charbridge/config.yaml
//
// The access tokens for the homeserver and the AI backend are read
// from the files named in the configuration ("-" reads from stdin) and
// held in locked memory for the lifetime of the process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/charbridge/charbridge/bridge"
	"github.com/charbridge/charbridge/characterai"
	"github.com/charbridge/charbridge/lib/config"
	"github.com/charbridge/charbridge/lib/secret"
	"github.com/charbridge/charbridge/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "charbridge:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "/etc/charbridge/config.yaml", "path to the configuration file")
	logJSON := pflag.Bool("log-json", false, "emit logs as JSON instead of text")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.LogLevel, *logJSON)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	matrixToken, err := secret.ReadFromPath(cfg.AccessTokenFile)
	if err != nil {
		return fmt.Errorf("reading matrix access token: %w", err)
	}
	backendToken, err := secret.ReadFromPath(cfg.Backend.TokenFile)
	if err != nil {
		matrixToken.Close()
		return fmt.Errorf("reading backend token: %w", err)
	}
	defer backendToken.Close()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		matrixToken.Close()
		return err
	}
	session := client.SessionFromTokenBuffer(cfg.UserID, matrixToken)
	defer session.Close()

	// Validate the token before doing anything else.
	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("validating access token: %w", err)
	}
	if whoami != cfg.UserID {
		return fmt.Errorf("access token belongs to %s, config says %s", whoami, cfg.UserID)
	}

	backend, err := characterai.NewClient(characterai.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Token:   backendToken,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	store, err := bridge.OpenStore(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := bridge.New(bridge.Options{
		Messenger: session,
		Backend:   backend,
		Store:     store,
		Config:    cfg,
		BotUserID: cfg.UserID,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("charbridge starting",
		"homeserver", cfg.HomeserverURL,
		"user_id", cfg.UserID,
		"backend", cfg.Backend.BaseURL,
	)

	err = b.Run(ctx)
	if err != nil && ctx.Err() != nil {
		logger.Info("charbridge shutting down")
		return nil
	}
	return err
}

func buildLogger(level string, asJSON bool) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "", "info":
		slogLevel = slog.LevelInfo
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	options := &slog.HandlerOptions{Level: slogLevel}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}
