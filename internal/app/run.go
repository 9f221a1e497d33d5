// Package app wires the relay together and runs the main loop: load and
// validate configuration, verify the bot token, resolve the target chat,
// then serve HTTP until a shutdown signal arrives.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/tgrelay/internal/config"
	"github.com/flemzord/tgrelay/internal/heartbeat"
	"github.com/flemzord/tgrelay/internal/journal"
	"github.com/flemzord/tgrelay/internal/relay"
	"github.com/flemzord/tgrelay/internal/telegram"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the JSON configuration file.
	// If empty, config.DefaultPath is used.
	ConfigPath string

	// Version is injected at build time via ldflags and reported by the
	// status endpoint.
	Version string
}

// Run loads configuration, verifies the bot token, resolves the target chat
// id if the config does not carry one yet, and starts the HTTP server. It
// blocks until SIGINT or SIGTERM, then stops the heartbeat, drains the
// server, and closes the journal, in that order.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	// The signal context covers the whole startup phase, so an operator can
	// interrupt the first-contact wait as well as the steady state.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = telegram.DefaultBaseURL
	}
	client := telegram.NewClient(cfg.BotToken, baseURL)

	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verifying bot token: %w", err)
	}
	logger.Info("bot token verified", "bot", "@"+me.Username)

	// First run: block on resolution and persist the chat id before the
	// listener binds. Every later run trusts the saved id.
	if cfg.ChatID == nil {
		resolver := telegram.NewResolver(client, cfg.Username, logger)
		chatID, err := resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		cfg.ChatID = &chatID
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		logger.Info("config updated", "path", cfgPath)
	} else {
		logger.Info("using saved chat id", "chat_id", *cfg.ChatID)
	}

	opts := relay.Options{
		ListenAddr:  cfg.ListenAddr,
		ChatID:      *cfg.ChatID,
		BotUsername: me.Username,
		Version:     params.Version,
		Sender:      client,
		Logger:      logger,
	}

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		opts.Journal = jnl
		logger.Info("journal enabled", "path", cfg.JournalPath)
	}

	var hb *heartbeat.Heartbeat
	if cfg.HeartbeatSchedule != "" {
		hb, err = heartbeat.New(heartbeat.Config{
			Schedule: cfg.HeartbeatSchedule,
			Text:     cfg.HeartbeatText,
			ChatID:   *cfg.ChatID,
			Sender:   client,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		opts.Heartbeat = true
	}

	srv := relay.New(opts)
	if err := srv.Start(); err != nil {
		return err
	}
	if hb != nil {
		hb.Start()
	}

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received")

	if hb != nil {
		hb.Stop()
	}
	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if jnl != nil {
		if err := jnl.Close(); err != nil {
			logger.Error("journal close failed", "error", err)
		}
	}
	logger.Info("shutdown complete")

	return nil
}
