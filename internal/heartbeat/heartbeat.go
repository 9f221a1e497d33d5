// Package heartbeat sends a periodic liveness message to the resolved chat
// so an operator notices when the relay host goes quiet.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/tgrelay/internal/telegram"
)

// DefaultText is sent when no heartbeat text is configured.
const DefaultText = "tgrelay: still alive"

// tickTimeout bounds a single heartbeat delivery.
const tickTimeout = 30 * time.Second

// Sender delivers one message through the Telegram Bot API.
type Sender interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
}

// Config holds heartbeat configuration.
type Config struct {
	Schedule string // five-field cron expression
	Text     string
	ChatID   int64
	Sender   Sender
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Text == "" {
		c.Text = DefaultText
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Heartbeat fires a liveness message on a cron schedule. A tick that is
// still in flight when the next one fires causes the new tick to be skipped.
type Heartbeat struct {
	cfg  Config
	cron *cron.Cron

	// Held for the duration of a tick; TryLock is atomic, no race between
	// check and acquire.
	lock sync.Mutex
}

// New validates the schedule and prepares the heartbeat. It does not start
// firing until Start is called.
func New(cfg Config) (*Heartbeat, error) {
	if cfg.Sender == nil {
		return nil, errors.New("heartbeat: nil Sender")
	}

	h := &Heartbeat{cfg: cfg.withDefaults()}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(h.cfg.Schedule, h.tick); err != nil {
		return nil, fmt.Errorf("heartbeat: invalid schedule %q: %w", h.cfg.Schedule, err)
	}
	h.cron = c

	return h, nil
}

// Start begins firing on the schedule.
func (h *Heartbeat) Start() {
	h.cron.Start()
	h.cfg.Logger.Info("heartbeat scheduled", "schedule", h.cfg.Schedule)
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
	h.cfg.Logger.Info("heartbeat stopped")
}

// tick sends one liveness message. Failures are logged, never fatal.
func (h *Heartbeat) tick() {
	if !h.lock.TryLock() {
		h.cfg.Logger.Warn("heartbeat tick still running, skipping")
		return
	}
	defer h.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := h.cfg.Sender.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID: h.cfg.ChatID,
		Text:   h.cfg.Text,
	}); err != nil {
		h.cfg.Logger.Warn("heartbeat send failed", "error", err)
		return
	}

	h.cfg.Logger.Debug("heartbeat sent")
}
