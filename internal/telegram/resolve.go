package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// pollTimeout is the long-poll window passed to getUpdates, in seconds.
const pollTimeout = 30

// Resolver discovers the numeric chat id of a recipient by long polling
// getUpdates until that user sends the bot a message. There is no deadline:
// it polls until a match arrives or the context is cancelled.
type Resolver struct {
	client   *Client
	username string
	logger   *slog.Logger
}

// NewResolver creates a Resolver for the given username. A leading "@" is
// accepted and stripped; matching is case-insensitive.
func NewResolver(client *Client, username string, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:   client,
		username: strings.TrimPrefix(username, "@"),
		logger:   logger,
	}
}

// Resolve polls until the recipient messages the bot and returns the chat id
// of that conversation. A 429 from the API pauses for the advertised
// retry_after and polls again; any other error aborts, since a broken token
// or endpoint will not heal by itself.
func (r *Resolver) Resolve(ctx context.Context) (int64, error) {
	r.logger.Info("waiting for recipient to message the bot", "username", "@"+r.username)
	r.logger.Info("ask them to open the bot and send /start")

	var offset int
	for {
		updates, err := r.client.GetUpdates(ctx, GetUpdatesRequest{
			Offset:  offset,
			Timeout: pollTimeout,
		})
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
				r.logger.Warn("rate limited while polling", "retry_after_s", apiErr.RetryAfter)
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
				}
				continue
			}
			return 0, fmt.Errorf("resolve chat id: %w", err)
		}

		next, chatID, found := scan(updates, r.username, offset)
		offset = next
		if found {
			r.logger.Info("resolved recipient", "username", "@"+r.username, "chat_id", chatID)
			return chatID, nil
		}
	}
}

// scan walks a batch of updates looking for a message from target. The
// cursor advances past every update it inspects, matched or not, so a
// restarted poll never sees the same update twice. Updates without a
// message, a sender or a chat id are skipped.
func scan(updates []Update, target string, offset int) (next int, chatID int64, found bool) {
	next = offset
	for _, u := range updates {
		next = u.UpdateID + 1

		msg := u.Message
		if msg == nil || msg.From == nil {
			continue
		}
		if !strings.EqualFold(msg.From.Username, target) {
			continue
		}
		if msg.Chat.ID == 0 {
			continue
		}
		return next, msg.Chat.ID, true
	}
	return next, 0, false
}
