package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/flemzord/tgrelay/internal/journal"
	"github.com/flemzord/tgrelay/internal/telegram"
)

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	BotUsername   string `json:"bot_username"`
	ChatID        int64  `json:"chat_id"`
	Version       string `json:"version"`
	Journal       bool   `json:"journal"`
	Heartbeat     bool   `json:"heartbeat"`
}

// handleRelay returns an http.HandlerFunc for POST /. It normalizes the
// body, forwards it once and maps the outcome onto the response: 400 for
// anything wrong with the request, 502 when Telegram said no.
func (s *Server) handleRelay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		text, err := extractText(r.Header.Get("Content-Type"), body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		mode := parseMode(r.Header.Get("Telegram-Parse-Mode"))

		start := time.Now()
		_, err = s.opts.Sender.SendMessage(r.Context(), telegram.SendMessageRequest{
			ChatID:    s.opts.ChatID,
			Text:      text,
			ParseMode: mode,
		})
		elapsed := time.Since(start)

		if err != nil {
			s.metrics.RecordDelivery(journal.OutcomeFailed, elapsed)
			s.record(r.Context(), text, mode, journal.OutcomeFailed, err.Error())
			s.logger.Warn("delivery failed", "chars", utf8.RuneCountInString(text), "error", err)
			writeError(w, http.StatusBadGateway, "telegram send failed: "+err.Error())
			return
		}

		s.metrics.RecordDelivery(journal.OutcomeSent, elapsed)
		s.record(r.Context(), text, mode, journal.OutcomeSent, "")
		s.logger.Debug("delivered", "chars", utf8.RuneCountInString(text), "parse_mode", mode)
		writeJSON(w, http.StatusOK, statusResponse{Status: "sent"})
	}
}

// record writes the delivery outcome to the journal when one is configured.
// Failures are logged and swallowed; the journal never affects the response.
func (s *Server) record(ctx context.Context, text, mode, outcome, detail string) {
	if s.opts.Journal == nil {
		return
	}

	// The response is already decided; a client disconnect must not void
	// the journal write.
	ctx = context.WithoutCancel(ctx)

	err := s.opts.Journal.Record(ctx, journal.Entry{
		ChatID:    s.opts.ChatID,
		Chars:     utf8.RuneCountInString(text),
		ParseMode: mode,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

// handleHealth returns an http.HandlerFunc for GET /health. Static; no
// remote dependency.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
			BotUsername:   s.opts.BotUsername,
			ChatID:        s.opts.ChatID,
			Version:       s.opts.Version,
			Journal:       s.opts.Journal != nil,
			Heartbeat:     s.opts.Heartbeat,
		})
	}
}

// handleNotFound serves the JSON 404 used for unknown paths and for known
// paths hit with the wrong method.
func (s *Server) handleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
