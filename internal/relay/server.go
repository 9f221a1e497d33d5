// Package relay implements the HTTP side of the relay: a single POST
// endpoint that forwards its payload to one Telegram chat, plus health,
// status and metrics endpoints.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/tgrelay/internal/journal"
	"github.com/flemzord/tgrelay/internal/telegram"
)

const (
	readTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second

	// writeTimeout must outlast the outbound client's 60 s timeout so a
	// slow remote call still gets its 502 written.
	writeTimeout = 90 * time.Second
)

// Sender delivers one message through the Telegram Bot API.
type Sender interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
}

// Recorder persists one delivery attempt.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

var _ Sender = (*telegram.Client)(nil)
var _ Recorder = (*journal.Journal)(nil)

// Options configures a Server. Sender, ListenAddr, ChatID and Logger are
// required; the rest feed the status endpoint or enable the journal.
type Options struct {
	ListenAddr  string
	ChatID      int64
	BotUsername string
	Version     string
	Sender      Sender
	Journal     Recorder
	Heartbeat   bool
	Logger      *slog.Logger
}

// Server is the relay HTTP server. Everything it reads while serving is set
// at construction and never mutated, so handlers share it without locks.
type Server struct {
	opts      Options
	logger    *slog.Logger
	metrics   *Metrics
	server    *http.Server
	boundAddr string
	startedAt time.Time
}

// New creates a Server ready to Start.
func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		logger:  opts.Logger,
		metrics: NewMetrics(),
	}
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Post("/", s.handleRelay())
	r.Get("/health", s.handleHealth())
	r.Get("/status", s.handleStatus())
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Unknown paths and wrong methods on known paths answer alike.
	r.NotFound(s.handleNotFound())
	r.MethodNotAllowed(s.handleNotFound())

	return r
}

// countRequests records every response's status code.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.RecordRequest(ww.Status())
	})
}

// Start binds the listener and begins serving in the background. A bind
// failure is returned synchronously; nothing else can fail here.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.buildRouter(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen on %s: %w", s.opts.ListenAddr, err)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		s.logger.Info("listening", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once Start has succeeded.
func (s *Server) Addr() string {
	return s.boundAddr
}

// Stop gracefully shuts down the server, waiting up to the shutdown timeout
// for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	return s.server.Shutdown(shutdownCtx)
}
