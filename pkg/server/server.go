// Package server exposes the relay over HTTP: the chat page at "/" and one
// relay session per WebSocket connection at "/ws".
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/germanamz/chatrelay/pkg/engine"
)

// DefaultShutdownGrace bounds how long Serve waits for sessions to close
// after its context is cancelled.
const DefaultShutdownGrace = 5 * time.Second

// Server serves the page and relay sessions.
type Server struct {
	engine *engine.Engine
	page   http.Handler
	logger *slog.Logger
	grace  time.Duration

	sessions sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithShutdownGrace overrides DefaultShutdownGrace.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) { s.grace = d }
}

// New creates a Server running sessions on e and serving page at "/".
func New(e *engine.Engine, page http.Handler, opts ...Option) *Server {
	s := &Server{
		engine: e,
		page:   page,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		grace:  DefaultShutdownGrace,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP routes. Request contexts bound the sessions they
// start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.page)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	s.logger.Info("client connected", "remote", r.RemoteAddr)

	err = s.engine.Serve(r.Context(), newWSConn(c))
	switch {
	case err == nil:
		s.logger.Info("client disconnected", "remote", r.RemoteAddr)
	case errors.Is(err, context.Canceled):
		s.logger.Info("session closed for shutdown", "remote", r.RemoteAddr)
	default:
		s.logger.Warn("session failed", "remote", r.RemoteAddr, "error", err)
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Every session
// context derives from ctx, so cancellation ends all relay loops; Serve then
// waits up to the shutdown grace for them before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	// Shutdown does not track hijacked WebSocket connections.
	idle := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-shutdownCtx.Done():
		s.logger.Warn("sessions still open after shutdown grace")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}

	return nil
}
