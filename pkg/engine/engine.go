package engine

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/modeladapter/middleware"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	"github.com/google/uuid"
)

// Engine is the composition root that assembles the streamer from
// configuration and hands out one Session per client connection.
type Engine struct {
	cfg      Config
	streamer modeladapter.Streamer // As built or injected.
	relay    modeladapter.Streamer // streamer behind recovery and logging.
	timeout  time.Duration
	events   *EventBus
	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder archives every finished exchange.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithStreamer bypasses the provider factory and serves every session from s.
func WithStreamer(s modeladapter.Streamer) Option {
	return func(e *Engine) { e.streamer = s }
}

// New creates an Engine from the given configuration. It validates the
// config and creates the provider streamer. Configuration problems match
// ErrStartupConfiguration.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout, err := cfg.exchangeTimeout()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		timeout:  timeout,
		events:   NewEventBus(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions: make(map[string]*Session),
	}

	for _, o := range opts {
		o(e)
	}

	if e.streamer == nil {
		s, err := buildStreamer(cfg.Provider)
		if err != nil {
			return nil, err
		}
		e.streamer = s
	}

	e.relay = middleware.Apply(e.streamer,
		middleware.Recovery(),
		middleware.Logger(e.logger),
	)

	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() Config { return e.cfg }

// Usage returns the provider's token usage tracker, or nil if the provider
// does not report usage.
func (e *Engine) Usage() *usage.Tracker {
	if ur, ok := e.streamer.(modeladapter.UsageReporter); ok {
		return ur.UsageTracker()
	}
	return nil
}

// NewSession creates a session bound to conn. Its transcript holds only the
// system prompt. No network I/O happens until the first message.
func (e *Engine) NewSession(conn Conn) *Session {
	id := uuid.Must(uuid.NewV7()).String()

	s := &Session{
		id:       id,
		conn:     conn,
		chat:     chat.New(message.System(e.cfg.SystemPrompt)),
		streamer: e.relay,
		params:   modeladapter.DefaultParams,
		budget:   e.cfg.MaxContextTokens,
		sizer:    modeladapter.TokenEstimator{}.EstimateMessage,
		timeout:  e.timeout,
		events:   e.events,
		recorder: e.recorder,
		logger:   e.logger.With("session", id),
	}

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	return s
}

// Serve runs a new session for conn until it ends, then forgets it.
func (e *Engine) Serve(ctx context.Context, conn Conn) error {
	s := e.NewSession(conn)
	defer e.RemoveSession(s.ID())

	return s.Run(ctx)
}

// Session returns a live session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns the IDs of live sessions, sorted.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Sorted(maps.Keys(e.sessions))
}

// RemoveSession forgets a session.
func (e *Engine) RemoveSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sessions, id)
}
