// Package middleware provides composable middleware for modeladapter.Streamer.
// Each middleware wraps a Streamer's Open, and the wrapped value is itself a
// Streamer, so middleware composes naturally via Chain or Apply.
//
// If the inner streamer implements modeladapter.UsageReporter, every wrapper
// preserves UsageTracker() by delegating to it.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	"github.com/germanamz/chatrelay/pkg/sessionctx"
)

// Middleware wraps a Streamer, returning a new Streamer with added behaviour.
type Middleware func(next modeladapter.Streamer) modeladapter.Streamer

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost (runs first).
func Chain(mws ...Middleware) Middleware {
	return func(next modeladapter.Streamer) modeladapter.Streamer {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Apply wraps a streamer with the given middleware. The first middleware
// in the list is the outermost (runs first).
func Apply(s modeladapter.Streamer, mws ...Middleware) modeladapter.Streamer {
	return Chain(mws...)(s)
}

// --- UsageReporter helper ---

type usageBase struct {
	next modeladapter.Streamer
}

func (u *usageBase) UsageTracker() *usage.Tracker {
	if ur, ok := u.next.(modeladapter.UsageReporter); ok {
		return ur.UsageTracker()
	}
	return nil
}

// --- Recovery middleware ---

// ErrPanic wraps a panic raised inside a streamer.
var ErrPanic = errors.New("streamer panicked")

type recoveryStreamer struct {
	usageBase
}

func (r *recoveryStreamer) Open(ctx context.Context, c *chat.Chat, p modeladapter.Params) (s modeladapter.Stream, err error) {
	defer func() {
		if v := recover(); v != nil {
			s, err = nil, modeladapter.Unavailable(fmt.Errorf("%w: %v", ErrPanic, v))
		}
	}()

	s, err = r.next.Open(ctx, c, p)
	if err != nil {
		return nil, err
	}
	return &recoveryStream{inner: s}, nil
}

type recoveryStream struct {
	inner modeladapter.Stream
}

func (r *recoveryStream) Next(ctx context.Context) (f modeladapter.Fragment, err error) {
	defer func() {
		if v := recover(); v != nil {
			f, err = modeladapter.Fragment{}, modeladapter.Interrupted(fmt.Errorf("%w: %v", ErrPanic, v))
		}
	}()

	return r.inner.Next(ctx)
}

func (r *recoveryStream) Close() error { return r.inner.Close() }

// Recovery returns a Middleware that converts panics into errors. A panic in
// Open is reported as ErrServiceUnavailable, one in Next as
// ErrStreamInterrupted.
func Recovery() Middleware {
	return func(next modeladapter.Streamer) modeladapter.Streamer {
		return &recoveryStreamer{usageBase: usageBase{next: next}}
	}
}

// --- Logger middleware ---

type loggerStreamer struct {
	usageBase
	log *slog.Logger
}

func (l *loggerStreamer) Open(ctx context.Context, c *chat.Chat, p modeladapter.Params) (modeladapter.Stream, error) {
	sid := sessionctx.SessionIDFromContext(ctx)
	start := time.Now()

	s, err := l.next.Open(ctx, c, p)
	if err != nil {
		l.log.ErrorContext(ctx, "stream open failed",
			"session", sid,
			"messages", c.Len(),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	l.log.DebugContext(ctx, "stream opened",
		"session", sid,
		"messages", c.Len(),
		"duration", time.Since(start),
	)

	return &loggerStream{inner: s, log: l.log, session: sid, start: start}, nil
}

type loggerStream struct {
	inner   modeladapter.Stream
	log     *slog.Logger
	session string
	start   time.Time

	model     modeladapter.ModelID
	fragments int
	chars     int
	err       error
	logged    bool
}

func (l *loggerStream) Next(ctx context.Context) (modeladapter.Fragment, error) {
	f, err := l.inner.Next(ctx)
	switch {
	case err == nil:
		l.model = l.model.Observe(f)
		l.fragments++
		l.chars += len(f.Text)
	case !errors.Is(err, io.EOF):
		l.err = err
	}
	return f, err
}

func (l *loggerStream) Close() error {
	err := l.inner.Close()

	if !l.logged {
		l.logged = true
		attrs := []any{
			"session", l.session,
			"model", l.model.String(),
			"fragments", l.fragments,
			"chars", l.chars,
			"duration", time.Since(l.start),
		}
		if l.err != nil {
			l.log.Warn("stream finished with error", append(attrs, "error", l.err)...)
		} else {
			l.log.Debug("stream finished", attrs...)
		}
	}

	return err
}

// Logger returns a Middleware that logs stream open latency, failures and a
// per-stream summary when the stream is closed. The session id is taken from
// the context when present.
func Logger(log *slog.Logger) Middleware {
	return func(next modeladapter.Streamer) modeladapter.Streamer {
		return &loggerStreamer{
			usageBase: usageBase{next: next},
			log:       log,
		}
	}
}
