package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/chatrelay/pkg/archive"
	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/sessionctx"
)

// Recorder receives every finished exchange.
type Recorder interface {
	RecordExchange(ctx context.Context, ex archive.Exchange) error
}

// Reply is the result of a completed exchange.
type Reply struct {
	Text  string
	Model string
}

// Session represents one client connection. It owns the transcript, which
// starts with the system prompt and grows by one user and one assistant
// message per exchange. Only one Send call may be active at a time.
type Session struct {
	id       string
	conn     Conn
	chat     *chat.Chat
	streamer modeladapter.Streamer
	params   modeladapter.Params
	budget   int
	sizer    chat.Sizer
	timeout  time.Duration
	events   *EventBus
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
	seq    int
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Chat returns the session transcript.
func (s *Session) Chat() *chat.Chat { return s.chat }

// Run relays client messages until the client leaves, ctx is cancelled or
// an exchange fails, then closes the connection.
//
// A disconnect returns nil. Cancellation of ctx closes the connection as
// going away and returns ctx's error. A failed exchange closes it with an
// internal error status and returns the exchange error.
func (s *Session) Run(ctx context.Context) error {
	s.publish(EventSessionStart, nil)
	s.logger.Debug("session started")

	err := s.run(ctx)

	s.publish(EventSessionEnd, err)
	s.logger.Debug("session ended", "error", err)

	return err
}

func (s *Session) run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(sessionctx.WithSessionID(parent, s.id))
	defer cancel(nil)

	go func() {
		select {
		case <-s.conn.Done():
			cancel(ErrClientGone)
		case <-ctx.Done():
		}
	}()

	for {
		text, err := s.conn.Receive(ctx)
		if err == nil {
			_, err = s.Send(ctx, text)
		}
		if err == nil {
			continue
		}

		switch {
		case parent.Err() != nil:
			_ = s.conn.Close(CloseGoingAway, "server shutting down")
			return parent.Err()
		case errors.Is(err, ErrClientGone) || errors.Is(context.Cause(ctx), ErrClientGone) || s.gone():
			_ = s.conn.Close(CloseNormal, "")
			return nil
		default:
			_ = s.conn.Close(CloseInternalError, "exchange failed")
			return err
		}
	}
}

// Send appends text as a user message and runs one exchange: it opens a
// completion stream for the transcript, relays every non-empty fragment to
// the client, appends the assembled reply and sends the model trailer.
//
// If the stream cannot be opened the user message stays and nothing else is
// appended. If the exchange fails or is cancelled after the stream opened,
// the partial reply relayed so far is appended and no trailer is sent.
func (s *Session) Send(ctx context.Context, text string) (Reply, error) {
	if err := s.acquire(); err != nil {
		return Reply{}, err
	}
	defer s.release()

	ctx = sessionctx.WithSessionID(ctx, s.id)

	s.seq++
	ex := archive.Exchange{
		SessionID: s.id,
		Seq:       s.seq,
		UserText:  text,
		StartedAt: time.Now(),
	}
	s.publish(EventExchangeStart, ExchangeInfo{Seq: ex.Seq})

	s.chat.Append(message.User(text))

	exCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		exCtx, cancel = context.WithTimeoutCause(ctx, s.timeout, ErrExchangeTimeout)
		defer cancel()
	}

	reply, model, opened, err := s.exchange(exCtx)
	if opened {
		s.chat.Append(message.Assistant(reply))
	}
	if err == nil {
		if sendErr := s.conn.Send(exCtx, FormatTrailer(model.String())); sendErr != nil {
			err = fmt.Errorf("engine: send trailer: %w", s.sendFailure(exCtx, sendErr))
		}
	}

	ex.Reply = reply
	ex.Model = model.String()
	ex.EndedAt = time.Now()
	ex.Outcome = outcomeOf(opened, err)
	if err != nil {
		ex.Error = err.Error()
	}
	s.finish(ctx, ex, err)

	if err != nil {
		return Reply{}, fmt.Errorf("engine: session %s: %w", s.id, err)
	}

	return Reply{Text: reply, Model: model.String()}, nil
}

// exchange runs one stream to completion. opened reports whether the stream
// was opened, in which case reply holds the text relayed to the client.
func (s *Session) exchange(ctx context.Context) (reply string, model modeladapter.ModelID, opened bool, err error) {
	stream, err := s.streamer.Open(ctx, s.outbound(), s.params)
	if err != nil {
		return "", model, false, causeOf(ctx, err)
	}
	defer func() { _ = stream.Close() }()

	var buf strings.Builder
	for {
		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return buf.String(), model, true, causeOf(ctx, err)
		}

		model = model.Observe(frag)

		if frag.Text != "" {
			if err := s.conn.Send(ctx, frag.Text); err != nil {
				return buf.String(), model, true, fmt.Errorf("engine: send fragment: %w", s.sendFailure(ctx, err))
			}
			buf.WriteString(frag.Text)
		}

		if frag.Terminal {
			break
		}
	}

	return buf.String(), model, true, nil
}

// outbound returns the transcript to send: the whole chat, or its window when
// a token budget is configured.
func (s *Session) outbound() *chat.Chat {
	if s.budget <= 0 {
		return s.chat
	}
	return s.chat.Window(s.budget, s.sizer)
}

func (s *Session) finish(ctx context.Context, ex archive.Exchange, err error) {
	if err != nil {
		s.publish(EventError, err)
		if ex.Outcome == archive.OutcomeCancelled {
			s.logger.Debug("exchange cancelled", "seq", ex.Seq, "error", err)
		} else {
			s.logger.Warn("exchange failed", "seq", ex.Seq, "outcome", ex.Outcome, "error", err)
		}
	}

	s.publish(EventExchangeEnd, ExchangeInfo{
		Seq:     ex.Seq,
		Model:   ex.Model,
		Outcome: ex.Outcome,
		Chars:   len(ex.Reply),
	})

	if s.recorder == nil {
		return
	}
	if rerr := s.recorder.RecordExchange(context.WithoutCancel(ctx), ex); rerr != nil {
		s.logger.Error("record exchange", "seq", ex.Seq, "error", rerr)
	}
}

func (s *Session) publish(kind EventKind, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(Event{
		Kind:      kind,
		SessionID: s.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: %w", s.id, ErrBusy)
	}
	s.active = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}

// sendFailure reports a failed write as ErrClientGone when the client has
// already left, since a peer drop fails the write before Done is observed.
func (s *Session) sendFailure(ctx context.Context, err error) error {
	if s.gone() {
		return ErrClientGone
	}
	return causeOf(ctx, err)
}

func (s *Session) gone() bool {
	select {
	case <-s.conn.Done():
		return true
	default:
		return false
	}
}

// causeOf replaces err with the cancellation cause of ctx once ctx is done,
// so disconnects and timeouts surface as ErrClientGone and ErrExchangeTimeout.
func causeOf(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

func outcomeOf(opened bool, err error) archive.Outcome {
	switch {
	case err == nil:
		return archive.OutcomeCompleted
	case errors.Is(err, ErrClientGone), errors.Is(err, context.Canceled):
		return archive.OutcomeCancelled
	case !opened:
		return archive.OutcomeFailed
	default:
		return archive.OutcomeInterrupted
	}
}
