package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/germanamz/chatrelay/pkg/archive"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/chats/role"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, s modeladapter.Streamer, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()

	cfg := Config{Provider: ProviderConfig{Kind: "fake"}}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg, append([]Option{WithStreamer(s)}, opts...)...)
	require.NoError(t, err)

	return e
}

func runSession(t *testing.T, ctx context.Context, s *Session) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func roles(msgs []message.Message) []role.Role {
	out := make([]role.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSession_SingleExchange(t *testing.T) {
	stream := newFakeStream(
		textModel("Hi", "gpt-x"),
		textModel(" there", "gpt-x"),
		terminal("gpt-x"),
	)
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)

	conn := newFakeConn("Hello")
	conn.disconnectAfterTrailers(1)
	s := e.NewSession(conn)

	require.NoError(t, runSession(t, context.Background(), s))

	assert.Equal(t, []string{"Hi", " there", "<<MODEL::gpt-x>>"}, conn.frames())
	assert.Equal(t, []message.Message{
		message.System(DefaultSystemPrompt),
		message.User("Hello"),
		message.Assistant("Hi there"),
	}, s.Chat().Messages())
	assert.Equal(t, []CloseStatus{CloseNormal}, conn.closeStatuses())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestSession_SendsWholeTranscriptWithFixedParams(t *testing.T) {
	fs := &fakeStreamer{streams: []*fakeStream{
		newFakeStream(text("one"), terminal("m")),
		newFakeStream(text("two"), terminal("m")),
	}}
	e := newTestEngine(t, fs, func(c *Config) { c.SystemPrompt = "Be brief." })

	conn := newFakeConn("a", "b")
	conn.disconnectAfterTrailers(2)
	s := e.NewSession(conn)
	require.NoError(t, runSession(t, context.Background(), s))

	reqs := fs.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []message.Message{message.System("Be brief."), message.User("a")}, reqs[0])
	assert.Equal(t, []message.Message{
		message.System("Be brief."),
		message.User("a"),
		message.Assistant("one"),
		message.User("b"),
	}, reqs[1])

	for _, p := range fs.params {
		assert.Equal(t, modeladapter.DefaultParams, p)
	}
}

func TestSession_TranscriptGrowsByTwoPerExchange(t *testing.T) {
	const n = 5

	fs := &fakeStreamer{}
	for range n {
		fs.streams = append(fs.streams, newFakeStream(text("r"), terminal("m")))
	}
	e := newTestEngine(t, fs, nil)
	s := e.NewSession(newFakeConn())

	for i := range n {
		_, err := s.Send(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, 1+2*(i+1), s.Chat().Len())
	}

	got := roles(s.Chat().Messages())
	assert.Equal(t, role.System, got[0])
	for i := 1; i < len(got); i += 2 {
		assert.Equal(t, role.User, got[i])
		assert.Equal(t, role.Assistant, got[i+1])
	}
}

func TestSession_StopsPullingAfterTerminal(t *testing.T) {
	stream := newFakeStream(
		text("A"),
		terminal("m"),
		text("never"),
	)
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)
	conn := newFakeConn()
	s := e.NewSession(conn)

	reply, err := s.Send(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, "A", reply.Text)
	assert.Equal(t, int32(2), stream.pulls.Load())
	assert.Equal(t, []string{"A", "<<MODEL::m>>"}, conn.frames())
}

func TestSession_HeartbeatsAndModelResolution(t *testing.T) {
	stream := newFakeStream(
		heartbeat(""),
		heartbeat("router-pick"),
		textModel("x", "other"),
		text(""),
		textModel("y", ""),
	)
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)
	conn := newFakeConn()
	s := e.NewSession(conn)

	reply, err := s.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, Reply{Text: "xy", Model: "router-pick"}, reply)
	assert.Equal(t, []string{"x", "y", "<<MODEL::router-pick>>"}, conn.frames())
}

func TestSession_EmptyReply(t *testing.T) {
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{newFakeStream()}}, nil)
	conn := newFakeConn()
	s := e.NewSession(conn)

	reply, err := s.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, Reply{Text: "", Model: modeladapter.UnknownModel}, reply)
	assert.Equal(t, []string{"<<MODEL::unknown>>"}, conn.frames())

	last, ok := s.Chat().Last()
	require.True(t, ok)
	assert.Equal(t, message.Assistant(""), last)
}

func TestSession_OpenFailure(t *testing.T) {
	kinds := []error{
		modeladapter.ErrServiceUnavailable,
		modeladapter.ErrAuthenticationFailed,
		modeladapter.ErrRequestRejected,
	}

	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			rec := &fakeRecorder{}
			fs := &fakeStreamer{openErr: &modeladapter.ServiceError{Kind: kind, StatusCode: 500}}
			e := newTestEngine(t, fs, nil, WithRecorder(rec))

			conn := newFakeConn("Hello")
			s := e.NewSession(conn)

			err := runSession(t, context.Background(), s)
			require.Error(t, err)
			assert.ErrorIs(t, err, kind)

			assert.Empty(t, conn.frames())
			assert.Equal(t, []message.Message{
				message.System(DefaultSystemPrompt),
				message.User("Hello"),
			}, s.Chat().Messages())
			assert.Equal(t, []CloseStatus{CloseInternalError}, conn.closeStatuses())

			exs := rec.all()
			require.Len(t, exs, 1)
			assert.Equal(t, archive.OutcomeFailed, exs[0].Outcome)
			assert.Equal(t, "Hello", exs[0].UserText)
		})
	}
}

func TestSession_StreamInterrupted(t *testing.T) {
	stream := newFakeStream(
		textModel("A", "m"),
		fail(modeladapter.Interrupted(errors.New("connection reset"))),
	)
	rec := &fakeRecorder{}
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil, WithRecorder(rec))

	conn := newFakeConn("q")
	s := e.NewSession(conn)

	err := runSession(t, context.Background(), s)
	assert.ErrorIs(t, err, modeladapter.ErrStreamInterrupted)

	assert.Equal(t, []string{"A"}, conn.frames())
	last, _ := s.Chat().Last()
	assert.Equal(t, message.Assistant("A"), last)
	assert.Equal(t, 3, s.Chat().Len())
	assert.Equal(t, []CloseStatus{CloseInternalError}, conn.closeStatuses())
	assert.Equal(t, int32(1), stream.closes.Load())

	exs := rec.all()
	require.Len(t, exs, 1)
	assert.Equal(t, archive.OutcomeInterrupted, exs[0].Outcome)
	assert.Equal(t, "A", exs[0].Reply)
	assert.NotEmpty(t, exs[0].Error)
}

func TestSession_ClientDisconnectMidStream(t *testing.T) {
	stream := newFakeStream(
		textModel("partial", "m"),
		blocking(),
	)
	rec := &fakeRecorder{}
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil, WithRecorder(rec))

	conn := newFakeConn("q")
	conn.onSend = func(c *fakeConn, _ string) { c.disconnect() }
	s := e.NewSession(conn)

	require.NoError(t, runSession(t, context.Background(), s))

	assert.Equal(t, []string{"partial"}, conn.frames())
	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Equal(t, []CloseStatus{CloseNormal}, conn.closeStatuses())

	last, _ := s.Chat().Last()
	assert.Equal(t, message.Assistant("partial"), last)

	exs := rec.all()
	require.Len(t, exs, 1)
	assert.Equal(t, archive.OutcomeCancelled, exs[0].Outcome)
}

func TestSession_DisconnectWhileIdle(t *testing.T) {
	e := newTestEngine(t, &fakeStreamer{}, nil)
	conn := newFakeConn()
	s := e.NewSession(conn)
	conn.disconnect()

	require.NoError(t, runSession(t, context.Background(), s))
	assert.Equal(t, 1, s.Chat().Len())
	assert.Equal(t, []CloseStatus{CloseNormal}, conn.closeStatuses())
}

func TestSession_ShutdownMidStream(t *testing.T) {
	stream := newFakeStream(text("A"), blocking())
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn("q")
	conn.onSend = func(*fakeConn, string) { cancel() }
	s := e.NewSession(conn)

	err := runSession(t, ctx, s)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"A"}, conn.frames())
	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Equal(t, []CloseStatus{CloseGoingAway}, conn.closeStatuses())
}

func TestSession_ShutdownWhileIdle(t *testing.T) {
	e := newTestEngine(t, &fakeStreamer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := newFakeConn()
	s := e.NewSession(conn)

	err := runSession(t, ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []CloseStatus{CloseGoingAway}, conn.closeStatuses())
}

func TestSession_ExchangeTimeout(t *testing.T) {
	stream := newFakeStream(text("slow"), blocking())
	rec := &fakeRecorder{}
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}},
		func(c *Config) { c.ExchangeTimeout = "20ms" }, WithRecorder(rec))

	conn := newFakeConn("q")
	s := e.NewSession(conn)

	err := runSession(t, context.Background(), s)
	assert.ErrorIs(t, err, ErrExchangeTimeout)

	assert.Equal(t, []string{"slow"}, conn.frames())
	assert.Equal(t, []CloseStatus{CloseInternalError}, conn.closeStatuses())

	exs := rec.all()
	require.Len(t, exs, 1)
	assert.Equal(t, archive.OutcomeInterrupted, exs[0].Outcome)
}

func TestSession_ClientWriteFailure(t *testing.T) {
	stream := newFakeStream(text("A"), text("B"), terminal("m"))
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)

	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	s := e.NewSession(conn)

	_, err := s.Send(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.Equal(t, int32(1), stream.pulls.Load())
	last, _ := s.Chat().Last()
	assert.Equal(t, message.Assistant(""), last)
}

func TestSession_WriteFailsAsClientLeaves(t *testing.T) {
	for range 50 {
		stream := newFakeStream(text("A"), text("B"), terminal("m"))
		rec := &fakeRecorder{}
		e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil, WithRecorder(rec))

		conn := newFakeConn("q")
		conn.sendErr = errors.New("use of closed connection")
		conn.onSend = func(c *fakeConn, _ string) { c.disconnect() }
		s := e.NewSession(conn)

		require.NoError(t, runSession(t, context.Background(), s))
		assert.Equal(t, []CloseStatus{CloseNormal}, conn.closeStatuses())

		exs := rec.all()
		require.Len(t, exs, 1)
		assert.Equal(t, archive.OutcomeCancelled, exs[0].Outcome)
	}
}

func TestSession_TrailerWriteFailsAsClientLeaves(t *testing.T) {
	stream := newFakeStream(terminal("m"))
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{stream}}, nil)

	conn := newFakeConn()
	conn.sendErr = errors.New("use of closed connection")
	conn.disconnect()
	s := e.NewSession(conn)

	_, err := s.Send(context.Background(), "q")
	require.ErrorIs(t, err, ErrClientGone)
	assert.NotContains(t, err.Error(), "use of closed connection")
}

func TestSession_BusyWhileExchangeInFlight(t *testing.T) {
	fs := &fakeStreamer{
		opening: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newTestEngine(t, fs, nil)
	s := e.NewSession(newFakeConn())

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "first")
		done <- err
	}()

	<-fs.opening

	_, err := s.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(fs.release)
	require.NoError(t, <-done)

	assert.Equal(t, []message.Message{
		message.System(DefaultSystemPrompt),
		message.User("first"),
		message.Assistant(""),
	}, s.Chat().Messages())
}

func TestSession_ContextWindow(t *testing.T) {
	long := strings.Repeat("x", 400)

	fs := &fakeStreamer{streams: []*fakeStream{
		newFakeStream(text(long), terminal("m")),
		newFakeStream(text("ok"), terminal("m")),
	}}
	e := newTestEngine(t, fs, func(c *Config) { c.MaxContextTokens = 60 })
	s := e.NewSession(newFakeConn())

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "second")
	require.NoError(t, err)

	reqs := fs.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []message.Message{
		message.System(DefaultSystemPrompt),
		message.User("second"),
	}, reqs[1])

	assert.Equal(t, 5, s.Chat().Len())
}

func TestSession_Events(t *testing.T) {
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{
		newFakeStream(textModel("hi", "m"), terminal("m")),
	}}, nil)
	sub := e.Events().Subscribe(16)
	defer e.Events().Unsubscribe(sub)

	conn := newFakeConn("q")
	conn.disconnectAfterTrailers(1)
	s := e.NewSession(conn)
	require.NoError(t, runSession(t, context.Background(), s))

	var kinds []EventKind
	var end ExchangeInfo
	for len(sub.C) > 0 {
		ev := <-sub.C
		assert.Equal(t, s.ID(), ev.SessionID)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventExchangeEnd {
			end = ev.Data.(ExchangeInfo)
		}
	}

	assert.Equal(t, []EventKind{
		EventSessionStart,
		EventExchangeStart,
		EventExchangeEnd,
		EventSessionEnd,
	}, kinds)
	assert.Equal(t, ExchangeInfo{Seq: 1, Model: "m", Outcome: archive.OutcomeCompleted, Chars: 2}, end)
}

func TestSession_RecorderFailureDoesNotEndSession(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	e := newTestEngine(t, &fakeStreamer{streams: []*fakeStream{
		newFakeStream(text("a"), terminal("m")),
	}}, nil, WithRecorder(rec))
	s := e.NewSession(newFakeConn())

	reply, err := s.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "a", reply.Text)
	assert.Len(t, rec.all(), 1)
}
