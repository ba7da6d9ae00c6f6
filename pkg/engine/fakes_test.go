package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/germanamz/chatrelay/pkg/archive"
	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
)

// fakeConn is an in-memory Conn. Messages given to newFakeConn are queued
// before the session starts.
type fakeConn struct {
	inbox    chan string
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	sent    []string
	closes  []CloseStatus
	sendErr error
	onSend  func(c *fakeConn, text string)
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{
		inbox: make(chan string, 16),
		done:  make(chan struct{}),
	}
	for _, m := range msgs {
		c.inbox <- m
	}
	return c
}

func (c *fakeConn) Receive(ctx context.Context) (string, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	case <-c.done:
		return "", ErrClientGone
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, text string) error {
	c.mu.Lock()
	err := c.sendErr
	if err == nil {
		c.sent = append(c.sent, text)
	}
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(c, text)
	}
	return err
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close(status CloseStatus, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes = append(c.closes, status)
	return nil
}

func (c *fakeConn) disconnect() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.sent...)
}

func (c *fakeConn) closeStatuses() []CloseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]CloseStatus(nil), c.closes...)
}

// disconnectAfterTrailers makes the client leave once n trailers were sent.
func (c *fakeConn) disconnectAfterTrailers(n int) {
	var seen int
	c.onSend = func(c *fakeConn, text string) {
		if _, ok := ParseTrailer(text); ok {
			seen++
			if seen == n {
				c.disconnect()
			}
		}
	}
}

// step is one scripted result of fakeStream.Next. A blocking step waits for
// the context to end.
type step struct {
	frag  modeladapter.Fragment
	err   error
	block bool
}

func text(s string) step { return step{frag: modeladapter.Fragment{Text: s}} }

func textModel(s, model string) step {
	return step{frag: modeladapter.Fragment{Text: s, Model: model}}
}

func terminal(model string) step {
	return step{frag: modeladapter.Fragment{Terminal: true, Model: model}}
}

func heartbeat(model string) step { return step{frag: modeladapter.Fragment{Model: model}} }

func fail(err error) step { return step{err: err} }

func blocking() step { return step{block: true} }

type fakeStream struct {
	steps  []step
	pos    int
	pulls  atomic.Int32
	closes atomic.Int32
}

func newFakeStream(steps ...step) *fakeStream { return &fakeStream{steps: steps} }

func (s *fakeStream) Next(ctx context.Context) (modeladapter.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return modeladapter.Fragment{}, err
	}
	if s.pos >= len(s.steps) {
		return modeladapter.Fragment{}, io.EOF
	}

	st := s.steps[s.pos]
	s.pos++
	s.pulls.Add(1)

	if st.block {
		<-ctx.Done()
		return modeladapter.Fragment{}, ctx.Err()
	}
	return st.frag, st.err
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeStreamer hands out its streams in order and remembers what each Open
// was asked to send.
type fakeStreamer struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
	sent    [][]message.Message
	params  []modeladapter.Params
	opening chan struct{} // Signalled on Open when non-nil.
	release chan struct{} // Open waits on it when non-nil.
}

func (f *fakeStreamer) Open(ctx context.Context, c *chat.Chat, p modeladapter.Params) (modeladapter.Stream, error) {
	f.mu.Lock()
	f.sent = append(f.sent, c.Messages())
	f.params = append(f.params, p)
	opening, release := f.opening, f.release
	f.mu.Unlock()

	if opening != nil {
		opening <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	if len(f.streams) == 0 {
		return newFakeStream(), nil
	}

	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeStreamer) requests() [][]message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]message.Message(nil), f.sent...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	exchanges []archive.Exchange
	err       error
}

func (r *fakeRecorder) RecordExchange(_ context.Context, ex archive.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exchanges = append(r.exchanges, ex)
	return r.err
}

func (r *fakeRecorder) all() []archive.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]archive.Exchange(nil), r.exchanges...)
}
