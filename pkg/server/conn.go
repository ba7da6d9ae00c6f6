package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/germanamz/chatrelay/pkg/engine"
)

const inboxSize = 64

var _ engine.Conn = (*wsConn)(nil)

// wsConn adapts a WebSocket connection to engine.Conn. A reader goroutine
// queues incoming text frames in order until the peer goes away.
type wsConn struct {
	c       *websocket.Conn
	inbox   chan string
	done    chan struct{} // Closed when the reader stops.
	closing chan struct{} // Closed by Close.

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(c *websocket.Conn) *wsConn {
	w := &wsConn{
		c:       c,
		inbox:   make(chan string, inboxSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// readLoop uses a background context: cancelling a Read context would tear
// the connection down, and reads stop on their own once Close is called.
func (w *wsConn) readLoop() {
	defer close(w.done)

	for {
		typ, data, err := w.c.Read(context.Background())
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		select {
		case w.inbox <- string(data):
		case <-w.closing:
			return
		}
	}
}

func (w *wsConn) Receive(ctx context.Context) (string, error) {
	// Drain queued frames before reporting the peer gone.
	select {
	case m := <-w.inbox:
		return m, nil
	default:
	}

	select {
	case m := <-w.inbox:
		return m, nil
	case <-w.done:
		return "", w.goneErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *wsConn) Send(ctx context.Context, text string) error {
	if err := w.c.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("server: write frame: %w", err)
	}
	return nil
}

func (w *wsConn) Done() <-chan struct{} { return w.done }

func (w *wsConn) Close(status engine.CloseStatus, reason string) error {
	w.closeOnce.Do(func() {
		close(w.closing)
		w.closeErr = w.c.Close(statusCode(status), reason)
	})
	return w.closeErr
}

func (w *wsConn) goneErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readErr == nil {
		return engine.ErrClientGone
	}
	return fmt.Errorf("%w: %w", engine.ErrClientGone, w.readErr)
}

func statusCode(s engine.CloseStatus) websocket.StatusCode {
	switch s {
	case engine.CloseGoingAway:
		return websocket.StatusGoingAway
	case engine.CloseInternalError:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNormalClosure
	}
}
