package engine

import "context"

// CloseStatus is the reason a Session gives when it closes its connection.
type CloseStatus int

const (
	CloseNormal        CloseStatus = iota // Client left or the loop ended cleanly.
	CloseGoingAway                        // Server is shutting down.
	CloseInternalError                    // An exchange failed.
)

func (s CloseStatus) String() string {
	switch s {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case CloseInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Conn is the client side of a Session: a bidirectional channel of text
// messages.
//
// Receive blocks for the next client message. Messages that arrive while an
// exchange is running are queued and returned in order. Once the client has
// gone, Receive returns an error matching ErrClientGone and Done is closed.
type Conn interface {
	Receive(ctx context.Context) (string, error)
	Send(ctx context.Context, text string) error
	Done() <-chan struct{}
	Close(status CloseStatus, reason string) error
}
