package modeladapter

import (
	"context"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
)

// UnknownModel is reported when no fragment of a stream carried a model id.
const UnknownModel = "unknown"

// Params are the generation parameters sent with every exchange.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultParams are the fixed generation parameters of the relay.
var DefaultParams = Params{
	Temperature: 0.7,
	TopP:        0.95,
	MaxTokens:   1024,
}

// Fragment is one incremental piece of a streamed response. Text may be
// empty (a heartbeat). Model may be empty on early fragments.
type Fragment struct {
	Text     string
	Terminal bool
	Model    string
}

// Stream is a finite, non-restartable, pull-based sequence of fragments.
//
// Next returns io.EOF at natural end. A transport or decode fault surfaces as
// an error matching ErrStreamInterrupted. If ctx is done, Next returns the
// context error. Close releases the underlying connection; it may be called
// at any time, more than once, and stopping early is not an error.
type Stream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// Streamer opens a completion stream for a transcript. The ctx passed to
// Open bounds the lifetime of the returned stream. Implementations must be
// safe for concurrent Open calls from independent sessions.
type Streamer interface {
	Open(ctx context.Context, c *chat.Chat, p Params) (Stream, error)
}

// UsageReporter is implemented by streamers that account token usage.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
}

// ModelID is the model identifier of one stream. It starts unset and is
// fixed permanently by the first fragment carrying a non-empty model.
// The zero value is unset.
type ModelID struct {
	id string
}

// Observe folds f into m and returns the result.
func (m ModelID) Observe(f Fragment) ModelID {
	if m.id == "" && f.Model != "" {
		m.id = f.Model
	}
	return m
}

// Resolved reports whether a model id has been observed.
func (m ModelID) Resolved() bool { return m.id != "" }

// String returns the resolved id, or UnknownModel.
func (m ModelID) String() string {
	if m.id == "" {
		return UnknownModel
	}
	return m.id
}

// ResolveModel folds a whole fragment sequence through ModelID.Observe.
func ResolveModel(frags ...Fragment) ModelID {
	var m ModelID
	for _, f := range frags {
		m = m.Observe(f)
	}
	return m
}
