package openai

import (
	"context"
	"io"

	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

var _ modeladapter.Stream = (*ChunkStream)(nil)

// ChunkStream adapts an SSE stream of chat completion chunks to
// modeladapter.Stream.
type ChunkStream struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
	usage  *usage.Tracker
	closed bool
}

// NewChunkStream wraps s. Usage reported by chunks is added to tracker when
// tracker is non-nil.
func NewChunkStream(s *ssestream.Stream[sdk.ChatCompletionChunk], tracker *usage.Tracker) *ChunkStream {
	return &ChunkStream{stream: s, usage: tracker}
}

// Next returns the next fragment, io.EOF at natural end, the context error
// on cancellation, or an ErrStreamInterrupted error on a transport or decode
// fault.
func (s *ChunkStream) Next(ctx context.Context) (modeladapter.Fragment, error) {
	if s.closed {
		return modeladapter.Fragment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return modeladapter.Fragment{}, err
	}

	if !s.stream.Next() {
		if err := ctx.Err(); err != nil {
			return modeladapter.Fragment{}, err
		}
		if err := s.stream.Err(); err != nil {
			return modeladapter.Fragment{}, modeladapter.Interrupted(err)
		}
		return modeladapter.Fragment{}, io.EOF
	}

	chunk := s.stream.Current()
	s.recordUsage(chunk)

	return FragmentFromChunk(chunk), nil
}

// Close releases the response body. It is safe to call more than once.
func (s *ChunkStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}

func (s *ChunkStream) recordUsage(chunk sdk.ChatCompletionChunk) {
	if s.usage == nil {
		return
	}

	u := chunk.Usage
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return
	}

	s.usage.Add(chunk.Model, usage.TokenCount{
		InputTokens:  int(u.PromptTokens),
		OutputTokens: int(u.CompletionTokens),
	})
}

// FragmentFromChunk maps one chunk to a fragment. A chunk without choices is
// a heartbeat: empty text, not terminal. Any finish reason makes the
// fragment terminal.
func FragmentFromChunk(chunk sdk.ChatCompletionChunk) modeladapter.Fragment {
	f := modeladapter.Fragment{Model: chunk.Model}
	if len(chunk.Choices) == 0 {
		return f
	}

	choice := chunk.Choices[0]
	f.Text = choice.Delta.Content
	f.Terminal = choice.FinishReason != ""

	return f
}
