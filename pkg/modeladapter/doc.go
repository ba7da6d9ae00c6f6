// Package modeladapter defines the streaming completion contract between a
// relay session and a remote LLM service.
//
// It contains:
//   - [Streamer] and [Stream], the lazy fragment sequence returned for one exchange
//   - [Fragment] and the monotonic [ModelID] reducer over a fragment sequence
//   - the open-time and mid-stream error kinds ([ErrServiceUnavailable],
//     [ErrAuthenticationFailed], [ErrRequestRejected], [ErrStreamInterrupted])
//   - the embeddable [ModelAdapter] HTTP base with auth and custom headers
//   - [RateLimited], a shared request-rate gate in front of any Streamer
//   - [github.com/germanamz/chatrelay/pkg/modeladapter/usage]: thread-safe token usage tracker
//   - [github.com/germanamz/chatrelay/pkg/modeladapter/middleware]: Streamer middleware (panic recovery, logging)
//
// This package contains no provider-specific code; concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
