// Package providers groups the concrete completion stream adapters.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/chatrelay/pkg/providers/openai]: OpenAI-compatible Chat Completions streaming over the modeladapter HTTP base
//   - [github.com/germanamz/chatrelay/pkg/providers/azure]: Azure OpenAI deployments through the official SDK client
//
// Both map ChatCompletionChunk events to modeladapter.Fragment the same way
// and classify failures into the modeladapter error kinds.
package providers
