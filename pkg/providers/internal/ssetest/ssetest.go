// Package ssetest builds Server-Sent Events payloads of chat completion
// chunks for provider tests.
package ssetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

// Chunk returns the JSON of a chat.completion.chunk with one choice.
// An empty finish reason is encoded as null.
func Chunk(t *testing.T, model, text, finish string) string {
	t.Helper()

	var fr any
	if finish != "" {
		fr = finish
	}

	return encode(t, map[string]any{
		"id":      "chunk",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]any{"content": text},
			"finish_reason": fr,
		}},
	})
}

// Heartbeat returns the JSON of a chunk with no choices.
func Heartbeat(t *testing.T, model string) string {
	t.Helper()

	return encode(t, map[string]any{
		"id":      "chunk",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   model,
		"choices": []map[string]any{},
	})
}

// Write sends each payload as one SSE data event and flushes.
func Write(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", p)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func encode(t *testing.T, v any) string {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode chunk: %v", err)
	}
	return string(b)
}
