// Package openai provides a streaming adapter for the OpenAI Chat Completions
// API and any server that speaks the same protocol.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

const completionsPath = "/v1/chat/completions"

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com"

var _ modeladapter.Streamer = (*Adapter)(nil)

// Adapter implements modeladapter.Streamer for the OpenAI Chat Completions
// API with stream=true.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the OpenAI API.
// The baseURL should be "https://api.openai.com" (no trailing slash).
// A nil client falls back to http.DefaultClient.
func New(baseURL, apiKey, model string, client *http.Client) *Adapter {
	a := &Adapter{
		ModelAdapter: modeladapter.New(baseURL, modeladapter.Auth{Key: apiKey}, client),
	}
	a.Name = model

	return a
}

// Open sends the transcript and returns the streamed reply. Open failures
// match one of the modeladapter open-time error kinds.
func (a *Adapter) Open(ctx context.Context, c *chat.Chat, p modeladapter.Params) (modeladapter.Stream, error) {
	resp, err := a.PostStream(ctx, completionsPath, a.buildRequest(c, p))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	s := ssestream.NewStream[sdk.ChatCompletionChunk](ssestream.NewDecoder(resp), nil)

	return NewChunkStream(s, &a.Usage), nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Stream      bool         `json:"stream"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *Adapter) buildRequest(c *chat.Chat, p modeladapter.Params) apiRequest {
	req := apiRequest{
		Model:       a.Name,
		Stream:      true,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxTokens:   p.MaxTokens,
		Messages:    make([]apiMessage, 0, c.Len()),
	}

	c.Each(func(_ int, m message.Message) bool {
		req.Messages = append(req.Messages, apiMessage{Role: m.Role.String(), Content: m.Content})
		return true
	})

	return req
}
