// Package azure provides a streaming adapter for Azure OpenAI deployments,
// built on the official openai-go client.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/chats/role"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	"github.com/germanamz/chatrelay/pkg/providers/openai"
	sdk "github.com/openai/openai-go/v3"
	sdkazure "github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

// DefaultAPIVersion is the Azure OpenAI API version used when none is
// configured.
const DefaultAPIVersion = "2024-12-01-preview"

var _ modeladapter.Streamer = (*Adapter)(nil)

// Adapter implements modeladapter.Streamer for one Azure OpenAI deployment.
// It is safe for concurrent use.
type Adapter struct {
	client     sdk.Client
	deployment string
	usage      usage.Tracker
}

// New creates an Adapter for the given endpoint and deployment. The SDK's
// automatic retries are disabled; each Open is a single attempt. Extra
// options are applied last.
func New(endpoint, apiKey, apiVersion, deployment string, opts ...option.RequestOption) *Adapter {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	ro := []option.RequestOption{
		sdkazure.WithEndpoint(endpoint, apiVersion),
		sdkazure.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	ro = append(ro, opts...)

	return &Adapter{
		client:     sdk.NewClient(ro...),
		deployment: deployment,
	}
}

// Deployment returns the deployment name sent as the model.
func (a *Adapter) Deployment() string { return a.deployment }

// UsageTracker returns the adapter's token usage tracker.
func (a *Adapter) UsageTracker() *usage.Tracker { return &a.usage }

// Open starts a streaming chat completion for the transcript.
func (a *Adapter) Open(ctx context.Context, c *chat.Chat, p modeladapter.Params) (modeladapter.Stream, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       a.deployment,
		Messages:    convertMessages(c),
		Temperature: sdk.Float(p.Temperature),
		TopP:        sdk.Float(p.TopP),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(p.MaxTokens))
	}

	s := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("azure: %w", classify(ctx, err))
	}

	return openai.NewChunkStream(s, &a.usage), nil
}

func convertMessages(c *chat.Chat) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, c.Len())

	c.Each(func(_ int, m message.Message) bool {
		switch m.Role {
		case role.System:
			out = append(out, sdk.SystemMessage(m.Content))
		case role.User:
			out = append(out, sdk.UserMessage(m.Content))
		case role.Assistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		}
		return true
	})

	return out
}

// classify maps an SDK request error to the modeladapter error kinds.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		var h http.Header
		if apiErr.Response != nil {
			h = apiErr.Response.Header
		}
		return modeladapter.StatusError(apiErr.StatusCode, apiErr.Message, h)
	}

	return modeladapter.Unavailable(err)
}
