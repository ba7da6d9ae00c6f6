package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 4 << 10

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// ModelAdapter holds shared state for HTTP-based provider implementations.
// Embed it in concrete provider structs to get request building, auth,
// custom headers, status classification and usage tracking.
type ModelAdapter struct {
	Name    string            // Model or deployment identifier.
	Auth    Auth              // Authentication settings.
	BaseURL string            // API base URL (no trailing slash).
	Client  *http.Client      // HTTP client; falls back to http.DefaultClient.
	Headers map[string]string // Extra headers applied to every request.
	Usage   usage.Tracker     // Token usage tracker.
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to http.DefaultClient at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

// authHeader returns the header name and value for the configured key, or
// empty strings if no key is set.
func (a *ModelAdapter) authHeader() (string, string) {
	if a.Auth.Key == "" {
		return "", ""
	}

	header := a.Auth.Header
	if header == "" {
		header = "Authorization"
	}

	value := a.Auth.Key
	if header == "Authorization" {
		scheme := a.Auth.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}
		value = scheme + " " + value
	} else if a.Auth.Scheme != "" {
		value = a.Auth.Scheme + " " + value
	}

	return header, value
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if h, v := a.authHeader(); h != "" {
		req.Header.Set(h, v)
	}

	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostStream marshals payload as JSON, POSTs it to path and returns the open
// response for the caller to consume. Failures are classified: transport
// errors as ErrServiceUnavailable, non-2xx statuses via KindForStatus. If ctx
// is done the context error is returned unwrapped. On success the caller owns
// resp.Body.
func (a *ModelAdapter) PostStream(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Unavailable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, StatusError(resp.StatusCode, string(respBody), resp.Header)
	}

	return resp, nil
}
