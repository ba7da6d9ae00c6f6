package engine

import (
	"fmt"
	"sync"

	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/germanamz/chatrelay/pkg/providers/azure"
	"github.com/germanamz/chatrelay/pkg/providers/openai"
)

// ProviderFactory creates a Streamer from a ProviderConfig.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Streamer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["openai"] = newOpenAI
		factories["azure"] = newAzure
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Streamer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openai.DefaultBaseURL
	}

	return openai.New(baseURL, cfg.APIKey, cfg.Model, nil), nil
}

func newAzure(cfg ProviderConfig) (modeladapter.Streamer, error) {
	return azure.New(cfg.BaseURL, cfg.APIKey, cfg.APIVersion, cfg.Model), nil
}

// buildStreamer creates a Streamer from a ProviderConfig using the registered
// factory for its Kind. If a rate limit is configured, the streamer is wrapped
// with a RateLimited gate shared by every session.
func buildStreamer(cfg ProviderConfig) (modeladapter.Streamer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider kind %q", ErrStartupConfiguration, cfg.Kind)
	}

	s, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: provider %q: %w", cfg.Kind, err)
	}

	if rl := cfg.RateLimit; rl.RPM > 0 {
		s = modeladapter.NewRateLimited(s, modeladapter.RateLimitOpts{
			RPM:   rl.RPM,
			Burst: rl.Burst,
		})
	}

	return s, nil
}
