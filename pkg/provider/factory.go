package provider

import (
	"fmt"
	"sync"

	"github.com/aragora/aragora/pkg/config"
)

// DefaultOpenRouterEndpoint is the OpenRouter chat completions endpoint,
// which speaks the OpenAI wire format.
const DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// Factory builds and caches one client per provider name.
type Factory struct {
	keys config.ProviderKeys

	mu      sync.Mutex
	clients map[string]Client
}

// NewFactory creates a factory over the configured vendor keys.
func NewFactory(keys config.ProviderKeys) *Factory {
	return &Factory{
		keys:    keys,
		clients: make(map[string]Client),
	}
}

// Client returns the client for a provider name from agent configuration.
// Recognized names: openai, anthropic, gemini, openrouter, mock.
// An unknown name or a provider with no key fails with ErrPermanent.
func (f *Factory) Client(name string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[name]; ok {
		return c, nil
	}

	c, err := f.build(name)
	if err != nil {
		return nil, err
	}
	f.clients[name] = c
	return c, nil
}

func (f *Factory) build(name string) (Client, error) {
	switch name {
	case "openai":
		if f.keys.OpenAI == "" {
			return nil, fmt.Errorf("provider %s: no API key configured: %w", name, ErrPermanent)
		}
		return NewOpenAIClient(OpenAIConfig{APIKey: f.keys.OpenAI}), nil
	case "anthropic":
		if f.keys.Anthropic == "" {
			return nil, fmt.Errorf("provider %s: no API key configured: %w", name, ErrPermanent)
		}
		return NewAnthropicClient(AnthropicConfig{APIKey: f.keys.Anthropic}), nil
	case "gemini":
		if f.keys.Gemini == "" {
			return nil, fmt.Errorf("provider %s: no API key configured: %w", name, ErrPermanent)
		}
		return NewGeminiClient(f.keys.Gemini), nil
	case "openrouter":
		if f.keys.OpenRouter == "" {
			return nil, fmt.Errorf("provider %s: no API key configured: %w", name, ErrPermanent)
		}
		return NewOpenAIClient(OpenAIConfig{
			Name:     "openrouter",
			APIKey:   f.keys.OpenRouter,
			Endpoint: DefaultOpenRouterEndpoint,
		}), nil
	case "mock":
		return NewScriptedClient(nil), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", name, ErrPermanent)
	}
}

// Register installs a pre-built client under a name, replacing any cached
// instance. Used by tests and the CLI demo mode.
func (f *Factory) Register(name string, c Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[name] = c
}
