package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider is a model backend able to list, stream and preload models.
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListModels returns the models the backend can serve
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Chat streams a completion, invoking fn for every chunk
	Chat(ctx context.Context, req ChatRequest, fn func(ChatChunk) error) error

	// Preload asks the backend to load a model ahead of the first chat
	Preload(ctx context.Context, model string) error
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Kind       string
	BaseURL    string
	APIKey     string
	KeepAlive  time.Duration
	HTTPClient *http.Client
}

// NewProvider creates a provider for the configured backend kind.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "", "ollama":
		return NewOllamaProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
