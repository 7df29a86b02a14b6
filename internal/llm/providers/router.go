// Package providers implements the model provider adapters and the router
// that selects between them.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

// NewRouter creates a router with one adapter per configured provider.
// The HTTP client is shared with SDK-backed adapters.
func NewRouter(ctx context.Context, configs map[string]configuration.ProviderConfig, client *http.Client) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		switch name {
		case configuration.ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(cfg, client)
		case configuration.ProviderGemini:
			adapter, err := NewGeminiAdapter(ctx, cfg, client)
			if err != nil {
				return nil, err
			}
			adapters[name] = adapter
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
	}

	return &router{adapters: adapters}, nil
}

type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter configured for provider.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
