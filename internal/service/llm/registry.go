package llm

import (
	"llm-gateway/internal/config"
)

// Registry routes a model identifier to the adapter for its family.
// Selection is a single membership check per family, in registration order.
type Registry struct {
	providers []Provider
}

// NewRegistry builds the registry with the three supported provider families.
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	return &Registry{
		providers: []Provider{
			NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.RequestTimeout),
			NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.RequestTimeout),
			NewOpenRouterProvider(cfg.OpenRouterAPIKey, cfg.RequestTimeout),
		},
	}
}

// NewRegistryWithProviders builds a registry from explicit providers.
func NewRegistryWithProviders(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// ForModel returns the adapter responsible for the model, if any.
func (r *Registry) ForModel(model string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Supports(model) {
			return p, true
		}
	}
	return nil, false
}

// Recognizes reports whether some adapter can route the model.
func (r *Registry) Recognizes(model string) bool {
	_, ok := r.ForModel(model)
	return ok
}
