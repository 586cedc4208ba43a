package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roswellcsy/NiBot/internal/config"
	"github.com/roswellcsy/NiBot/internal/domain"
)

// Constructor builds a provider from one config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches model gateways from config. Every provider it
// hands out is wrapped in a retry Gateway.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["anthropic"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{
			APIKey: pc.APIKey, Model: pc.DefaultModel, MaxTokens: pc.MaxTokens, Logger: logger,
		})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxTokens: pc.MaxTokens, Logger: logger,
		})
	}
}

// Get returns the provider with the given name, or the default if name is
// empty. Instances are cached; double-check locking avoids TOCTOU races.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]

	var p domain.Provider
	if found {
		p = ctor(pc, f.logger)
	} else if pc.APIBase != "" {
		// Unknown providers with an API base are treated as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{
			APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, MaxTokens: pc.MaxTokens, Logger: f.logger,
		})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	wrapped := NewGateway(p, pc.MaxRetries, f.logger)
	f.cache[name] = wrapped
	return wrapped, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}
