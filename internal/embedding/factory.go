package embedding

import (
	"fmt"
	"time"
)

// ProviderConfig holds everything needed to create any embedding provider.
type ProviderConfig struct {
	Provider  string // "openai", "ollama", "groq", "together", "custom"
	APIKey    string
	Model     string
	BaseURL   string // Override for self-hosted / custom endpoints
	Dimension int    // Vector dimensionality (provider default when 0)
	BatchSize int    // Max texts per request (DefaultBatchSize when 0)

	// Retry and throttling
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	RateLimit   *RateLimitConfig // nil disables rate limiting
}

// Constructor builds a Provider from config.
type Constructor func(cfg ProviderConfig) (Provider, error)

// Factory creates Provider instances from config.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory; callers register constructors.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a provider constructor under the given name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config, wrapped with request metrics,
// batching, retry and (when configured) rate limiting. Returns nil
// without error when provider is empty or "none", so indexing can be
// wired up before a backend exists.
func (f *Factory) Create(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q — registered: %v", cfg.Provider, f.names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.Timeout > 0 {
		policy.Timeout = cfg.Timeout
	}

	var wrapped Provider = WithObservability(provider, cfg.Model)
	wrapped = WithRetry(wrapped, policy)
	if cfg.RateLimit != nil {
		wrapped = WithRateLimit(wrapped, cfg.RateLimit)
	}
	return WithBatching(wrapped, cfg.BatchSize), nil
}

func (f *Factory) names() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// NewDefaultFactory returns a factory with the built-in providers
// registered: openai, ollama, and the OpenAI-compatible presets.
func NewDefaultFactory() *Factory {
	f := NewFactory()
	f.Register("openai", func(c ProviderConfig) (Provider, error) {
		return NewOpenAI(c.APIKey, c.Model, c.BaseURL, c.Dimension), nil
	})
	f.Register("ollama", func(c ProviderConfig) (Provider, error) {
		return NewOllama(c.Model, c.BaseURL, c.Dimension), nil
	})
	for _, preset := range []string{"groq", "together", "custom"} {
		preset := preset
		f.Register(preset, func(c ProviderConfig) (Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = KnownProviders[preset]
			}
			return NewOpenAI(c.APIKey, c.Model, base, c.Dimension), nil
		})
	}
	return f
}
