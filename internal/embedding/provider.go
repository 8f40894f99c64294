// Package embedding adapts external embedding providers behind a stable
// interface: text in, fixed-dimension vectors out, with batching, retry
// and rate limiting handled by decorators.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a provider has exhausted its retry
// budget. Callers abort the current unit of work when they see it.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider is the interface all embedding backends must implement.
type Provider interface {
	// Embed returns one vector per input text, in input order. All
	// vectors have Dimension() elements.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed vector dimensionality.
	Dimension() int
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
}

// KnownProviders documents the built-in provider presets. OpenAI-compatible
// APIs (Groq, Together, vLLM, etc.) use the "openai" client with a custom
// base_url.
var KnownProviders = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"ollama":   "http://localhost:11434",
	"groq":     "https://api.groq.com/openai/v1",
	"together": "https://api.together.xyz/v1",
}
