package embedding

import (
	"context"
	"time"

	"github.com/efebarandurmaz/repolens/internal/observability"
)

// ObservedProvider wraps a Provider and records every embedding request
// in the metrics registry and the audit log. It sits closest to the raw
// client so each retry attempt and each batch is counted as the API
// request it is.
type ObservedProvider struct {
	inner Provider
	model string
}

// WithObservability wraps a provider with request metrics and audit
// logging.
func WithObservability(inner Provider, model string) *ObservedProvider {
	return &ObservedProvider{inner: inner, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Dimension() int { return o.inner.Dimension() }

func (o *ObservedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := o.inner.Embed(ctx, texts)
	duration := time.Since(start)

	observability.Metrics().RecordEmbedding(duration, len(texts), err)
	if err != nil {
		observability.Audit().LogEmbeddingError(ctx, o.inner.Name(), o.model, err)
	} else {
		observability.Audit().LogEmbedding(ctx, o.inner.Name(), o.model, len(texts), duration)
	}
	return vectors, err
}
