package embedding

import "context"

// BatchProvider splits large inputs into provider-sized batches and
// reassembles the results in input order.
type BatchProvider struct {
	inner Provider
	size  int
}

// DefaultBatchSize is a safe batch size for most embedding APIs.
const DefaultBatchSize = 64

// WithBatching wraps a provider so callers can pass arbitrarily large
// text slices.
func WithBatching(inner Provider, size int) *BatchProvider {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchProvider{inner: inner, size: size}
}

func (b *BatchProvider) Name() string { return b.inner.Name() }

func (b *BatchProvider) Dimension() int { return b.inner.Dimension() }

func (b *BatchProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.size {
		return b.inner.Embed(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := start + b.size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
