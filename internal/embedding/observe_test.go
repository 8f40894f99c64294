package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/efebarandurmaz/repolens/internal/observability"
)

func TestObservedProvider_PassesThrough(t *testing.T) {
	inner := &fakeProvider{name: "fake", dimension: 7}
	p := WithObservability(inner, "fake-model")

	if p.Name() != "fake" {
		t.Errorf("Name() = %q, want %q", p.Name(), "fake")
	}
	if p.Dimension() != 7 {
		t.Errorf("Dimension() = %d, want 7", p.Dimension())
	}

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
}

func TestObservedProvider_CountsRequestsAndChunks(t *testing.T) {
	m := observability.Metrics()
	requestsBefore := m.EmbeddingRequestsTotal.Value()
	chunksBefore := m.EmbeddingChunksTotal.Value()

	p := WithObservability(&fakeProvider{name: "fake"}, "fake-model")
	if _, err := p.Embed(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := m.EmbeddingRequestsTotal.Value() - requestsBefore; got != 1 {
		t.Errorf("requests recorded = %v, want 1", got)
	}
	if got := m.EmbeddingChunksTotal.Value() - chunksBefore; got != 3 {
		t.Errorf("chunks recorded = %v, want 3", got)
	}
}

func TestObservedProvider_CountsErrors(t *testing.T) {
	m := observability.Metrics()
	errorsBefore := m.EmbeddingErrorsTotal.Value()

	p := WithObservability(&fakeProvider{name: "fake", failures: 1, failWith: errors.New("boom")}, "fake-model")
	if _, err := p.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error from failing provider")
	}

	if got := m.EmbeddingErrorsTotal.Value() - errorsBefore; got != 1 {
		t.Errorf("errors recorded = %v, want 1", got)
	}
}
