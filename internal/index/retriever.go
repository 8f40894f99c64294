package index

import (
	"context"
	"fmt"
	"time"

	"github.com/efebarandurmaz/repolens/internal/embedding"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// Result is one retrieval hit: a chunk of repository text with its
// provenance and similarity score.
type Result struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float32 `json:"score"`
	Revision  string  `json:"revision"`
}

// Retriever answers similarity queries against the vector index. It
// embeds the query with the same provider used at index time.
type Retriever struct {
	provider embedding.Provider
	store    vector.Store
}

// NewRetriever creates a Retriever.
func NewRetriever(provider embedding.Provider, store vector.Store) *Retriever {
	return &Retriever{provider: provider, store: store}
}

// Search returns the top-k chunks of repo most similar to query,
// descending by score. ErrInvalidArgument rejects bad input;
// ErrEmptyIndex signals a repository with no indexed records.
func (r *Retriever) Search(ctx context.Context, repo, query string, k int) ([]Result, error) {
	if repo == "" {
		return nil, fmt.Errorf("%w: repository name is empty", ErrInvalidArgument)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}

	ctx, span := observability.StartSearchSpan(ctx, repo, k)
	defer span.End()
	start := time.Now()

	count, err := r.store.Count(ctx, repo)
	if err != nil {
		err = fmt.Errorf("%w: count: %v", ErrStoreUnavailable, err)
		observability.RecordError(span, err)
		observability.Metrics().RecordSearch(time.Since(start), 0, err)
		return nil, err
	}
	if count == 0 {
		// A repository with nothing indexed is a valid empty search,
		// not a failure.
		observability.Metrics().RecordSearch(time.Since(start), 0, nil)
		return nil, fmt.Errorf("%w: %s", ErrEmptyIndex, repo)
	}

	vectors, err := r.provider.Embed(ctx, []string{query})
	if err != nil {
		observability.RecordError(span, err)
		observability.Metrics().RecordSearch(time.Since(start), 0, err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: provider returned %d vectors for one input", len(vectors))
	}

	scored, err := r.store.Search(ctx, repo, vectors[0], k)
	if err != nil {
		err = fmt.Errorf("%w: search: %v", ErrStoreUnavailable, err)
		observability.RecordError(span, err)
		observability.Metrics().RecordSearch(time.Since(start), 0, err)
		return nil, err
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		results[i] = Result{
			Path:      s.Payload.Path,
			StartLine: s.Payload.StartLine,
			EndLine:   s.Payload.EndLine,
			Snippet:   s.Payload.Text,
			Score:     s.Score,
			Revision:  s.Payload.Revision,
		}
	}
	if len(results) > 0 {
		observability.RecordSearchResult(span, len(results), results[0].Score)
	} else {
		observability.RecordSearchResult(span, 0, 0)
	}
	observability.Metrics().RecordSearch(time.Since(start), len(results), nil)
	observability.Audit().LogSearch(ctx, repo, k, len(results), time.Since(start))
	return results, nil
}
