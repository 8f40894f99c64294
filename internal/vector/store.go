// Package vector provides vector storage and similarity search for
// indexed repository chunks.
package vector

import "context"

// Payload is the provenance metadata stored alongside each vector.
type Payload struct {
	Repo      string
	Path      string
	StartLine int
	EndLine   int
	Revision  string
	Hash      string
	Text      string
}

// Record is the unit stored in the vector index. ID must be a UUID that
// is stable across revisions when content is unchanged and unique
// otherwise, so upserts overwrite rather than duplicate.
type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Scored is a single match from a similarity search.
type Scored struct {
	ID      string
	Score   float32
	Payload Payload
}

// Store provides vector storage scoped by repository. Implementations
// must guarantee that Search and Count never cross repository boundaries.
type Store interface {
	// EnsureCollection creates the backing collection if missing.
	EnsureCollection(ctx context.Context, dimension int) error
	// Upsert inserts or overwrites records by ID.
	Upsert(ctx context.Context, records []Record) error
	// DeleteIDs removes records by ID. Missing IDs are not an error.
	DeleteIDs(ctx context.Context, ids []string) error
	// DeletePath removes every record whose payload matches (repo, path).
	DeletePath(ctx context.Context, repo, path string) error
	// Search returns the top-k most similar records within a repository,
	// descending by score.
	Search(ctx context.Context, repo string, vector []float32, k int) ([]Scored, error)
	// Count returns the number of records stored for a repository.
	Count(ctx context.Context, repo string) (uint64, error)
	// Close releases resources.
	Close() error
}
