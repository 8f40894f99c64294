package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/efebarandurmaz/repolens/internal/chunker"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// RecordID derives a deterministic UUID from (repository, path, content
// hash, chunk ordinal). Unchanged content keeps its ID across revisions,
// so re-upserting it is a cheap overwrite; changed content gets a new ID
// and the old one must be deleted explicitly.
func RecordID(repo, path, contentHash string, ordinal int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", repo, path, contentHash, ordinal)
	sum := h.Sum(nil)

	// Format the first 16 bytes as a UUID; Qdrant requires UUID or
	// integer point IDs.
	sum[6] = (sum[6] & 0x0f) | 0x40
	sum[8] = (sum[8] & 0x3f) | 0x80

	var out [36]byte
	hex.Encode(out[0:8], sum[0:4])
	out[8] = '-'
	hex.Encode(out[9:13], sum[4:6])
	out[13] = '-'
	hex.Encode(out[14:18], sum[6:8])
	out[18] = '-'
	hex.Encode(out[19:23], sum[8:10])
	out[23] = '-'
	hex.Encode(out[24:36], sum[10:16])
	return string(out[:])
}

// Writer performs idempotent upsert/delete against the vector store.
// Marker updates are not its job; the orchestrator owns those.
type Writer struct {
	store vector.Store
}

// NewWriter creates an index writer.
func NewWriter(store vector.Store) *Writer {
	return &Writer{store: store}
}

// Upsert writes one record per chunk and returns the record IDs in chunk
// order. vectors must align with chunks.
func (w *Writer) Upsert(ctx context.Context, repo, revision string, chunks []chunker.Chunk, vectors [][]float32) ([]string, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidArgument, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	records := make([]vector.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		id := RecordID(repo, ch.Path, ch.Hash, i)
		ids[i] = id
		records[i] = vector.Record{
			ID:     id,
			Vector: vectors[i],
			Payload: vector.Payload{
				Repo:      repo,
				Path:      ch.Path,
				StartLine: ch.StartLine,
				EndLine:   ch.EndLine,
				Revision:  revision,
				Hash:      ch.Hash,
				Text:      ch.Text,
			},
		}
	}

	if err := w.store.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// DeleteIDs removes specific records, typically a changed file's prior
// identifiers.
func (w *Writer) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.store.DeleteIDs(ctx, ids); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeletePath removes every record for a removed file.
func (w *Writer) DeletePath(ctx context.Context, repo, path string) error {
	if err := w.store.DeletePath(ctx, repo, path); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
