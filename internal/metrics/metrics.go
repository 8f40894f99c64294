// Package metrics collects per-pass indexing statistics for reporting.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// PassReport collects statistics for a single index pass.
type PassReport struct {
	mu sync.Mutex

	Repo         string        `json:"repo"`
	FromRevision string        `json:"from_revision,omitempty"`
	ToRevision   string        `json:"to_revision"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
	Duration     time.Duration `json:"duration_ms,omitempty"`

	FilesChanged   int `json:"files_changed"`
	FilesRemoved   int `json:"files_removed"`
	FilesSkipped   int `json:"files_skipped"` // unchanged hash or non-text
	ChunksEmbedded int `json:"chunks_embedded"`
	VectorsUpsert  int `json:"vectors_upserted"`
	VectorsDeleted int `json:"vectors_deleted"`
	EmbeddingCalls int `json:"embedding_calls"`

	Error string `json:"error,omitempty"`
}

// NewPass starts tracking an index pass.
func NewPass(repo, from, to string) *PassReport {
	return &PassReport{
		Repo:         repo,
		FromRevision: from,
		ToRevision:   to,
		StartedAt:    time.Now(),
	}
}

// CollectChanges records the detected delta size.
func (r *PassReport) CollectChanges(changed, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesChanged = changed
	r.FilesRemoved = removed
}

// FileSkipped records one skipped file (unchanged content or non-text).
func (r *PassReport) FileSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesSkipped++
}

// FileIndexed records one file's embed/upsert/delete counts.
func (r *PassReport) FileIndexed(chunks, upserted, deleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ChunksEmbedded += chunks
	r.VectorsUpsert += upserted
	r.VectorsDeleted += deleted
	if chunks > 0 {
		r.EmbeddingCalls++
	}
}

// FileDeleted records a removed path's cleanup.
func (r *PassReport) FileDeleted(deleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VectorsDeleted += deleted
}

// Finish marks the pass complete. A non-nil err marks it failed.
func (r *PassReport) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	if err != nil {
		r.Error = err.Error()
	}
}

// PrintSummary writes a human-readable summary.
func (r *PassReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║         REPOLENS INDEX REPORT        ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Repository:  %-23s ║\n", truncate(r.Repo, 23))
	fmt.Fprintf(w, "║ Revision:    %-23s ║\n", truncate(r.ToRevision, 23))
	fmt.Fprintf(w, "║ Duration:    %-23s ║\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Files changed:    %d\n", r.FilesChanged)
	fmt.Fprintf(w, "║ Files removed:    %d\n", r.FilesRemoved)
	fmt.Fprintf(w, "║ Files skipped:    %d\n", r.FilesSkipped)
	fmt.Fprintf(w, "║ Chunks embedded:  %d\n", r.ChunksEmbedded)
	fmt.Fprintf(w, "║ Vectors upserted: %d\n", r.VectorsUpsert)
	fmt.Fprintf(w, "║ Vectors deleted:  %d\n", r.VectorsDeleted)
	fmt.Fprintf(w, "║ Embedding calls:  %d\n", r.EmbeddingCalls)
	if r.Error != "" {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERROR: %s\n", r.Error)
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *PassReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
