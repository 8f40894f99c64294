// Package graph records indexing provenance: which files a repository
// contained at each indexed revision. The HTTP layer uses it to suggest
// files related to a given path.
package graph

import "context"

// File is one indexed file's provenance entry.
type File struct {
	Path     string
	Hash     string
	Revision string
}

// Recorder persists indexing provenance. Recording is best-effort from
// the orchestrator's point of view: a graph failure never fails a pass.
type Recorder interface {
	// RecordPass stores the files indexed at a revision and removes
	// entries for deleted paths.
	RecordPass(ctx context.Context, repo, revision string, indexed []File, removed []string) error
	// RelatedFiles returns paths related to the given one (currently:
	// files sharing its directory), up to limit.
	RelatedFiles(ctx context.Context, repo, path string, limit int) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// Noop is used when no graph backend is configured.
type Noop struct{}

func (Noop) RecordPass(context.Context, string, string, []File, []string) error { return nil }

func (Noop) RelatedFiles(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (Noop) Close(context.Context) error { return nil }

var _ Recorder = Noop{}
