package index

import (
	"context"

	"github.com/efebarandurmaz/repolens/internal/gitio"
)

// VCS is the narrow version-control capability the indexing core
// consumes. *gitio.Git satisfies it.
type VCS interface {
	CurrentRevision(ctx context.Context, repo string) (string, error)
	TrackedFiles(ctx context.Context, repo, rev string) ([]string, error)
	ChangedPaths(ctx context.Context, repo, from, to string) (gitio.Changes, error)
	ReadFileAt(ctx context.Context, repo, rev, path string) ([]byte, error)
	Pull(ctx context.Context, repo string) error
}

// Detector computes the minimal set of paths that must be (re)indexed or
// removed between the last indexed revision and a target revision.
type Detector struct {
	vcs VCS
}

// NewDetector creates a change detector.
func NewDetector(vcs VCS) *Detector {
	return &Detector{vcs: vcs}
}

// Diff returns the file-level delta between from and to. An empty from
// means first index: every tracked file is reported as added. Text
// decodability is decided later by the chunker's classifier, so binary
// files flow through here and are skipped at chunk time.
func (d *Detector) Diff(ctx context.Context, repo, from, to string) (gitio.Changes, error) {
	if from == "" {
		files, err := d.vcs.TrackedFiles(ctx, repo, to)
		if err != nil {
			return gitio.Changes{}, stageErr(repo, "", StageDetect, err)
		}
		return gitio.Changes{AddedOrModified: files}, nil
	}
	if from == to {
		return gitio.Changes{}, nil
	}

	changes, err := d.vcs.ChangedPaths(ctx, repo, from, to)
	if err != nil {
		return gitio.Changes{}, stageErr(repo, "", StageDetect, err)
	}
	return changes, nil
}
