package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/repolens/internal/index"
	"github.com/efebarandurmaz/repolens/internal/metrics"
)

// Indexer runs index passes. *index.Orchestrator satisfies it.
type Indexer interface {
	Index(ctx context.Context, repo string) (*metrics.PassReport, error)
}

// RepoSource pulls and enumerates repositories. *gitio.Git satisfies it.
type RepoSource interface {
	Pull(ctx context.Context, repo string) error
	ListRepos() ([]string, error)
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Indexer Indexer
	Repos   RepoSource
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// PullActivity fast-forwards a repository from its origin.
func PullActivity(ctx context.Context, repo string) error {
	if err := deps.Repos.Pull(ctx, repo); err != nil {
		return fmt.Errorf("pull %s: %w", repo, err)
	}
	return nil
}

// IndexActivity runs one index pass and returns its summary. An
// in-flight pass for the same repository is reported as a non-retryable
// application error so the workflow's retry policy can skip it.
func IndexActivity(ctx context.Context, repo string) (IndexOutput, error) {
	report, err := deps.Indexer.Index(ctx, repo)
	if err != nil {
		if errors.Is(err, index.ErrIndexInProgress) {
			return IndexOutput{}, temporal.NewNonRetryableApplicationError(
				err.Error(), "IndexInProgress", err)
		}
		return IndexOutput{}, err
	}
	return reportToOutput(repo, report), nil
}

// ListReposActivity enumerates the repositories under the root.
func ListReposActivity(ctx context.Context) ([]string, error) {
	return deps.Repos.ListRepos()
}

func reportToOutput(repo string, report *metrics.PassReport) IndexOutput {
	out := IndexOutput{Repo: repo}
	if report == nil {
		return out
	}
	out.FromRevision = report.FromRevision
	out.ToRevision = report.ToRevision
	out.FilesChanged = report.FilesChanged
	out.FilesRemoved = report.FilesRemoved
	out.FilesSkipped = report.FilesSkipped
	out.ChunksEmbedded = report.ChunksEmbedded
	out.VectorsUpsert = report.VectorsUpsert
	out.VectorsDeleted = report.VectorsDeleted
	return out
}
