// Package temporal runs scheduled and on-demand index passes as Temporal
// workflows, so pulls and reindexing survive worker restarts.
package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// IndexInput holds the workflow parameters for one repository.
type IndexInput struct {
	Repo string
	// Pull fetches upstream changes before indexing.
	Pull bool
}

// IndexOutput is the serializable summary of one index pass.
type IndexOutput struct {
	Repo         string
	FromRevision string
	ToRevision   string

	FilesChanged   int
	FilesRemoved   int
	FilesSkipped   int
	ChunksEmbedded int
	VectorsUpsert  int
	VectorsDeleted int

	Error string
}

// PullAndIndexWorkflow pulls a repository (when requested) and runs an
// index pass against its new head.
func PullAndIndexWorkflow(ctx workflow.Context, input IndexInput) (*IndexOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumInterval: 2 * time.Minute,
			MaximumAttempts: 3,
			// A pass already in flight finishes on its own schedule;
			// retrying against the lock just burns attempts.
			NonRetryableErrorTypes: []string{"IndexInProgress"},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	if input.Pull {
		if err := workflow.ExecuteActivity(ctx, PullActivity, input.Repo).Get(ctx, nil); err != nil {
			return nil, fmt.Errorf("pull %s: %w", input.Repo, err)
		}
	}

	var out IndexOutput
	if err := workflow.ExecuteActivity(ctx, IndexActivity, input.Repo).Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("index %s: %w", input.Repo, err)
	}
	return &out, nil
}

// ReindexAllWorkflow pulls and indexes every repository under the root.
// Per-repository failures are recorded, not fatal: one broken clone must
// not block the rest of the fleet.
func ReindexAllWorkflow(ctx workflow.Context) ([]IndexOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumInterval: 2 * time.Minute,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var repos []string
	if err := workflow.ExecuteActivity(ctx, ListReposActivity).Get(ctx, &repos); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}

	outputs := make([]IndexOutput, 0, len(repos))
	for _, repo := range repos {
		if err := workflow.ExecuteActivity(ctx, PullActivity, repo).Get(ctx, nil); err != nil {
			outputs = append(outputs, IndexOutput{Repo: repo, Error: err.Error()})
			continue
		}
		var out IndexOutput
		if err := workflow.ExecuteActivity(ctx, IndexActivity, repo).Get(ctx, &out); err != nil {
			outputs = append(outputs, IndexOutput{Repo: repo, Error: err.Error()})
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
