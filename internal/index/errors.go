package index

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument rejects bad input (empty repo, non-positive k)
	// before any side effect.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIndexInProgress rejects a second concurrent pass for the same
	// repository. Safe to retry later.
	ErrIndexInProgress = errors.New("index pass already in progress")

	// ErrEmptyIndex signals that a repository has no indexed records.
	// Callers should treat it as "no results", not a system error.
	ErrEmptyIndex = errors.New("repository has no indexed records")

	// ErrStoreUnavailable wraps any vector store failure. The core does
	// not retry store operations; retry policy belongs to the caller.
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// Pipeline stage names used in error context.
const (
	StageDetect = "detect"
	StageRead   = "read"
	StageChunk  = "chunk"
	StageEmbed  = "embed"
	StageUpsert = "upsert"
	StageDelete = "delete"
	StageMarker = "marker"
)

// StageError carries enough context (repository, path, stage) to diagnose
// a failed pass without re-running it.
type StageError struct {
	Repo  string
	Path  string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("index %s: stage %s: %v", e.Repo, e.Stage, e.Err)
	}
	return fmt.Sprintf("index %s: %s: stage %s: %v", e.Repo, e.Path, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(repo, path, stage string, err error) error {
	return &StageError{Repo: repo, Path: path, Stage: stage, Err: err}
}
