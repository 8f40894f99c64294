package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/repolens/internal/chunker"
	"github.com/efebarandurmaz/repolens/internal/embedding"
	"github.com/efebarandurmaz/repolens/internal/gitio"
	"github.com/efebarandurmaz/repolens/internal/graph"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// DefaultConcurrency bounds the number of files processed in parallel
// during an index pass.
const DefaultConcurrency = 8

// Options configures an Orchestrator.
type Options struct {
	// Concurrency is the maximum number of files indexed in parallel.
	Concurrency int

	// Chunker options applied to every text file.
	Chunker chunker.Options

	// Logger used for per-pass progress. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) normalized() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Orchestrator drives full and incremental index passes. It coordinates
// change detection, chunking, embedding and vector writes, and commits
// the per-repository marker only after a pass fully succeeds.
type Orchestrator struct {
	vcs      VCS
	provider embedding.Provider
	store    vector.Store
	markers  MarkerStore
	recorder graph.Recorder
	opts     Options

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewOrchestrator builds an Orchestrator. recorder may be nil to
// disable provenance recording.
func NewOrchestrator(vcs VCS, provider embedding.Provider, store vector.Store, markers MarkerStore, recorder graph.Recorder, opts Options) *Orchestrator {
	if recorder == nil {
		recorder = graph.Noop{}
	}
	return &Orchestrator{
		vcs:      vcs,
		provider: provider,
		store:    store,
		markers:  markers,
		recorder: recorder,
		opts:     opts.normalized(),
		inFlight: make(map[string]bool),
	}
}

// acquire marks repo as having a pass in flight. It fails with
// ErrIndexInProgress when another pass already holds the slot.
func (o *Orchestrator) acquire(repo string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[repo] {
		return fmt.Errorf("%w: repository %q", ErrIndexInProgress, repo)
	}
	o.inFlight[repo] = true
	return nil
}

func (o *Orchestrator) release(repo string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, repo)
}

// fileResult carries the outcome of one file's unit of work back to the
// pass loop. Exactly one of skipped/removed/indexed applies.
type fileResult struct {
	path    string
	skipped bool
	removed bool
	state   FileState
	upserts int
	deletes int
	chunks  int
}

// Index runs one pass over repo, bringing the vector index in line with
// the repository's current revision. Only one pass per repository runs
// at a time; concurrent calls fail with ErrIndexInProgress.
func (o *Orchestrator) Index(ctx context.Context, repo string) (*metrics.PassReport, error) {
	if repo == "" {
		return nil, fmt.Errorf("%w: repository name is empty", ErrInvalidArgument)
	}
	if err := o.acquire(repo); err != nil {
		return nil, err
	}
	defer o.release(repo)

	targetRev, err := o.vcs.CurrentRevision(ctx, repo)
	if err != nil {
		return nil, stageErr(repo, "", StageDetect, err)
	}

	prior, err := o.markers.Load(repo)
	if err != nil {
		return nil, stageErr(repo, "", StageMarker, err)
	}
	fromRev := ""
	if prior != nil {
		fromRev = prior.LastIndexed
	}

	ctx, span := observability.StartIndexSpan(ctx, repo, fromRev, targetRev)
	defer span.End()

	m := observability.Metrics()
	m.ActivePasses.Inc()
	defer m.ActivePasses.Dec()
	observability.Audit().LogIndexStart(ctx, repo, fromRev, targetRev)

	report := metrics.NewPass(repo, fromRev, targetRev)
	err = o.runPass(ctx, repo, prior, fromRev, targetRev, report)
	report.Finish(err)
	m.RecordIndexPass(report.Duration,
		report.FilesChanged, report.FilesSkipped,
		report.VectorsUpsert, report.VectorsDeleted, err)
	if err != nil {
		observability.RecordError(span, err)
		observability.Audit().LogIndexError(ctx, repo, err)
		return report, err
	}
	observability.RecordIndexResult(span,
		report.FilesChanged, report.FilesSkipped,
		report.VectorsUpsert, report.VectorsDeleted,
		report.Duration)
	observability.Audit().LogIndexComplete(ctx, repo, report.Duration,
		report.FilesChanged, report.FilesSkipped,
		report.VectorsUpsert, report.VectorsDeleted)
	return report, nil
}

func (o *Orchestrator) runPass(ctx context.Context, repo string, prior *RepoState, fromRev, targetRev string, report *metrics.PassReport) error {
	changes, err := NewDetector(o.vcs).Diff(ctx, repo, fromRev, targetRev)
	if err != nil {
		return err
	}
	report.CollectChanges(len(changes.AddedOrModified), len(changes.Removed))

	if err := o.store.EnsureCollection(ctx, o.provider.Dimension()); err != nil {
		return fmt.Errorf("%w: ensure collection: %v", ErrStoreUnavailable, err)
	}

	candidate := NewRepoState(repo)
	if prior != nil {
		candidate = prior.Clone()
	}
	candidate.LastIndexed = targetRev

	o.opts.Logger.Info("index pass starting",
		"repo", repo,
		"from", fromRev,
		"to", targetRev,
		"changed", len(changes.AddedOrModified),
		"removed", len(changes.Removed))

	var (
		resMu   sync.Mutex
		results []fileResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for _, path := range changes.AddedOrModified {
		path := path
		g.Go(func() error {
			res, err := o.indexPath(gctx, repo, targetRev, path, prior)
			if err != nil {
				return err
			}
			resMu.Lock()
			results = append(results, res)
			resMu.Unlock()
			return nil
		})
	}
	for _, path := range changes.Removed {
		path := path
		g.Go(func() error {
			if err := o.store.DeletePath(gctx, repo, path); err != nil {
				return stageErr(repo, path, StageDelete,
					fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
			}
			resMu.Lock()
			results = append(results, fileResult{path: path, removed: true})
			resMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Apply results to the candidate state in a deterministic order.
	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })
	var indexed []graph.File
	var removed []string
	for _, res := range results {
		switch {
		case res.removed:
			priorIDs := len(candidate.Files[res.path].ChunkIDs)
			delete(candidate.Files, res.path)
			report.FileDeleted(priorIDs)
			removed = append(removed, res.path)
		case res.skipped:
			report.FileSkipped()
		default:
			candidate.Files[res.path] = res.state
			report.FileIndexed(res.chunks, res.upserts, res.deletes)
			indexed = append(indexed, graph.File{
				Path:     res.path,
				Hash:     res.state.ContentHash,
				Revision: targetRev,
			})
		}
	}

	if err := o.markers.Save(candidate); err != nil {
		return stageErr(repo, "", StageMarker, err)
	}
	observability.Audit().LogMarkerSave(ctx, repo, targetRev, len(candidate.Files))

	// Provenance recording is best effort: a graph outage never fails
	// an otherwise successful pass.
	if err := o.recorder.RecordPass(ctx, repo, targetRev, indexed, removed); err != nil {
		o.opts.Logger.Warn("provenance recording failed", "repo", repo, "error", err)
	}

	return nil
}

// indexPath processes one added or modified path: read, classify,
// skip-if-unchanged, chunk, embed, upsert, and finally delete the
// chunks the previous content produced. prior state is read-only here;
// the returned fileResult is applied by the pass loop.
func (o *Orchestrator) indexPath(ctx context.Context, repo, revision, path string, prior *RepoState) (fileResult, error) {
	content, err := o.vcs.ReadFileAt(ctx, repo, revision, path)
	if err != nil {
		if errors.Is(err, gitio.ErrNotFound) {
			// Path reported as changed but absent at the target
			// revision (e.g. added then deleted between passes).
			if derr := o.deletePriorForPath(ctx, repo, path, prior); derr != nil {
				return fileResult{}, derr
			}
			return fileResult{path: path, removed: true}, nil
		}
		return fileResult{}, stageErr(repo, path, StageRead, err)
	}

	var (
		priorState FileState
		hadPrior   bool
	)
	if prior != nil {
		priorState, hadPrior = prior.Files[path]
	}

	if chunker.Classify(content) != chunker.ClassText {
		// Non-text files never enter the index. If an earlier pass
		// indexed this path as text, its chunks must go.
		if hadPrior && len(priorState.ChunkIDs) > 0 {
			if err := o.store.DeleteIDs(ctx, priorState.ChunkIDs); err != nil {
				return fileResult{}, stageErr(repo, path, StageDelete,
					fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
			}
			return fileResult{path: path, removed: true}, nil
		}
		return fileResult{path: path, skipped: true}, nil
	}

	text := string(content)
	contentHash := chunker.HashContent(path, text)
	if hadPrior && priorState.ContentHash == contentHash {
		// Identical content: the existing chunks stand, no embedding.
		return fileResult{path: path, skipped: true}, nil
	}

	chunks := chunker.New(o.opts.Chunker).Split(path, text)
	if len(chunks) == 0 {
		// Empty or whitespace-only file: nothing to index, but stale
		// chunks from previous content still need deleting.
		if hadPrior && len(priorState.ChunkIDs) > 0 {
			if err := o.store.DeleteIDs(ctx, priorState.ChunkIDs); err != nil {
				return fileResult{}, stageErr(repo, path, StageDelete,
					fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
			}
		}
		return fileResult{
			path:    path,
			state:   FileState{ContentHash: contentHash},
			deletes: len(priorState.ChunkIDs),
		}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	ectx, espan := observability.StartEmbedSpan(ctx, o.provider.Name(), len(texts))
	vectors, err := o.provider.Embed(ectx, texts)
	if err != nil {
		observability.RecordError(espan, err)
		espan.End()
		return fileResult{}, stageErr(repo, path, StageEmbed, err)
	}
	espan.End()

	ids, err := NewWriter(o.store).Upsert(ctx, repo, revision, chunks, vectors)
	if err != nil {
		return fileResult{}, stageErr(repo, path, StageUpsert, err)
	}

	// Drop the previous content's chunks, keeping any IDs the new
	// content reproduced (unchanged chunks hash to the same ID).
	var stale []string
	if hadPrior {
		stale = diffIDs(priorState.ChunkIDs, ids)
		if len(stale) > 0 {
			if err := o.store.DeleteIDs(ctx, stale); err != nil {
				return fileResult{}, stageErr(repo, path, StageDelete,
					fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
			}
		}
	}

	return fileResult{
		path:    path,
		state:   FileState{ContentHash: contentHash, ChunkIDs: ids},
		upserts: len(ids),
		deletes: len(stale),
		chunks:  len(chunks),
	}, nil
}

func (o *Orchestrator) deletePriorForPath(ctx context.Context, repo, path string, prior *RepoState) error {
	if prior == nil {
		return nil
	}
	state, ok := prior.Files[path]
	if !ok || len(state.ChunkIDs) == 0 {
		return nil
	}
	if err := o.store.DeleteIDs(ctx, state.ChunkIDs); err != nil {
		return stageErr(repo, path, StageDelete,
			fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	return nil
}

// diffIDs returns the elements of prior that are absent from current.
func diffIDs(prior, current []string) []string {
	keep := make(map[string]bool, len(current))
	for _, id := range current {
		keep[id] = true
	}
	var stale []string
	for _, id := range prior {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

// PullAndIndex fetches the latest upstream changes for repo and runs an
// index pass against the new head.
func (o *Orchestrator) PullAndIndex(ctx context.Context, repo string) (*metrics.PassReport, error) {
	start := time.Now()
	if err := o.vcs.Pull(ctx, repo); err != nil {
		return nil, stageErr(repo, "", StageDetect, fmt.Errorf("pull: %w", err))
	}
	o.opts.Logger.Info("pulled upstream changes", "repo", repo, "took", time.Since(start))
	observability.Audit().LogRepoPull(ctx, repo, time.Since(start))
	return o.Index(ctx, repo)
}
