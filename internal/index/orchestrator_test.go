package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/efebarandurmaz/repolens/internal/gitio"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// fakeVCS serves file content from an in-memory map, ignoring the
// revision argument. The next diff is preset through the changes field.
type fakeVCS struct {
	mu       sync.Mutex
	revision string
	files    map[string][]byte
	changes  gitio.Changes
	pulls    int
}

func newFakeVCS(revision string) *fakeVCS {
	return &fakeVCS{revision: revision, files: make(map[string][]byte)}
}

func (f *fakeVCS) CurrentRevision(ctx context.Context, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision, nil
}

func (f *fakeVCS) TrackedFiles(ctx context.Context, repo, rev string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *fakeVCS) ChangedPaths(ctx context.Context, repo, from, to string) (gitio.Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes, nil
}

func (f *fakeVCS) ReadFileAt(ctx context.Context, repo, rev, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", gitio.ErrNotFound, path, rev)
	}
	return content, nil
}

func (f *fakeVCS) Pull(ctx context.Context, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return nil
}

// advance moves the fake repository to a new revision with the given
// file mutations and diff.
func (f *fakeVCS) advance(revision string, changes gitio.Changes, mutate func(files map[string][]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revision = revision
	f.changes = changes
	if mutate != nil {
		mutate(f.files)
	}
}

// fakeStore is an in-memory vector.Store that tracks operation counts.
type fakeStore struct {
	mu        sync.Mutex
	dimension int
	records   map[string]vector.Record

	upsertCalls int
	idDeletes   int
	pathDeletes int
	upsertErr   error
	countErr    error
	searchErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]vector.Record)}
}

func (s *fakeStore) EnsureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upsertCalls++
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *fakeStore) DeleteIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			s.idDeletes++
		}
	}
	return nil
}

func (s *fakeStore) DeletePath(ctx context.Context, repo, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Payload.Repo == repo && r.Payload.Path == path {
			delete(s.records, id)
			s.pathDeletes++
		}
	}
	return nil
}

func (s *fakeStore) Search(ctx context.Context, repo string, vec []float32, k int) ([]vector.Scored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var hits []vector.Scored
	for id, r := range s.records {
		if r.Payload.Repo != repo {
			continue
		}
		hits = append(hits, vector.Scored{ID: id, Score: dot(vec, r.Vector), Payload: r.Payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *fakeStore) Count(ctx context.Context, repo string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	var n uint64
	for _, r := range s.records {
		if r.Payload.Repo == repo {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count(repo string) int {
	n, _ := s.Count(context.Background(), repo)
	return int(n)
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		if i < len(b) {
			sum += a[i] * b[i]
		}
	}
	return sum
}

// fakeEmbedder produces a deterministic vector per text and counts calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	texts   int
	err     error
	started chan struct{} // closed on first Embed, if set
	release chan struct{} // Embed blocks until closed, if set
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	started, release, err := e.started, e.release, e.err
	e.started = nil
	e.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i + 1), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int { return 4 }
func (e *fakeEmbedder) Name() string   { return "fake" }

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d of the file\n", i)
	}
	return b.String()
}

func newTestOrchestrator(vcs *fakeVCS, store *fakeStore, emb *fakeEmbedder) (*Orchestrator, *MemoryMarkerStore) {
	markers := NewMemoryMarkerStore()
	o := NewOrchestrator(vcs, emb, store, markers, nil, Options{Concurrency: 2})
	return o, markers
}

func TestIndexFirstPassIndexesAllTrackedFiles(t *testing.T) {
	vcs := newFakeVCS("rev1")
	// 50 contiguous lines chunk into two overlapping windows; 10 lines
	// fit a single chunk. Three records total.
	vcs.files["a.py"] = []byte(numberedLines(50))
	vcs.files["b.py"] = []byte(numberedLines(10))

	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	if got := store.count("demo"); got != 3 {
		t.Errorf("stored records = %d, want 3", got)
	}
	if store.dimension != 4 {
		t.Errorf("collection dimension = %d, want 4", store.dimension)
	}
	if report.VectorsUpsert != 3 {
		t.Errorf("VectorsUpsert = %d, want 3", report.VectorsUpsert)
	}
	if report.FilesChanged != 2 {
		t.Errorf("FilesChanged = %d, want 2", report.FilesChanged)
	}
	// One embedding call per file.
	if emb.callCount() != 2 {
		t.Errorf("embedding calls = %d, want 2", emb.callCount())
	}

	state, err := markers.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state == nil || state.LastIndexed != "rev1" {
		t.Fatalf("marker = %+v, want LastIndexed rev1", state)
	}
	if len(state.Files["a.py"].ChunkIDs) != 2 {
		t.Errorf("a.py chunk IDs = %d, want 2", len(state.Files["a.py"].ChunkIDs))
	}
	if len(state.Files["b.py"].ChunkIDs) != 1 {
		t.Errorf("b.py chunk IDs = %d, want 1", len(state.Files["b.py"].ChunkIDs))
	}
}

func TestIndexIsIdempotentAtSameRevision(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, _ := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	callsAfterFirst := emb.callCount()

	// Same revision: the delta is empty and nothing is re-embedded.
	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if emb.callCount() != callsAfterFirst {
		t.Errorf("embedding calls grew from %d to %d on a no-op pass", callsAfterFirst, emb.callCount())
	}
	if report.VectorsUpsert != 0 || report.VectorsDeleted != 0 {
		t.Errorf("no-op pass wrote vectors: %+v", report)
	}
	if got := store.count("demo"); got != 1 {
		t.Errorf("stored records = %d, want 1", got)
	}
}

func TestIndexIncrementalEditReplacesPriorChunks(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(50))
	vcs.files["b.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	before, _ := markers.Load("demo")
	oldID := before.Files["b.py"].ChunkIDs[0]

	vcs.advance("rev2",
		gitio.Changes{AddedOrModified: []string{"b.py"}},
		func(files map[string][]byte) {
			files["b.py"] = []byte("changed content\n" + numberedLines(9))
		})

	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("incremental Index: %v", err)
	}

	if report.VectorsUpsert != 1 {
		t.Errorf("VectorsUpsert = %d, want 1", report.VectorsUpsert)
	}
	if report.VectorsDeleted != 1 {
		t.Errorf("VectorsDeleted = %d, want 1", report.VectorsDeleted)
	}
	if got := store.count("demo"); got != 3 {
		t.Errorf("stored records = %d, want 3", got)
	}

	after, _ := markers.Load("demo")
	if after.LastIndexed != "rev2" {
		t.Errorf("LastIndexed = %q, want rev2", after.LastIndexed)
	}
	newID := after.Files["b.py"].ChunkIDs[0]
	if newID == oldID {
		t.Error("changed content kept its record ID")
	}
	if _, ok := store.records[oldID]; ok {
		t.Error("prior record still present after edit")
	}
	// a.py was untouched.
	if len(after.Files["a.py"].ChunkIDs) != 2 {
		t.Errorf("a.py chunk IDs = %d, want 2", len(after.Files["a.py"].ChunkIDs))
	}
}

func TestIndexSkipsUnchangedContentWithoutEmbedding(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, _ := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	callsAfterFirst := emb.callCount()

	// Diff reports the path but content is byte-identical (e.g. a
	// revert commit). The content hash short-circuits the pipeline.
	vcs.advance("rev2", gitio.Changes{AddedOrModified: []string{"a.py"}}, nil)

	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if emb.callCount() != callsAfterFirst {
		t.Errorf("unchanged file was re-embedded (%d -> %d calls)", callsAfterFirst, emb.callCount())
	}
	if report.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", report.FilesSkipped)
	}
}

func TestIndexRemovedFileDeletesAllRecords(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	vcs.files["b.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}

	vcs.advance("rev2",
		gitio.Changes{Removed: []string{"b.py"}},
		func(files map[string][]byte) { delete(files, "b.py") })

	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("incremental Index: %v", err)
	}
	if store.pathDeletes != 1 {
		t.Errorf("path deletes = %d, want 1", store.pathDeletes)
	}
	if got := store.count("demo"); got != 1 {
		t.Errorf("stored records = %d, want 1", got)
	}
	if report.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", report.FilesRemoved)
	}

	state, _ := markers.Load("demo")
	if _, ok := state.Files["b.py"]; ok {
		t.Error("removed file still tracked in marker state")
	}
}

func TestIndexSkipsBinaryFiles(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	vcs.files["logo.png"] = []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02}
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	report, err := o.Index(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got := store.count("demo"); got != 1 {
		t.Errorf("stored records = %d, want 1", got)
	}
	if report.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", report.FilesSkipped)
	}
	state, _ := markers.Load("demo")
	if _, ok := state.Files["logo.png"]; ok {
		t.Error("binary file entered marker state")
	}
}

func TestIndexFileTurnedBinaryDropsPriorChunks(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["data.txt"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}

	vcs.advance("rev2",
		gitio.Changes{AddedOrModified: []string{"data.txt"}},
		func(files map[string][]byte) {
			files["data.txt"] = []byte{0x00, 0x01, 0x02, 0x03}
		})

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if got := store.count("demo"); got != 0 {
		t.Errorf("stored records = %d, want 0", got)
	}
	state, _ := markers.Load("demo")
	if _, ok := state.Files["data.txt"]; ok {
		t.Error("binary-replaced file still tracked in marker state")
	}
}

func TestIndexFailureLeavesMarkerUntouched(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	o, markers := newTestOrchestrator(vcs, store, emb)

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("first Index: %v", err)
	}

	vcs.advance("rev2",
		gitio.Changes{AddedOrModified: []string{"a.py"}},
		func(files map[string][]byte) {
			files["a.py"] = []byte("new content\n")
		})
	emb.err = errors.New("provider exploded")

	_, err := o.Index(context.Background(), "demo")
	if err == nil {
		t.Fatal("Index succeeded despite embedding failure")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageEmbed {
		t.Errorf("error = %v, want StageError at %s", err, StageEmbed)
	}

	state, _ := markers.Load("demo")
	if state.LastIndexed != "rev1" {
		t.Errorf("marker advanced to %q on a failed pass", state.LastIndexed)
	}

	// Retry after the provider recovers.
	emb.err = nil
	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("retry Index: %v", err)
	}
	state, _ = markers.Load("demo")
	if state.LastIndexed != "rev2" {
		t.Errorf("marker = %q after retry, want rev2", state.LastIndexed)
	}
}

func TestIndexRejectsConcurrentPassForSameRepo(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(vcs, store, emb)

	done := make(chan error, 1)
	go func() {
		_, err := o.Index(context.Background(), "demo")
		done <- err
	}()

	<-emb.started // first pass is mid-flight

	_, err := o.Index(context.Background(), "demo")
	if !errors.Is(err, ErrIndexInProgress) {
		t.Errorf("concurrent Index error = %v, want ErrIndexInProgress", err)
	}

	// A different repository is not blocked by demo's pass.
	if err := o.acquire("other"); err != nil {
		t.Errorf("acquire other repo: %v", err)
	}
	o.release("other")

	close(emb.release)
	if err := <-done; err != nil {
		t.Fatalf("first Index: %v", err)
	}

	// The slot frees once the pass completes.
	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Errorf("Index after completion: %v", err)
	}
}

func TestIndexRejectsEmptyRepoName(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeVCS("rev1"), newFakeStore(), &fakeEmbedder{})
	if _, err := o.Index(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestPullAndIndexPullsBeforeIndexing(t *testing.T) {
	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	o, markers := newTestOrchestrator(vcs, store, &fakeEmbedder{})

	report, err := o.PullAndIndex(context.Background(), "demo")
	if err != nil {
		t.Fatalf("PullAndIndex: %v", err)
	}
	if vcs.pulls != 1 {
		t.Errorf("pulls = %d, want 1", vcs.pulls)
	}
	if report.ToRevision != "rev1" {
		t.Errorf("ToRevision = %q, want rev1", report.ToRevision)
	}
	if state, _ := markers.Load("demo"); state == nil {
		t.Error("marker missing after PullAndIndex")
	}
}

func TestDiffIDs(t *testing.T) {
	stale := diffIDs([]string{"a", "b", "c"}, []string{"b"})
	if len(stale) != 2 || stale[0] != "a" || stale[1] != "c" {
		t.Errorf("diffIDs = %v, want [a c]", stale)
	}
	if got := diffIDs(nil, []string{"x"}); got != nil {
		t.Errorf("diffIDs(nil, ...) = %v, want nil", got)
	}
}

func TestIndexRecordsAuditEventsAndMetrics(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    true,
		OutputPath: auditPath,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	observability.SetAuditLogger(auditLog)
	defer observability.SetAuditLogger(nil)

	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	o, _ := newTestOrchestrator(vcs, store, &fakeEmbedder{})

	m := observability.Metrics()
	passesBefore := m.IndexPassesTotal.Value()
	upsertsBefore := m.VectorsUpsertTotal.Value()

	if _, err := o.Index(context.Background(), "demo"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := auditLog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := m.IndexPassesTotal.Value() - passesBefore; got != 1 {
		t.Errorf("index passes recorded = %v, want 1", got)
	}
	if got := m.VectorsUpsertTotal.Value() - upsertsBefore; got != 1 {
		t.Errorf("vector upserts recorded = %v, want 1", got)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	for _, want := range []string{"index.start", "marker.save", "index.complete"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("audit log missing %q event:\n%s", want, data)
		}
	}
	if !strings.Contains(string(data), `"repo":"demo"`) {
		t.Errorf("audit events not tagged with the repository:\n%s", data)
	}
}

func TestIndexRecordsErrorAuditEvent(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    true,
		OutputPath: auditPath,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	observability.SetAuditLogger(auditLog)
	defer observability.SetAuditLogger(nil)

	vcs := newFakeVCS("rev1")
	vcs.files["a.py"] = []byte(numberedLines(10))
	store := newFakeStore()
	emb := &fakeEmbedder{err: errors.New("provider exploded")}
	o, _ := newTestOrchestrator(vcs, store, emb)

	m := observability.Metrics()
	errorsBefore := m.IndexPassErrorsTotal.Value()

	if _, err := o.Index(context.Background(), "demo"); err == nil {
		t.Fatal("Index succeeded despite embedding failure")
	}
	if err := auditLog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := m.IndexPassErrorsTotal.Value() - errorsBefore; got != 1 {
		t.Errorf("pass errors recorded = %v, want 1", got)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "index.error") {
		t.Errorf("audit log missing index.error event:\n%s", data)
	}
	if !strings.Contains(string(data), "provider exploded") {
		t.Errorf("audit log missing the failure detail:\n%s", data)
	}
}
