package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const stateVersion = "1.0.0"

// FileState is the last-known index state for a single path: the file
// content hash and the vector record IDs written for it. The IDs are the
// "prior identifiers" an incremental pass must delete when content
// changes.
type FileState struct {
	ContentHash string   `json:"content_hash"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// RepoState is the per-repository index marker plus per-path state. The
// marker (LastIndexed) is owned by the orchestrator and only advances
// after a complete, non-partial pass.
type RepoState struct {
	Version     string               `json:"version"`
	Repo        string               `json:"repo"`
	LastIndexed string               `json:"last_indexed"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Files       map[string]FileState `json:"files"`
}

// NewRepoState creates an empty state for a repository.
func NewRepoState(repo string) *RepoState {
	return &RepoState{
		Version: stateVersion,
		Repo:    repo,
		Files:   make(map[string]FileState),
	}
}

// Clone returns a deep copy so an in-flight pass can build its candidate
// state without mutating the committed one.
func (s *RepoState) Clone() *RepoState {
	c := &RepoState{
		Version:     s.Version,
		Repo:        s.Repo,
		LastIndexed: s.LastIndexed,
		UpdatedAt:   s.UpdatedAt,
		Files:       make(map[string]FileState, len(s.Files)),
	}
	for path, fs := range s.Files {
		ids := make([]string, len(fs.ChunkIDs))
		copy(ids, fs.ChunkIDs)
		c.Files[path] = FileState{ContentHash: fs.ContentHash, ChunkIDs: ids}
	}
	return c
}

// MarkerStore persists per-repository index state. All marker reads and
// writes go through this one accessor.
type MarkerStore interface {
	// Load returns the stored state, or nil (no error) when the
	// repository has never been indexed.
	Load(repo string) (*RepoState, error)
	// Save persists the state atomically.
	Save(state *RepoState) error
}

// FileMarkerStore stores one JSON state file per repository under a
// directory.
type FileMarkerStore struct {
	dir string
}

// NewFileMarkerStore creates a file-backed marker store.
func NewFileMarkerStore(dir string) *FileMarkerStore {
	return &FileMarkerStore{dir: dir}
}

func (s *FileMarkerStore) path(repo string) string {
	// Repo names come from directory listings but sanitize anyway.
	safe := strings.ReplaceAll(repo, string(filepath.Separator), "_")
	return filepath.Join(s.dir, safe+".state.json")
}

func (s *FileMarkerStore) Load(repo string) (*RepoState, error) {
	data, err := os.ReadFile(s.path(repo))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // first index
		}
		return nil, fmt.Errorf("load state %s: %w", repo, err)
	}

	var state RepoState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", repo, err)
	}
	if state.Files == nil {
		state.Files = make(map[string]FileState)
	}
	return &state, nil
}

// Save writes the state via a temp file and rename so a crash never
// leaves a truncated marker behind.
func (s *FileMarkerStore) Save(state *RepoState) error {
	state.UpdatedAt = time.Now().UTC()
	if state.Version == "" {
		state.Version = stateVersion
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := s.path(state.Repo)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", state.Repo, err)
	}
	return os.Rename(tmp, path)
}

var _ MarkerStore = (*FileMarkerStore)(nil)

// MemoryMarkerStore is an in-memory MarkerStore for tests.
type MemoryMarkerStore struct {
	mu     sync.Mutex
	states map[string]*RepoState
}

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{states: make(map[string]*RepoState)}
}

func (s *MemoryMarkerStore) Load(repo string) (*RepoState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[repo]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (s *MemoryMarkerStore) Save(state *RepoState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now().UTC()
	s.states[state.Repo] = state.Clone()
	return nil
}

var _ MarkerStore = (*MemoryMarkerStore)(nil)
