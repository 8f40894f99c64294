package server

import (
	"sort"
	"sync"
	"time"
)

const (
	maxRuns       = 100
	maxLogsPerRun = 1000
	maxTotalLogs  = 10000
)

// RunStatus represents the state of an index run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IndexRun is one tracked index pass as exposed over the API.
type IndexRun struct {
	ID           string     `json:"id"`
	Repo         string     `json:"repo"`
	Trigger      string     `json:"trigger"` // "index", "pull_and_index", "workflow"
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	FromRevision string     `json:"from_revision,omitempty"`
	ToRevision   string     `json:"to_revision,omitempty"`

	FilesChanged   int `json:"files_changed"`
	FilesRemoved   int `json:"files_removed"`
	FilesSkipped   int `json:"files_skipped"`
	ChunksEmbedded int `json:"chunks_embedded"`
	VectorsUpsert  int `json:"vectors_upserted"`
	VectorsDeleted int `json:"vectors_deleted"`
}

// RunStats holds aggregate statistics across tracked runs.
type RunStats struct {
	TotalRuns      int     `json:"total_runs"`
	ActiveRuns     int     `json:"active_runs"`
	CompletedRuns  int     `json:"completed_runs"`
	FailedRuns     int     `json:"failed_runs"`
	ChunksEmbedded int     `json:"chunks_embedded"`
	VectorsUpsert  int     `json:"vectors_upserted"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
	SuccessRate    float64 `json:"success_rate"`
}

// Event is a real-time run event pushed to SSE clients.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RunID     string      `json:"run_id,omitempty"`
	Repo      string      `json:"repo,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// LogEntry is one log line attached to a run.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id"`
	Repo      string    `json:"repo,omitempty"`
}

// RunStore provides thread-safe in-memory storage for index runs and
// their logs.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*IndexRun
	logs []LogEntry
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*IndexRun),
		logs: make([]LogEntry, 0, maxTotalLogs),
	}
}

// CreateRun adds a new run to the store.
func (s *RunStore) CreateRun(run *IndexRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.evictOldRuns()
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(id string) (*IndexRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// ListRuns returns all runs sorted by StartedAt descending.
func (s *RunStore) ListRuns() []*IndexRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*IndexRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// UpdateRun performs a thread-safe update on a run.
func (s *RunStore) UpdateRun(id string, fn func(*IndexRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

// GetStats computes aggregate statistics.
func (s *RunStore) GetStats() *RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &RunStats{TotalRuns: len(s.runs)}

	var totalDuration time.Duration
	var completedCount int
	for _, run := range s.runs {
		switch run.Status {
		case RunRunning:
			stats.ActiveRuns++
		case RunCompleted:
			stats.CompletedRuns++
			completedCount++
			if run.CompletedAt != nil {
				totalDuration += run.CompletedAt.Sub(run.StartedAt)
			}
		case RunFailed:
			stats.FailedRuns++
		}
		stats.ChunksEmbedded += run.ChunksEmbedded
		stats.VectorsUpsert += run.VectorsUpsert
	}

	if completedCount > 0 {
		stats.AvgDuration = totalDuration.Seconds() / float64(completedCount)
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(stats.TotalRuns)
	}
	return stats
}

// AddLog appends a log entry, evicting the oldest past the cap.
func (s *RunStore) AddLog(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxTotalLogs {
		s.logs = s.logs[len(s.logs)-maxTotalLogs:]
	}
}

// GetLogs retrieves logs for a run, most recent first.
func (s *RunStore) GetLogs(runID string, limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > maxLogsPerRun {
		limit = maxLogsPerRun
	}
	var filtered []LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].RunID == runID {
			filtered = append(filtered, s.logs[i])
			if len(filtered) >= limit {
				break
			}
		}
	}
	return filtered
}

// evictOldRuns removes the oldest finished runs past maxRuns. Caller
// holds the lock.
func (s *RunStore) evictOldRuns() {
	if len(s.runs) <= maxRuns {
		return
	}

	type runTime struct {
		id   string
		time time.Time
	}
	var finished []runTime
	for id, run := range s.runs {
		if run.Status == RunCompleted || run.Status == RunFailed {
			t := run.StartedAt
			if run.CompletedAt != nil {
				t = *run.CompletedAt
			}
			finished = append(finished, runTime{id: id, time: t})
		}
	}
	if len(finished) == 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})
	toDelete := len(s.runs) - maxRuns
	for i := 0; i < toDelete && i < len(finished); i++ {
		delete(s.runs, finished[i].id)
	}
}
