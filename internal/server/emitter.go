package server

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/efebarandurmaz/repolens/internal/metrics"
)

// Emitter records index runs in the store and forwards run lifecycle
// events to SSE clients. Safe for concurrent use.
type Emitter struct {
	store *RunStore
	hub   *Hub
}

// NewEmitter creates an Emitter.
func NewEmitter(store *RunStore, hub *Hub) *Emitter {
	return &Emitter{store: store, hub: hub}
}

// newRunID returns a random run identifier.
func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405")))
	}
	return hex.EncodeToString(b[:])
}

// RunStarted records a new running pass and returns its ID.
func (e *Emitter) RunStarted(repo, trigger string) string {
	run := &IndexRun{
		ID:        newRunID(),
		Repo:      repo,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	e.store.CreateRun(run)
	e.hub.Broadcast(&Event{
		Type:      "run.started",
		Timestamp: time.Now(),
		RunID:     run.ID,
		Repo:      repo,
		Data:      run,
	})
	return run.ID
}

// RunCompleted marks a run completed with the pass report's counters.
func (e *Emitter) RunCompleted(runID string, report *metrics.PassReport) {
	var completed *IndexRun
	e.store.UpdateRun(runID, func(run *IndexRun) {
		now := time.Now()
		run.Status = RunCompleted
		run.CompletedAt = &now
		if report != nil {
			run.FromRevision = report.FromRevision
			run.ToRevision = report.ToRevision
			run.FilesChanged = report.FilesChanged
			run.FilesRemoved = report.FilesRemoved
			run.FilesSkipped = report.FilesSkipped
			run.ChunksEmbedded = report.ChunksEmbedded
			run.VectorsUpsert = report.VectorsUpsert
			run.VectorsDeleted = report.VectorsDeleted
		}
		completed = run
	})
	e.hub.Broadcast(&Event{
		Type:      "run.completed",
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      completed,
	})
}

// RunFailed marks a run failed. report may carry partial counters.
func (e *Emitter) RunFailed(runID string, report *metrics.PassReport, err error) {
	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
	}
	var failed *IndexRun
	e.store.UpdateRun(runID, func(run *IndexRun) {
		now := time.Now()
		run.Status = RunFailed
		run.CompletedAt = &now
		run.Error = errorMsg
		if report != nil {
			run.FromRevision = report.FromRevision
			run.ToRevision = report.ToRevision
			run.FilesChanged = report.FilesChanged
			run.FilesRemoved = report.FilesRemoved
			run.FilesSkipped = report.FilesSkipped
			run.ChunksEmbedded = report.ChunksEmbedded
			run.VectorsUpsert = report.VectorsUpsert
			run.VectorsDeleted = report.VectorsDeleted
		}
		failed = run
	})
	e.hub.Broadcast(&Event{
		Type:      "run.failed",
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      failed,
	})
}

// Log attaches a log line to a run and broadcasts it.
func (e *Emitter) Log(runID, repo, level, message string) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		RunID:     runID,
		Repo:      repo,
	}
	e.store.AddLog(entry)
	e.hub.Broadcast(&Event{
		Type:      "log",
		Timestamp: time.Now(),
		RunID:     runID,
		Repo:      repo,
		Data:      entry,
	})
}
