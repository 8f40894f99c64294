// Package observability provides audit logging for compliance tracking.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventIndexStart     AuditEventType = "index.start"
	AuditEventIndexComplete  AuditEventType = "index.complete"
	AuditEventIndexError     AuditEventType = "index.error"
	AuditEventRepoClone      AuditEventType = "repo.clone"
	AuditEventRepoPull       AuditEventType = "repo.pull"
	AuditEventEmbedding      AuditEventType = "embedding.request"
	AuditEventEmbeddingError AuditEventType = "embedding.error"
	AuditEventSearch         AuditEventType = "search.run"
	AuditEventMarkerSave     AuditEventType = "marker.save"
	AuditEventWorkflowStart  AuditEventType = "workflow.start"
	AuditEventWorkflowEnd    AuditEventType = "workflow.end"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	Repo        string                 `json:"repo,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled   bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:   true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIndexStart logs the beginning of an index pass.
func (l *AuditLogger) LogIndexStart(ctx context.Context, repo, fromRevision, toRevision string) {
	l.Log(&AuditEvent{
		EventType: AuditEventIndexStart,
		Repo:      repo,
		Success:   true,
		Message:   fmt.Sprintf("Index pass started for %s", repo),
		Details: map[string]interface{}{
			"from_revision": fromRevision,
			"to_revision":   toRevision,
		},
	})
}

// LogIndexComplete logs a finished index pass with its counters.
func (l *AuditLogger) LogIndexComplete(ctx context.Context, repo string, duration time.Duration, filesChanged, filesSkipped, upserted, deleted int) {
	l.Log(&AuditEvent{
		EventType: AuditEventIndexComplete,
		Repo:      repo,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Index pass completed for %s", repo),
		Details: map[string]interface{}{
			"files_changed":   filesChanged,
			"files_skipped":   filesSkipped,
			"vectors_upsert":  upserted,
			"vectors_deleted": deleted,
		},
	})
}

// LogIndexError logs a failed index pass.
func (l *AuditLogger) LogIndexError(ctx context.Context, repo string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventIndexError,
		Repo:        repo,
		Success:     false,
		Message:     fmt.Sprintf("Index pass failed for %s", repo),
		ErrorDetail: err.Error(),
	})
}

// LogRepoClone logs a repository clone.
func (l *AuditLogger) LogRepoClone(ctx context.Context, repo, url string) {
	l.Log(&AuditEvent{
		EventType: AuditEventRepoClone,
		Repo:      repo,
		Success:   true,
		Message:   fmt.Sprintf("Cloned %s", repo),
		Details: map[string]interface{}{
			"url": url,
		},
	})
}

// LogRepoPull logs a repository pull.
func (l *AuditLogger) LogRepoPull(ctx context.Context, repo string, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventRepoPull,
		Repo:      repo,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Pulled %s", repo),
	})
}

// LogEmbedding logs an embedding API call covering a batch of chunks.
func (l *AuditLogger) LogEmbedding(ctx context.Context, provider, model string, chunks int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventEmbedding,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Embedded %d chunks via %s/%s", chunks, provider, model),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
			"chunks":   chunks,
		},
	})
}

// LogEmbeddingError logs a failed embedding call.
func (l *AuditLogger) LogEmbeddingError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventEmbeddingError,
		Success:     false,
		Message:     fmt.Sprintf("Embedding error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogSearch logs a retrieval query. The query text itself is not recorded.
func (l *AuditLogger) LogSearch(ctx context.Context, repo string, k, results int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventSearch,
		Repo:      repo,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Search in %s returned %d results", repo, results),
		Details: map[string]interface{}{
			"k":       k,
			"results": results,
		},
	})
}

// LogMarkerSave logs persistence of the per-repo index marker.
func (l *AuditLogger) LogMarkerSave(ctx context.Context, repo, revision string, files int) {
	l.Log(&AuditEvent{
		EventType: AuditEventMarkerSave,
		Repo:      repo,
		Success:   true,
		Message:   fmt.Sprintf("Marker saved for %s at %s", repo, revision),
		Details: map[string]interface{}{
			"revision": revision,
			"files":    files,
		},
	})
}

// LogWorkflowStart logs the start of a scheduled indexing workflow.
func (l *AuditLogger) LogWorkflowStart(ctx context.Context, workflowID, repo string, pull bool) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowStart,
		WorkflowID: workflowID,
		Repo:       repo,
		Success:    true,
		Message:    fmt.Sprintf("Workflow started for %s", repo),
		Details: map[string]interface{}{
			"pull": pull,
		},
	})
}

// LogWorkflowEnd logs completion of a scheduled indexing workflow.
func (l *AuditLogger) LogWorkflowEnd(ctx context.Context, workflowID, repo string, success bool, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowEnd,
		WorkflowID: workflowID,
		Repo:       repo,
		Success:    success,
		Duration:   duration,
		Message:    fmt.Sprintf("Workflow completed for %s", repo),
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// SetAuditLogger replaces the global audit logger. Pass nil to disable.
func SetAuditLogger(l *AuditLogger) {
	globalAuditLogger = l
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
