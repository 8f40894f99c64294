package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/efebarandurmaz/repolens/internal/embedding"
	"github.com/efebarandurmaz/repolens/internal/gitio"
	"github.com/efebarandurmaz/repolens/internal/graph"
	"github.com/efebarandurmaz/repolens/internal/index"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/observability"
)

// Indexer runs index passes. *index.Orchestrator satisfies it.
type Indexer interface {
	Index(ctx context.Context, repo string) (*metrics.PassReport, error)
	PullAndIndex(ctx context.Context, repo string) (*metrics.PassReport, error)
}

// Searcher answers retrieval queries. *index.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, repo, query string, k int) ([]index.Result, error)
}

// Repos is the repository management surface. *gitio.Git satisfies it.
type Repos interface {
	Clone(ctx context.Context, url string) (string, error)
	ListRepos() ([]string, error)
	ReadWorkingFile(name, path string) ([]byte, error)
	Status(ctx context.Context, name string) (string, error)
	Diff(ctx context.Context, name string) (string, error)
	Log(ctx context.Context, name string, limit int) (string, error)
	Checkout(ctx context.Context, name, ref string) (string, error)
	Show(ctx context.Context, name, ref string) (string, error)
}

// Config holds API server configuration.
type Config struct {
	ListenAddr string // e.g. ":8000"
	DefaultK   int    // result count when the query omits k
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":8000", DefaultK: 5}
}

// APIServer is the repolens HTTP server: repository management, index
// passes, retrieval, git pass-through and run tracking.
type APIServer struct {
	config   *Config
	repos    Repos
	indexer  Indexer
	searcher Searcher
	recorder graph.Recorder
	store    *RunStore
	hub      *Hub
	emitter  *Emitter
	server   *http.Server
	logger   *slog.Logger
}

// NewAPIServer creates the HTTP server. recorder may be nil; the
// file_context endpoint then returns no related files.
func NewAPIServer(config *Config, repos Repos, indexer Indexer, searcher Searcher, recorder graph.Recorder, logger *slog.Logger) *APIServer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultK <= 0 {
		config.DefaultK = 5
	}
	if recorder == nil {
		recorder = graph.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := NewRunStore()
	hub := NewHub()
	s := &APIServer{
		config:   config,
		repos:    repos,
		indexer:  indexer,
		searcher: searcher,
		recorder: recorder,
		store:    store,
		hub:      hub,
		emitter:  NewEmitter(store, hub),
		logger:   logger,
	}

	handler := corsMiddleware(loggingMiddleware(logger, s.Handler()))
	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // index passes run synchronously
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the route table without middleware, for tests.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/clone", s.handleClone)
	mux.HandleFunc("/repos", s.handleRepos)
	mux.HandleFunc("/index", s.handleIndex)
	mux.HandleFunc("/pull_and_index", s.handlePullAndIndex)
	mux.HandleFunc("/retrieve", s.handleRetrieve)
	mux.HandleFunc("/file_context", s.handleFileContext)

	// Git pass-through.
	mux.HandleFunc("/status", s.handleGit(func(ctx context.Context, req gitRequest) (string, error) {
		return s.repos.Status(ctx, req.Repo)
	}))
	mux.HandleFunc("/diff", s.handleGit(func(ctx context.Context, req gitRequest) (string, error) {
		return s.repos.Diff(ctx, req.Repo)
	}))
	mux.HandleFunc("/log", s.handleGit(func(ctx context.Context, req gitRequest) (string, error) {
		return s.repos.Log(ctx, req.Repo, req.Limit)
	}))
	mux.HandleFunc("/checkout", s.handleGit(func(ctx context.Context, req gitRequest) (string, error) {
		if req.Ref == "" {
			return "", fmt.Errorf("%w: ref is required", index.ErrInvalidArgument)
		}
		return s.repos.Checkout(ctx, req.Repo, req.Ref)
	}))
	mux.HandleFunc("/show", s.handleGit(func(ctx context.Context, req gitRequest) (string, error) {
		return s.repos.Show(ctx, req.Repo, req.Ref)
	}))

	// Run tracking.
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunDetail)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/events", s.handleSSE)
	mux.HandleFunc("/api/health", s.handleHealth)

	return mux
}

// Start begins serving.
func (s *APIServer) Start() error {
	s.logger.Info("starting API server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	return s.server.Shutdown(ctx)
}

// handleRoot answers GET / with a service banner, the conventional
// "is it up" check. The mux routes every unregistered path here, so
// anything but the root itself is a 404.
func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "repolens",
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
	})
}

type cloneRequest struct {
	URL string `json:"url"`
}

func (s *APIServer) handleClone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	name, err := s.repos.Clone(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.Audit().LogRepoClone(r.Context(), name, req.URL)
	respondJSON(w, http.StatusCreated, map[string]string{"repo": name})
}

func (s *APIServer) handleRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names, err := s.repos.ListRepos()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"repos": names})
}

type indexRequest struct {
	Repo string `json:"repo"`
}

func (s *APIServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.runIndex(w, r, "index", s.indexer.Index)
}

func (s *APIServer) handlePullAndIndex(w http.ResponseWriter, r *http.Request) {
	s.runIndex(w, r, "pull_and_index", s.indexer.PullAndIndex)
}

func (s *APIServer) runIndex(w http.ResponseWriter, r *http.Request, trigger string, pass func(context.Context, string) (*metrics.PassReport, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}

	runID := s.emitter.RunStarted(req.Repo, trigger)
	report, err := pass(r.Context(), req.Repo)
	if err != nil {
		s.emitter.RunFailed(runID, report, err)
		s.writeError(w, err)
		return
	}
	s.emitter.RunCompleted(runID, report)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"report": report,
	})
}

func (s *APIServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	repo := r.URL.Query().Get("repo")
	query := r.URL.Query().Get("query")
	k := s.config.DefaultK
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		parsed, err := strconv.Atoi(kStr)
		if err != nil {
			http.Error(w, "k must be an integer", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	results, err := s.searcher.Search(r.Context(), repo, query, k)
	if err != nil {
		// An empty index is a valid state, not a failure.
		if errors.Is(err, index.ErrEmptyIndex) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"repo":    repo,
				"results": []index.Result{},
			})
			return
		}
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []index.Result{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"repo":    repo,
		"results": results,
	})
}

type fileContextRequest struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
}

func (s *APIServer) handleFileContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req fileContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" || req.Path == "" {
		http.Error(w, "repo and path are required", http.StatusBadRequest)
		return
	}

	content, err := s.repos.ReadWorkingFile(req.Repo, req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	related, err := s.recorder.RelatedFiles(r.Context(), req.Repo, req.Path, 10)
	if err != nil {
		// Related files are enrichment; the file itself still answers.
		s.logger.Warn("related files lookup failed", "repo", req.Repo, "path", req.Path, "error", err)
		related = nil
	}
	if related == nil {
		related = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"repo":    req.Repo,
		"path":    req.Path,
		"content": string(content),
		"related": related,
	})
}

type gitRequest struct {
	Repo  string `json:"repo"`
	Ref   string `json:"ref,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *APIServer) handleGit(run func(ctx context.Context, req gitRequest) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req gitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" {
			http.Error(w, "repo is required", http.StatusBadRequest)
			return
		}
		out, err := run(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"output": out})
	}
}

func (s *APIServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.store.ListRuns())
}

// handleRunDetail handles GET /api/runs/{id} and /api/runs/{id}/logs.
func (s *APIServer) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	id := parts[0]

	if len(parts) == 2 && parts[1] == "logs" {
		limit := 100
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		respondJSON(w, http.StatusOK, s.store.GetLogs(id, limit))
		return
	}

	run, ok := s.store.GetRun(id)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.store.GetStats())
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleSSE streams run events to the client until it disconnects.
func (s *APIServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	client, err := NewClient(s.hub, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	connEvent := &Event{Type: "connected", Timestamp: time.Now()}
	data, _ := json.Marshal(connEvent)
	client.send(data)

	go client.KeepAlive(r.Context(), 30*time.Second)

	<-r.Context().Done()
}

// writeError maps domain errors to HTTP status codes.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, index.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, gitio.ErrRepoNotFound), errors.Is(err, gitio.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, index.ErrIndexInProgress):
		status = http.StatusConflict
	case errors.Is(err, embedding.ErrUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, index.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
