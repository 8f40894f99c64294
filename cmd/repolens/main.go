package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/efebarandurmaz/repolens/internal/chunker"
	"github.com/efebarandurmaz/repolens/internal/config"
	"github.com/efebarandurmaz/repolens/internal/embedding"
	"github.com/efebarandurmaz/repolens/internal/gitio"
	"github.com/efebarandurmaz/repolens/internal/graph"
	neo4jgraph "github.com/efebarandurmaz/repolens/internal/graph/neo4j"
	"github.com/efebarandurmaz/repolens/internal/index"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/secrets"
	"github.com/efebarandurmaz/repolens/internal/server"
	"github.com/efebarandurmaz/repolens/internal/vector"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "repolens",
		Short: "Incremental semantic indexing and retrieval for git repositories",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/repolens.yaml", "Config file path")

	var jsonReport bool
	var pullFirst bool
	var indexRepo string

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Run one index pass for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(configPath, indexRepo, pullFirst, jsonReport)
		},
	}
	indexCmd.Flags().StringVar(&indexRepo, "repo", "", "Repository name under the repos root")
	indexCmd.Flags().BoolVar(&pullFirst, "pull", false, "Pull before indexing")
	indexCmd.Flags().BoolVar(&jsonReport, "json", false, "Output the pass report as JSON")
	_ = indexCmd.MarkFlagRequired("repo")

	var (
		searchRepo  string
		searchQuery string
		searchK     int
		searchJSON  bool
	)
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Retrieve the chunks most similar to a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(configPath, searchRepo, searchQuery, searchK, searchJSON)
		},
	}
	searchCmd.Flags().StringVar(&searchRepo, "repo", "", "Repository name under the repos root")
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "Natural-language query")
	searchCmd.Flags().IntVar(&searchK, "k", 5, "Number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")
	_ = searchCmd.MarkFlagRequired("repo")
	_ = searchCmd.MarkFlagRequired("query")

	var cloneURL string
	cloneCmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone a repository under the repos root",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClone(configPath, cloneURL)
		},
	}
	cloneCmd.Flags().StringVar(&cloneURL, "url", "", "Clone URL")
	_ = cloneCmd.MarkFlagRequired("url")

	var pullRepo string
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch and fast-forward a cloned repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(configPath, pullRepo)
		},
	}
	pullCmd.Flags().StringVar(&pullRepo, "repo", "", "Repository name under the repos root")
	_ = pullCmd.MarkFlagRequired("repo")

	reposCmd := &cobra.Command{
		Use:   "repos",
		Short: "List cloned repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepos(configPath)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available embedding providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available embedding providers:")
			fmt.Println()
			fmt.Println("  openai         https://api.openai.com/v1")
			fmt.Println("  ollama         http://localhost:11434 (local, no API key)")
			fmt.Println("  groq           https://api.groq.com/openai/v1")
			fmt.Println("  together       https://api.together.xyz/v1")
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in repolens.yaml or via environment:")
			fmt.Println("  REPOLENS_EMBEDDING_PROVIDER=openai")
			fmt.Println("  REPOLENS_EMBEDDING_API_KEY=sk-...")
			fmt.Println("  REPOLENS_EMBEDDING_MODEL=text-embedding-3-small")
		},
	}

	rootCmd.AddCommand(serveCmd, indexCmd, searchCmd, cloneCmd, pullCmd, reposCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps holds everything a command needs after wiring.
type deps struct {
	cfg       *config.Config
	logger    *slog.Logger
	git       *gitio.Git
	provider  embedding.Provider
	store     vector.Store
	markers   index.MarkerStore
	recorder  graph.Recorder
	indexer   *index.Orchestrator
	retriever *index.Retriever
	tracing   *observability.TracerProvider
}

func (d *deps) close(ctx context.Context) {
	if d.store != nil {
		d.store.Close()
	}
	if d.recorder != nil {
		d.recorder.Close(ctx)
	}
	if d.tracing != nil {
		d.tracing.Shutdown(ctx)
	}
}

func loadConfig(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed (%v), using defaults\n", err)
		cfg = config.Default()
	}

	logger := newLogger(cfg.Log)

	if err := secrets.Init(secrets.DefaultConfig()); err != nil {
		return nil, nil, fmt.Errorf("secrets: %w", err)
	}
	ctx := context.Background()
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretEmbeddingAPIKey), "")
	}
	if cfg.Graph.Password == "" {
		cfg.Graph.Password = secrets.GetOrDefault(ctx, string(secrets.SecretNeo4jPassword), "")
	}

	return cfg, logger, nil
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(lc.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// build wires the full indexing stack from config. Commands that only
// touch git should use loadConfig and gitio directly instead.
func build(ctx context.Context, configPath string) (*deps, error) {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "repolens",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Environment:    cfg.Tracing.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if cfg.Audit.Enabled {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Path,
		}); err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}

	provider, err := embedding.NewDefaultFactory().Create(embedding.ProviderConfig{
		Provider:    cfg.Embedding.Provider,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		BaseURL:     cfg.Embedding.BaseURL,
		Dimension:   cfg.Embedding.Dimension,
		BatchSize:   cfg.Embedding.BatchSize,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		RateLimit:   rateLimitConfig(cfg.Embedding.RateLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider %q cannot index; configure one with 'repolens providers'", cfg.Embedding.Provider)
	}

	store, err := vector.NewQdrant(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	var recorder graph.Recorder
	if cfg.Graph.URI != "" {
		recorder, err = neo4jgraph.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("graph: %w", err)
		}
	}

	git := gitio.New(cfg.Repos.Root)
	markers := index.NewFileMarkerStore(cfg.Repos.StateDir)

	orch := index.NewOrchestrator(git, provider, store, markers, recorder, index.Options{
		Concurrency: cfg.Index.Concurrency,
		Chunker: chunker.Options{
			MaxLines:     cfg.Chunker.MaxLines,
			OverlapLines: cfg.Chunker.OverlapLines,
		},
		Logger: logger,
	})

	return &deps{
		cfg:       cfg,
		logger:    logger,
		git:       git,
		provider:  provider,
		store:     store,
		markers:   markers,
		recorder:  recorder,
		indexer:   orch,
		retriever: index.NewRetriever(provider, store),
		tracing:   tracing,
	}, nil
}

func rateLimitConfig(rl config.RLimit) *embedding.RateLimitConfig {
	if rl.RequestsPerMinute == 0 && rl.TokensPerMinute == 0 {
		return nil
	}
	c := embedding.DefaultRateLimitConfig()
	if rl.RequestsPerMinute > 0 {
		c.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.TokensPerMinute > 0 {
		c.TokensPerMinute = rl.TokensPerMinute
	}
	if rl.BurstSize > 0 {
		c.BurstSize = rl.BurstSize
	}
	return c
}

func runIndex(configPath, repo string, pull, jsonReport bool) error {
	ctx := context.Background()
	d, err := build(ctx, configPath)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	var report *metrics.PassReport
	if pull {
		report, err = d.indexer.PullAndIndex(ctx, repo)
	} else {
		report, err = d.indexer.Index(ctx, repo)
	}

	if report != nil {
		if jsonReport {
			if data, jerr := report.JSON(); jerr == nil {
				fmt.Println(string(data))
			}
		} else {
			report.PrintSummary(os.Stdout)
		}
	}
	return err
}

func runSearch(configPath, repo, query string, k int, jsonOutput bool) error {
	ctx := context.Background()
	d, err := build(ctx, configPath)
	if err != nil {
		return err
	}
	defer d.close(ctx)

	results, err := d.retriever.Search(ctx, repo, query, k)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. %s:%d-%d (score %.4f)\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		for _, line := range strings.Split(strings.TrimRight(r.Snippet, "\n"), "\n") {
			fmt.Printf("   %s\n", line)
		}
		fmt.Println()
	}
	return nil
}

func runClone(configPath, url string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	git := gitio.New(cfg.Repos.Root)
	name, err := git.Clone(context.Background(), url)
	if err != nil {
		return err
	}
	fmt.Printf("Cloned %s into %s\n", name, cfg.Repos.Root)
	return nil
}

func runPull(configPath, repo string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	git := gitio.New(cfg.Repos.Root)
	if err := git.Pull(context.Background(), repo); err != nil {
		return err
	}
	fmt.Printf("Pulled %s\n", repo)
	return nil
}

func runRepos(configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	git := gitio.New(cfg.Repos.Root)
	names, err := git.ListRepos()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No repositories cloned yet.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runServe(configPath string) error {
	ctx := context.Background()
	d, err := build(ctx, configPath)
	if err != nil {
		return err
	}

	api := server.NewAPIServer(&server.Config{
		ListenAddr: d.cfg.Server.ListenAddr,
		DefaultK:   d.cfg.Server.DefaultK,
	}, d.git, d.indexer, d.retriever, d.recorder, d.logger)

	graceful := server.NewGracefulServer(&server.HealthConfig{
		Version: version,
		Addr:    d.cfg.Server.HealthAddr,
	}, server.DefaultShutdownConfig())

	graceful.Health.RegisterCheck("vector-store", server.VectorStoreHealthChecker(func(ctx context.Context) error {
		_, err := d.store.Count(ctx, "")
		return err
	}))
	if d.recorder != nil {
		graceful.Health.RegisterCheck("graph", server.GraphHealthChecker(func(ctx context.Context) error {
			_, err := d.recorder.RelatedFiles(ctx, "", "", 1)
			return err
		}))
	}
	graceful.Health.RegisterCheck("embedding", server.EmbeddingHealthChecker(d.provider.Name(), nil))
	graceful.Health.SetMetricsHandler(observability.Metrics().Handler())

	graceful.RegisterHook("api-server", 10, func(ctx context.Context) error {
		return api.Stop(ctx)
	})
	graceful.RegisterHook("vector-store", 90, func(ctx context.Context) error {
		return d.store.Close()
	})
	if d.recorder != nil {
		graceful.RegisterHook("graph", 90, d.recorder.Close)
	}
	if d.tracing != nil {
		graceful.RegisterHook("tracing", 80, d.tracing.Shutdown)
	}
	graceful.RegisterHook("audit-logger", 95, func(ctx context.Context) error {
		return observability.Audit().Close()
	})

	if err := graceful.Start(d.cfg.Server.HealthAddr); err != nil {
		return err
	}

	d.logger.Info("server starting",
		"listen_addr", d.cfg.Server.ListenAddr,
		"health_addr", d.cfg.Server.HealthAddr,
		"repos_root", d.cfg.Repos.Root,
		"embedding", d.provider.Name(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-graceful.Shutdown.ShutdownCh():
	}

	graceful.Wait()
	d.logger.Info("server stopped")
	return nil
}

var version = "dev"
