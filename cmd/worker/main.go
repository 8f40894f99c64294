package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/efebarandurmaz/repolens/internal/chunker"
	"github.com/efebarandurmaz/repolens/internal/config"
	"github.com/efebarandurmaz/repolens/internal/embedding"
	"github.com/efebarandurmaz/repolens/internal/gitio"
	"github.com/efebarandurmaz/repolens/internal/graph"
	neo4jgraph "github.com/efebarandurmaz/repolens/internal/graph/neo4j"
	"github.com/efebarandurmaz/repolens/internal/index"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/secrets"
	"github.com/efebarandurmaz/repolens/internal/server"
	temporalmod "github.com/efebarandurmaz/repolens/internal/temporal"
	"github.com/efebarandurmaz/repolens/internal/vector"

	temporalclient "go.temporal.io/sdk/client"
)

func main() {
	configPath := "configs/repolens.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	if err := secrets.Init(secrets.DefaultConfig()); err != nil {
		log.Fatalf("secrets: %v", err)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretEmbeddingAPIKey), "")
	}
	if cfg.Graph.Password == "" {
		cfg.Graph.Password = secrets.GetOrDefault(ctx, string(secrets.SecretNeo4jPassword), "")
	}

	if cfg.Audit.Enabled {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Path,
		}); err != nil {
			log.Fatalf("audit log: %v", err)
		}
		defer observability.Audit().Close()
	}

	provider, err := embedding.NewDefaultFactory().Create(embedding.ProviderConfig{
		Provider:    cfg.Embedding.Provider,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		BaseURL:     cfg.Embedding.BaseURL,
		Dimension:   cfg.Embedding.Dimension,
		BatchSize:   cfg.Embedding.BatchSize,
		MaxAttempts: cfg.Embedding.MaxAttempts,
	})
	if err != nil {
		log.Fatalf("embedding provider: %v", err)
	}
	if provider == nil {
		log.Fatalf("embedding provider %q cannot index; configure a real provider", cfg.Embedding.Provider)
	}

	store, err := vector.NewQdrant(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		log.Fatalf("vector store: %v", err)
	}
	defer store.Close()

	var recorder graph.Recorder
	if cfg.Graph.URI != "" {
		recorder, err = neo4jgraph.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			log.Fatalf("graph: %v", err)
		}
		defer recorder.Close(ctx)
	}

	git := gitio.New(cfg.Repos.Root)
	markers := index.NewFileMarkerStore(cfg.Repos.StateDir)

	orch := index.NewOrchestrator(git, provider, store, markers, recorder, index.Options{
		Concurrency: cfg.Index.Concurrency,
		Chunker: chunker.Options{
			MaxLines:     cfg.Chunker.MaxLines,
			OverlapLines: cfg.Chunker.OverlapLines,
		},
	})

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Indexer: orch,
		Repos:   git,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	shutdown := server.NewShutdownHandler(server.DefaultShutdownConfig())
	shutdown.RegisterHook("temporal-worker", 20, func(ctx context.Context) error {
		w.Stop()
		return nil
	})
	shutdown.Start()
	shutdown.Wait()

	fmt.Println("Worker stopped")
}
