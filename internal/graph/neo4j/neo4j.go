// Package neo4j implements graph.Recorder using Neo4j.
package neo4j

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/efebarandurmaz/repolens/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Recorder implements graph.Recorder using Neo4j.
type Recorder struct {
	driver neo4j.DriverWithContext
}

// New creates a Neo4j-backed recorder and verifies connectivity.
func New(ctx context.Context, uri, username, password string) (*Recorder, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Recorder{driver: driver}, nil
}

func (r *Recorder) RecordPass(ctx context.Context, repo, revision string, indexed []graph.File, removed []string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MERGE (r:Repository {name: $name}) "+
				"SET r.last_indexed = $rev, r.indexed_at = $at",
			map[string]any{"name": repo, "rev": revision, "at": time.Now().UTC().Format(time.RFC3339)})
		if err != nil {
			return nil, err
		}

		for _, f := range indexed {
			_, err := tx.Run(ctx,
				"MERGE (f:File {repo: $repo, path: $path}) "+
					"SET f.hash = $hash, f.revision = $rev, f.dir = $dir "+
					"WITH f MATCH (r:Repository {name: $repo}) "+
					"MERGE (r)-[:CONTAINS]->(f)",
				map[string]any{
					"repo": repo,
					"path": f.Path,
					"hash": f.Hash,
					"rev":  f.Revision,
					"dir":  path.Dir(f.Path),
				})
			if err != nil {
				return nil, err
			}
		}

		for _, p := range removed {
			_, err := tx.Run(ctx,
				"MATCH (f:File {repo: $repo, path: $path}) DETACH DELETE f",
				map[string]any{"repo": repo, "path": p})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("record pass %s@%s: %w", repo, revision, err)
	}
	return nil
}

func (r *Recorder) RelatedFiles(ctx context.Context, repo, filePath string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (f:File {repo: $repo, path: $path}) "+
				"MATCH (g:File {repo: $repo}) "+
				"WHERE g.dir = f.dir AND g.path <> f.path "+
				"RETURN g.path AS path ORDER BY path LIMIT $limit",
			map[string]any{"repo": repo, "path": filePath, "limit": limit})
		if err != nil {
			return nil, err
		}

		var paths []string
		for res.Next(ctx) {
			if p, ok := res.Record().Get("path"); ok {
				if s, ok := p.(string); ok {
					paths = append(paths, s)
				}
			}
		}
		return paths, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("related files %s/%s: %w", repo, filePath, err)
	}
	return result.([]string), nil
}

func (r *Recorder) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Recorder = (*Recorder)(nil)
