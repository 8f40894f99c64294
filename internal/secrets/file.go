package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-backed secrets provider.
type FileConfig struct {
	// Path is the JSON secrets file, e.g. .repolens/secrets.json.
	Path string
	// CreateIfMissing writes an empty file when none exists yet.
	CreateIfMissing bool
}

// FileProvider keeps secrets in a local JSON file, keyed the same way
// as the env provider (embedding.api_key, neo4j.password, ...). It is
// meant for local development where Vault is overkill and exporting
// REPOLENS_* variables per shell is tedious; production deployments
// should use the vault or env providers.
type FileProvider struct {
	config *FileConfig
	mu     sync.RWMutex
	data   map[string]string
}

// NewFileProvider opens (or, with CreateIfMissing, initializes) the
// secrets file at config.Path.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{
		config: config,
		data:   make(map[string]string),
	}

	if err := p.load(); err != nil {
		switch {
		case os.IsNotExist(err) && config.CreateIfMissing:
			if err := p.save(); err != nil {
				return nil, fmt.Errorf("create secrets file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("load secrets file: %w", err)
		}
	}

	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.save()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.data, key)
	return p.save()
}

// Reload re-reads the file, picking up edits made outside the process.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) load() error {
	data, err := os.ReadFile(p.config.Path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &p.data)
}

// save writes the map back with owner-only permissions; the file holds
// credentials in the clear.
func (p *FileProvider) save() error {
	if err := os.MkdirAll(filepath.Dir(p.config.Path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	return os.WriteFile(p.config.Path, data, 0600)
}
