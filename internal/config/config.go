// Package config loads repolens configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Repos     ReposConfig     `mapstructure:"repos"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Index     IndexConfig     `mapstructure:"index"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	HealthAddr string `mapstructure:"health_addr"`
	DefaultK   int    `mapstructure:"default_k"`
}

type ReposConfig struct {
	// Root is the directory repositories are cloned under.
	Root string `mapstructure:"root"`
	// StateDir is where per-repository index markers are kept.
	StateDir string `mapstructure:"state_dir"`
}

type EmbeddingConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Dimension   int    `mapstructure:"dimension"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	RateLimit   RLimit `mapstructure:"rate_limit"`
}

// RLimit bounds request and token throughput to the provider.
type RLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	TokensPerMinute   int `mapstructure:"tokens_per_minute"`
	BurstSize         int `mapstructure:"burst_size"`
}

type ChunkerConfig struct {
	MaxLines     int `mapstructure:"max_lines"`
	OverlapLines int `mapstructure:"overlap_lines"`
}

type IndexConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the JSONL output file; "stdout"/"stderr" or empty write
	// to the corresponding stream.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Local providers run without a key; hosted ones need one.
	p := c.Embedding.Provider
	if p != "" && p != "none" && p != "ollama" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", p))
	}

	if c.Chunker.MaxLines > 0 && c.Chunker.OverlapLines >= c.Chunker.MaxLines {
		warnings = append(warnings, fmt.Sprintf("chunker overlap_lines %d >= max_lines %d; windows would not advance", c.Chunker.OverlapLines, c.Chunker.MaxLines))
	}
	if c.Chunker.OverlapLines < 0 {
		warnings = append(warnings, fmt.Sprintf("chunker overlap_lines %d is negative", c.Chunker.OverlapLines))
	}

	if c.Index.Concurrency < 0 {
		warnings = append(warnings, fmt.Sprintf("index concurrency %d is negative", c.Index.Concurrency))
	}

	if c.Server.DefaultK < 0 {
		warnings = append(warnings, fmt.Sprintf("server default_k %d is negative", c.Server.DefaultK))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REPOLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// Default returns the built-in defaults without reading a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.health_addr", ":8080")
	v.SetDefault("server.default_k", 5)
	v.SetDefault("repos.root", "./repos")
	v.SetDefault("repos.state_dir", "./state")
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("chunker.max_lines", 30)
	v.SetDefault("chunker.overlap_lines", 5)
	v.SetDefault("index.concurrency", 8)
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "repolens_chunks")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "repolens-index")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", "stderr")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
