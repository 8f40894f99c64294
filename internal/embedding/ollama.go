package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "nomic-embed-text"
	defaultOllamaDim     = 768
)

// OllamaClient implements Provider using a local Ollama server.
type OllamaClient struct {
	model     string
	baseURL   string
	dimension int
	http      *http.Client
}

// NewOllama creates an Ollama embedding client.
func NewOllama(model, baseURL string, dimension int) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if dimension <= 0 {
		dimension = defaultOllamaDim
	}
	return &OllamaClient{
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		http:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *OllamaClient) Name() string { return "ollama" }

func (c *OllamaClient) Dimension() int { return c.dimension }

// Embed requests one embedding per text. Ollama's embeddings endpoint is
// single-input, so texts are sent sequentially within the batch.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (c *OllamaClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model":  c.model,
		"prompt": text,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding in response")
	}
	return result.Embedding, nil
}
