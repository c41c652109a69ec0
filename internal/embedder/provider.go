package embedder

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
	// DefaultHTTPModel is used when no model is configured.
	DefaultHTTPModel = "nomic-embed-text"

	// DefaultHTTPDimension matches the default model.
	DefaultHTTPDimension = 768
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// embeddings endpoint (e.g. a local Ollama or inference server).
type HTTPProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// HTTPConfig configures the HTTP embedding provider.
type HTTPConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// NewHTTPProvider creates an embedder against an HTTP endpoint.
func NewHTTPProvider(cfg HTTPConfig, cache *Cache) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL not configured", ErrProviderFailed)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultHTTPDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if p.cache != nil {
		if emb, ok := p.cache.Get(hash); ok {
			return emb, nil
		}
	}

	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	config := DefaultRetryConfig()
	embeddings, err := retryWithBackoff(ctx, config, func() ([]*Embedding, error) {
		return p.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, config.MaxRetries, err)
	}

	if p.cache != nil {
		for i, emb := range embeddings {
			emb.Hash = ComputeHash(texts[i])
			p.cache.Set(emb.Hash, emb)
		}
	}
	return embeddings, nil
}

type embedAPIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedAPIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(embedAPIRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, payload)
	}

	var parsed embedAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d texts",
			len(parsed.Data), len(texts))
	}

	embeddings := make([]*Embedding, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		embeddings[d.Index] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  p.Provider(),
			Model:     p.model,
		}
	}
	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int { return p.dimension }

func (p *HTTPProvider) Provider() string { return "http" }

func (p *HTTPProvider) Close() error { return nil }
