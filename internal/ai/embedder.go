// Package ai provides the Ollama-backed embedding provider.
package ai

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder produces embeddings through a local Ollama instance. It
// satisfies embedding.Embedder from go-embedding.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// NewOllamaEmbedder creates an embedder for the given Ollama endpoint and
// model. OLLAMA_HOST takes precedence over baseURL when set.
func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		// If env-based client fails, create one with the base URL
		parsedURL, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", parseErr)
		}
		client = api.NewClient(parsedURL, nil)
	}

	return &OllamaEmbedder{client: client, model: model}, nil
}

// Embed returns one embedding vector per input text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

// Model returns the embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}
