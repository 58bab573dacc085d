// Package embeddings generates the content embeddings written to the
// vector store (spec §4.6): OpenAI's embeddings API by default, with a
// local Ollama driver selectable for offline development.
package embeddings

import (
	"context"
	"os"
)

// Driver generates embedding vectors for a batch of texts.
type Driver interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	Kind() string
}

// Open selects a Driver from environment configuration: Ollama when
// BERGAMOT_EMBEDDING_ENDPOINT is set (local development against a
// running Ollama instance), OpenAI otherwise.
func Open(apiKey string) Driver {
	if endpoint := os.Getenv("BERGAMOT_EMBEDDING_ENDPOINT"); endpoint != "" {
		return NewOllamaDriver(endpoint, envOr("BERGAMOT_EMBEDDING_MODEL", "nomic-embed-text"))
	}
	return NewOpenAIDriver(apiKey, envOr("BERGAMOT_EMBEDDING_MODEL", "text-embedding-3-small"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
