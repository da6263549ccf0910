package domain

import "context"

// Embedder is the shared text vectorization contract between layers.
// The model version is carried per call because the migration orchestrator
// re-embeds the corpus under a caller-chosen model.
type Embedder interface {
	Embed(ctx context.Context, text, modelVersion string) (EmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}
