package migration

import (
	"context"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
)

// Store is the document store surface the orchestrator needs.
type Store interface {
	// FetchAll returns the corpus, optionally filtered by agent name,
	// in ascending ID order.
	FetchAll(ctx context.Context, agentName string) ([]document.Document, error)
	// UpdateEmbedding replaces a document's vector and model version.
	UpdateEmbedding(ctx context.Context, id string, vector []float32, modelVersion string) error
}

// Embedder generates a vector for a text under a target model version.
type Embedder interface {
	Embed(ctx context.Context, text, modelVersion string) (domain.EmbeddingResult, error)
}
