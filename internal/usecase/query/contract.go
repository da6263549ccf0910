package query

import (
	"context"

	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/match"
)

// Corpus provides read access to the document corpus.
// agentName filters the set when non-empty. Implementations return
// documents in ascending ID order.
type Corpus interface {
	FetchAll(ctx context.Context, agentName string) ([]document.Document, error)
}

// NativeSearcher is an optional accelerated similarity path a store may
// offer (e.g. pgvector). Ranking and tie-break semantics must be identical
// to the in-process scan: similarity descending, then document ID ascending.
type NativeSearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, threshold float64, k int) ([]match.Result, error)
}
