package diagnostic

import (
	"context"

	"github.com/kailas-cloud/agentdex/internal/domain/document"
)

// Corpus reads documents for inspection. FetchAll returns documents in
// ascending ID order; agentName narrows the scan when non-empty.
type Corpus interface {
	FetchAll(ctx context.Context, agentName string) ([]document.Document, error)
}
