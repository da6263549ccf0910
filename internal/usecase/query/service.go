package query

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
	"github.com/kailas-cloud/agentdex/internal/domain/match"
)

// Request is a similarity query over the corpus. The vector is produced
// externally by the same embedding model the corpus was migrated to.
type Request struct {
	Vector    []float32
	Threshold float64
	TopK      int
	AgentName string
}

// Service ranks documents by cosine similarity against a query vector.
type Service struct {
	corpus Corpus
	native NativeSearcher
	dim    int
}

// New creates a query service. dim is the index dimension D.
func New(corpus Corpus, dim int) *Service {
	return &Service{corpus: corpus, dim: dim}
}

// WithNative configures an accelerated store-side similarity path. It is
// used only for unfiltered queries; agent-scoped queries always scan.
func (s *Service) WithNative(native NativeSearcher) *Service {
	s.native = native
	return s
}

// Query validates the request and returns at most TopK matches ordered by
// similarity descending, ties broken by ascending document ID. An empty
// corpus or zero matches above threshold yields an empty list, not an error.
func (s *Service) Query(ctx context.Context, req Request) ([]match.Result, error) {
	if req.Threshold < -1 || req.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [-1, 1]: %w", req.Threshold, domain.ErrValidation)
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", req.TopK, domain.ErrValidation)
	}
	if len(req.Vector) != s.dim {
		return nil, fmt.Errorf("query vector has %d dims, index expects %d: %w",
			len(req.Vector), s.dim, domain.ErrDimensionMismatch)
	}

	if s.native != nil && req.AgentName == "" {
		results, err := s.native.SearchSimilar(ctx, req.Vector, req.Threshold, req.TopK)
		if err != nil {
			return nil, fmt.Errorf("native similarity search: %w", err)
		}
		return results, nil
	}

	return s.scan(ctx, req)
}

// scan computes similarity in process over every canonical document.
// Documents that are unembedded or corrupt are not retrievable until migrated.
func (s *Service) scan(ctx context.Context, req Request) ([]match.Result, error) {
	docs, err := s.corpus.FetchAll(ctx, req.AgentName)
	if err != nil {
		return nil, fmt.Errorf("fetch corpus: %w", err)
	}

	candidates := make([]match.Result, 0, len(docs))
	for i := range docs {
		rep := encoding.Classify(docs[i].Stored(), s.dim)
		if rep.Kind() != encoding.KindCanonical {
			continue
		}
		vec, err := encoding.Normalize(rep)
		if err != nil {
			continue
		}
		sim := Cosine(req.Vector, vec)
		if sim < req.Threshold {
			continue
		}
		candidates = append(candidates, match.New(docs[i].ID(), docs[i].AgentName(), sim))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity() != candidates[j].Similarity() {
			return candidates[i].Similarity() > candidates[j].Similarity()
		}
		return candidates[i].DocumentID() < candidates[j].DocumentID()
	})

	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}
	return candidates, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
// A zero-norm vector scores -1: non-matching, never an error.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
