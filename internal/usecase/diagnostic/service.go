package diagnostic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
	"github.com/kailas-cloud/agentdex/internal/usecase/query"
)

// Record describes one document's stored embedding state.
type Record struct {
	DocumentID   string        `json:"document_id"`
	AgentName    string        `json:"agent_name"`
	HasEmbedding bool          `json:"has_embedding"`
	Format       encoding.Kind `json:"format"`
	Dimension    *int          `json:"dimension,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// SimilaritySample is a pairwise cosine score between two sampled
// documents, used as a smoke check that stored vectors discriminate.
type SimilaritySample struct {
	DocumentA  string  `json:"document_a"`
	DocumentB  string  `json:"document_b"`
	Similarity float64 `json:"similarity"`
}

// Report is a full read-only scan of the corpus. Records are ordered by
// agent name, then document ID.
type Report struct {
	Total    int                   `json:"total"`
	ByFormat map[encoding.Kind]int `json:"by_format"`
	Records  []Record              `json:"records"`
	Samples  []SimilaritySample    `json:"samples,omitempty"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// Request narrows and tunes a scan.
type Request struct {
	AgentName  string
	SampleSize int // documents included in the pairwise smoke check
}

const defaultSampleSize = 5

// Service inspects stored embeddings without modifying them.
type Service struct {
	corpus  Corpus
	dim     int
	workers int
	logger  *zap.Logger
}

func New(corpus Corpus, dim, workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{corpus: corpus, dim: dim, workers: workers, logger: logger}
}

// Scan classifies every stored embedding and computes pairwise similarity
// over the first SampleSize canonical documents. It performs no writes and
// no provider calls.
func (s *Service) Scan(ctx context.Context, req Request) (Report, error) {
	start := time.Now()

	docs, err := s.corpus.FetchAll(ctx, req.AgentName)
	if err != nil {
		return Report{}, fmt.Errorf("fetch corpus: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].AgentName() != docs[j].AgentName() {
			return docs[i].AgentName() < docs[j].AgentName()
		}
		return docs[i].ID() < docs[j].ID()
	})

	records := make([]Record, len(docs))

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return Report{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range docs {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			records[i] = s.inspect(&docs[i])
		}); err != nil {
			// Pool refused the task; classify inline instead.
			records[i] = s.inspect(&docs[i])
			wg.Done()
		}
	}
	wg.Wait()

	byFormat := make(map[encoding.Kind]int, 5)
	for _, r := range records {
		byFormat[r.Format]++
	}

	report := Report{
		Total:    len(records),
		ByFormat: byFormat,
		Records:  records,
		Samples:  s.sample(docs, req.SampleSize),
		Elapsed:  time.Since(start),
	}

	s.logger.Info("diagnostic scan complete",
		zap.Int("total", report.Total),
		zap.Int("canonical", byFormat[encoding.KindCanonical]),
		zap.Int("corrupt", byFormat[encoding.KindCorrupt]),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (s *Service) inspect(doc *document.Document) Record {
	rep := encoding.Classify(doc.Stored(), s.dim)
	rec := Record{
		DocumentID:   doc.ID(),
		AgentName:    doc.AgentName(),
		HasEmbedding: rep.Kind() != encoding.KindMissing,
		Format:       rep.Kind(),
		Reason:       rep.Reason(),
	}
	if d, ok := rep.Dimension(); ok {
		d := d
		rec.Dimension = &d
	}
	return rec
}

// sample picks the first n documents, in agent-then-ID order, that carry a
// canonical vector and scores every pair.
func (s *Service) sample(docs []document.Document, n int) []SimilaritySample {
	if n <= 0 {
		n = defaultSampleSize
	}

	type sampled struct {
		id  string
		vec []float32
	}
	picked := make([]sampled, 0, n)
	for i := range docs {
		rep := encoding.Classify(docs[i].Stored(), s.dim)
		if rep.Kind() != encoding.KindCanonical {
			continue
		}
		vec, err := encoding.Normalize(rep)
		if err != nil {
			continue
		}
		picked = append(picked, sampled{id: docs[i].ID(), vec: vec})
		if len(picked) == n {
			break
		}
	}

	var samples []SimilaritySample
	for i := 0; i < len(picked); i++ {
		for j := i + 1; j < len(picked); j++ {
			samples = append(samples, SimilaritySample{
				DocumentA:  picked[i].id,
				DocumentB:  picked[j].id,
				Similarity: query.Cosine(picked[i].vec, picked[j].vec),
			})
		}
	}
	return samples
}
