package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
	"github.com/kailas-cloud/agentdex/internal/metrics"
)

// Request describes one migration invocation. A destructive full-corpus
// rewrite requires Confirmed; otherwise only a plan is produced.
type Request struct {
	ModelVersion string
	AgentName    string
	Confirmed    bool
	Throttle     time.Duration
}

// Config holds run tuning. Zero values fall back to defaults.
type Config struct {
	CallTimeout     time.Duration // per provider/store call
	MaxRetries      int
	RetryBaseDelay  time.Duration
	ReportInterval  int           // log progress every N documents
	DefaultThrottle time.Duration // provider call spacing when the request sets none
}

// DefaultConfig returns sensible run defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:     30 * time.Second,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		ReportInterval:  25,
		DefaultThrottle: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.DefaultThrottle <= 0 {
		c.DefaultThrottle = d.DefaultThrottle
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = d.ReportInterval
	}
	return c
}

// Service re-embeds the corpus under a new model version. Runs are
// full-recompute: every invocation processes the entire filtered set and no
// resume state is kept. A cancelled run leaves already-updated documents on
// the new model and the rest untouched.
type Service struct {
	store  Store
	embed  Embedder
	dim    int
	cfg    Config
	logger *zap.Logger
}

// New creates a migration service. dim is the index dimension D.
func New(store Store, embed Embedder, dim int, cfg Config, logger *zap.Logger) *Service {
	return &Service{store: store, embed: embed, dim: dim, cfg: cfg.withDefaults(), logger: logger}
}

// Run executes a migration request. Unconfirmed requests produce a read-only
// plan: the corpus is counted but no embedding is generated and no document
// is written. Confirmed requests process every document, recording
// per-document failures without ever aborting the batch.
func (s *Service) Run(ctx context.Context, req Request) (Outcome, error) {
	if req.ModelVersion == "" {
		return Outcome{}, fmt.Errorf("model version is required: %w", domain.ErrValidation)
	}

	runID := uuid.NewString()
	log := s.logger.With(
		zap.String("run_id", runID),
		zap.String("model_version", req.ModelVersion),
		zap.String("agent_filter", req.AgentName),
	)

	throttle := req.Throttle
	if throttle <= 0 {
		throttle = s.cfg.DefaultThrottle
	}

	docs, err := s.fetchAll(ctx, req.AgentName)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch corpus: %w", err)
	}

	// Deterministic iteration by ID regardless of store ordering.
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })

	if !req.Confirmed {
		log.Info("dry run, no documents touched", zap.Int("document_count", len(docs)))
		return Outcome{
			RunID:  runID,
			DryRun: true,
			Plan: &Plan{
				ModelVersion:  req.ModelVersion,
				AgentName:     req.AgentName,
				DocumentCount: len(docs),
				Throttle:      throttle,
			},
		}, nil
	}

	log.Info("starting migration run",
		zap.Int("document_count", len(docs)),
		zap.Duration("throttle", throttle),
	)

	var limiter *rate.Limiter
	if throttle > 0 {
		limiter = rate.NewLimiter(rate.Every(throttle), 1)
	}

	start := time.Now()
	report := &Report{
		RunID:        runID,
		ModelVersion: req.ModelVersion,
		AgentName:    req.AgentName,
		Total:        len(docs),
	}

	for i := range docs {
		doc := &docs[i]

		if strings.TrimSpace(doc.Content()) == "" {
			report.Skipped++
			metrics.MigrationDocumentsTotal.WithLabelValues("skipped").Inc()
			log.Warn("skipping document with empty content", zap.String("document_id", doc.ID()))
			continue
		}

		if err := s.migrateOne(ctx, limiter, doc.ID(), doc.Content(), req.ModelVersion); err != nil {
			if ctx.Err() != nil {
				// External cancellation: stop mid-run, corpus stays mixed.
				return Outcome{}, fmt.Errorf("migration cancelled: %w", ctx.Err())
			}
			kind := KindOf(err)
			report.Failed++
			report.Failures = append(report.Failures, Failure{DocumentID: doc.ID(), Kind: kind})
			metrics.MigrationDocumentsTotal.WithLabelValues("failed").Inc()
			log.Warn("document migration failed",
				zap.String("document_id", doc.ID()),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}

		report.Succeeded++
		metrics.MigrationDocumentsTotal.WithLabelValues("succeeded").Inc()

		if processed := i + 1; processed%s.cfg.ReportInterval == 0 {
			elapsed := time.Since(start)
			log.Info("migration progress",
				zap.Int("processed", processed),
				zap.Int("total", report.Total),
				zap.Float64("docs_per_sec", float64(processed)/elapsed.Seconds()),
			)
		}
	}

	report.Elapsed = time.Since(start)
	log.Info("migration run complete",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("elapsed", report.Elapsed),
	)

	return Outcome{RunID: runID, Report: report}, nil
}

// migrateOne embeds one document and persists the canonical vector.
// Any failure leaves the document untouched.
func (s *Service) migrateOne(
	ctx context.Context, limiter *rate.Limiter, id, content, modelVersion string,
) error {
	// The throttle spaces provider calls only; store writes are not delayed.
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("throttle wait: %w", err)
		}
	}

	var result domain.EmbeddingResult
	err := retryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		var embedErr error
		result, embedErr = s.embed.Embed(callCtx, content, modelVersion)
		return embedErr
	}, s.cfg.MaxRetries, s.cfg.RetryBaseDelay)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	if len(result.Embedding) != s.dim {
		return fmt.Errorf("provider returned %d dims, index expects %d: %w",
			len(result.Embedding), s.dim, domain.ErrDimensionMismatch)
	}

	// Canonical-write path: the vector goes through the normalizer before
	// persistence so a non-validatable value can never be written back.
	vec, err := encoding.Normalize(encoding.Classify(encoding.StoredVector(result.Embedding), s.dim))
	if err != nil {
		return fmt.Errorf("canonicalize vector: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.store.UpdateEmbedding(storeCtx, id, vec, modelVersion); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

func (s *Service) fetchAll(ctx context.Context, agentName string) ([]document.Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.store.FetchAll(fetchCtx, agentName)
}
