// Package postgres implements the document store on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
	"github.com/kailas-cloud/agentdex/internal/domain/match"
)

// Store persists agent documents in PostgreSQL.
type Store struct {
	db  *sql.DB
	dim int
}

// New opens a connection pool against the given DSN.
func New(dsn string, dim int) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, dim: dim}, nil
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_documents (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			model_version TEXT NOT NULL DEFAULT ''
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_agent_documents_agent_name ON agent_documents (agent_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %v: %w", err, domain.ErrStore)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WaitForReady polls Ping until the database responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// storedScanner decodes an embedding column value without assuming it is
// well formed. Values in pgvector text form become vectors; anything else
// survives as raw text for downstream classification.
type storedScanner struct {
	stored encoding.Stored
}

func (sc *storedScanner) Scan(src any) error {
	if src == nil {
		sc.stored = encoding.StoredNull()
		return nil
	}

	var raw string
	switch v := src.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported embedding column type %T", src)
	}

	var vec pgvector.Vector
	if err := vec.Scan([]byte(raw)); err == nil {
		sc.stored = encoding.StoredVector(vec.Slice())
		return nil
	}
	sc.stored = encoding.StoredText(raw)
	return nil
}

// FetchAll returns documents in ascending ID order. agentName narrows the
// result when non-empty.
func (s *Store) FetchAll(ctx context.Context, agentName string) ([]document.Document, error) {
	query := `
		SELECT id, agent_name, content, embedding::text, model_version
		FROM agent_documents`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = $1`
		args = append(args, agentName)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %v: %w", err, domain.ErrStore)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var (
			id, agent, content, modelVersion string
			scanner                          storedScanner
		)
		if err := rows.Scan(&id, &agent, &content, &scanner, &modelVersion); err != nil {
			return nil, fmt.Errorf("scan document: %v: %w", err, domain.ErrStore)
		}
		docs = append(docs, document.Reconstruct(id, agent, content, scanner.stored, modelVersion))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %v: %w", err, domain.ErrStore)
	}
	return docs, nil
}

// InsertDocument stores a new document, optionally with an embedding.
func (s *Store) InsertDocument(ctx context.Context, doc document.Document, vector []float32) error {
	stmt := `
		INSERT INTO agent_documents (id, agent_name, content, embedding, model_version)
		VALUES ($1, $2, $3, $4, $5)`

	var emb any
	if vector != nil {
		emb = pgvector.NewVector(vector)
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		doc.ID(), doc.AgentName(), doc.Content(), emb, doc.ModelVersion(),
	); err != nil {
		return fmt.Errorf("insert document %s: %v: %w", doc.ID(), err, domain.ErrStore)
	}
	return nil
}

// UpdateEmbedding writes a canonical vector and its model version.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vector []float32, modelVersion string) error {
	stmt := `
		UPDATE agent_documents
		SET embedding = $2, model_version = $3
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, stmt, id, pgvector.NewVector(vector), modelVersion)
	if err != nil {
		return fmt.Errorf("update embedding %s: %v: %w", id, err, domain.ErrStore)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update embedding %s: %v: %w", id, err, domain.ErrStore)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SearchSimilar runs cosine similarity search in the database. The <=>
// operator computes cosine distance, so similarity is 1 - distance.
func (s *Store) SearchSimilar(ctx context.Context, vector []float32, threshold float64, k int) ([]match.Result, error) {
	query := `
		SELECT id, agent_name, 1 - (embedding <=> $1) AS similarity
		FROM agent_documents
		WHERE embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $2
		ORDER BY similarity DESC, id ASC
		LIMIT $3`

	vec := pgvector.NewVector(vector)
	rows, err := s.db.QueryContext(ctx, query, vec, threshold, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %v: %w", err, domain.ErrStore)
	}
	defer rows.Close()

	var results []match.Result
	for rows.Next() {
		var (
			id, agent  string
			similarity float64
		)
		if err := rows.Scan(&id, &agent, &similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %v: %w", err, domain.ErrStore)
		}
		results = append(results, match.New(id, agent, similarity))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %v: %w", err, domain.ErrStore)
	}
	return results, nil
}
