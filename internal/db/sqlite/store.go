// Package sqlite implements the document store on an embedded SQLite
// database. Embeddings are stored as JSON text; similarity search happens
// in the application.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
)

// Store persists agent documents in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and creates, if needed) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS agent_documents (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			model_version TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_agent_documents_agent_name ON agent_documents (agent_name);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate schema: %v: %w", err, domain.ErrStore)
	}
	return nil
}

// Ping checks the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WaitForReady verifies the database responds within timeout. SQLite is
// local, so a single ping suffices.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Ping(ctx)
}

// decodeStored converts a raw embedding column value. Valid JSON float
// arrays are the canonical SQLite encoding; any other text survives as raw
// text for downstream classification.
func decodeStored(raw sql.NullString) encoding.Stored {
	if !raw.Valid {
		return encoding.StoredNull()
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw.String), &vec); err == nil {
		return encoding.StoredVector(vec)
	}
	return encoding.StoredText(raw.String)
}

// FetchAll returns documents in ascending ID order. agentName narrows the
// result when non-empty.
func (s *Store) FetchAll(ctx context.Context, agentName string) ([]document.Document, error) {
	query := `
		SELECT id, agent_name, content, embedding, model_version
		FROM agent_documents`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
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
			raw                              sql.NullString
		)
		if err := rows.Scan(&id, &agent, &content, &raw, &modelVersion); err != nil {
			return nil, fmt.Errorf("scan document: %v: %w", err, domain.ErrStore)
		}
		docs = append(docs, document.Reconstruct(id, agent, content, decodeStored(raw), modelVersion))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %v: %w", err, domain.ErrStore)
	}
	return docs, nil
}

// InsertDocument stores a new document, optionally with an embedding.
func (s *Store) InsertDocument(ctx context.Context, doc document.Document, vector []float32) error {
	var emb any
	if vector != nil {
		data, err := json.Marshal(vector)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		emb = string(data)
	}

	stmt := `
		INSERT INTO agent_documents (id, agent_name, content, embedding, model_version)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		doc.ID(), doc.AgentName(), doc.Content(), emb, doc.ModelVersion(),
	); err != nil {
		return fmt.Errorf("insert document %s: %v: %w", doc.ID(), err, domain.ErrStore)
	}
	return nil
}

// InsertRawEmbedding stores a document with an arbitrary embedding value,
// used when importing corpora that predate canonical encoding.
func (s *Store) InsertRawEmbedding(ctx context.Context, doc document.Document, raw string) error {
	stmt := `
		INSERT INTO agent_documents (id, agent_name, content, embedding, model_version)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		doc.ID(), doc.AgentName(), doc.Content(), raw, doc.ModelVersion(),
	); err != nil {
		return fmt.Errorf("insert document %s: %v: %w", doc.ID(), err, domain.ErrStore)
	}
	return nil
}

// UpdateEmbedding writes a canonical vector and its model version.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vector []float32, modelVersion string) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	stmt := `
		UPDATE agent_documents
		SET embedding = ?, model_version = ?
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, stmt, string(data), modelVersion, id)
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
