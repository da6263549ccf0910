package document

import (
	"fmt"

	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
)

// Document is one agent-knowledge entry in the routing corpus (immutable value object).
// The stored embedding is kept in its persisted shape; classification and
// canonicalization are the encoding package's job.
type Document struct {
	id           string
	agentName    string
	content      string
	stored       encoding.Stored
	modelVersion string
}

// New validates and creates a Document. Ingestion-created documents start
// with no embedding and an empty model version.
func New(id, agentName, content string) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if agentName == "" {
		return Document{}, fmt.Errorf("agent name is required")
	}
	return Document{
		id:        id,
		agentName: agentName,
		content:   content,
		stored:    encoding.StoredNull(),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, agentName, content string, stored encoding.Stored, modelVersion string) Document {
	return Document{
		id:           id,
		agentName:    agentName,
		content:      content,
		stored:       stored,
		modelVersion: modelVersion,
	}
}

// ID returns the stable unique document identifier.
func (d *Document) ID() string { return d.id }

// AgentName returns the agent this document routes to. Not unique.
func (d *Document) AgentName() string { return d.agentName }

// Content returns the document text.
func (d *Document) Content() string { return d.content }

// Stored returns the embedding value as persisted.
func (d *Document) Stored() encoding.Stored { return d.stored }

// ModelVersion returns the embedding model that produced the current vector.
// Empty for unembedded documents.
func (d *Document) ModelVersion() string { return d.modelVersion }
