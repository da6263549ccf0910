package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "agentdex.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func mustDoc(t *testing.T, id, agent, content string) document.Document {
	t.Helper()
	doc, err := document.New(id, agent, content)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	return doc
}

func TestInsertAndFetch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertDocument(ctx, mustDoc(t, "b", "presales", "pricing faq"), []float32{0.1, 0.2}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertDocument(ctx, mustDoc(t, "a", "leadgen", "cold outreach"), nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	docs, err := store.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs", len(docs))
	}
	// Ascending ID order.
	if docs[0].ID() != "a" || docs[1].ID() != "b" {
		t.Errorf("order: %s, %s", docs[0].ID(), docs[1].ID())
	}

	if !docs[0].Stored().IsNull() {
		t.Error("document a should have no embedding")
	}
	vec, ok := docs[1].Stored().Vector()
	if !ok || len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("document b embedding: %v, %v", vec, ok)
	}
}

func TestFetchAll_AgentFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.InsertDocument(ctx, mustDoc(t, "1", "presales", "x"), nil)
	_ = store.InsertDocument(ctx, mustDoc(t, "2", "leadgen", "y"), nil)

	docs, err := store.FetchAll(ctx, "leadgen")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 1 || docs[0].AgentName() != "leadgen" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestLegacyTextSurvivesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A serialized tuple dump is not valid JSON and must come back as
	// raw text, not be silently dropped or mangled.
	raw := "(0.1, 0.2, 0.3)"
	if err := store.InsertRawEmbedding(ctx, mustDoc(t, "legacy", "presales", "old doc"), raw); err != nil {
		t.Fatalf("insert: %v", err)
	}

	docs, err := store.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	text, ok := docs[0].Stored().Text()
	if !ok || text != raw {
		t.Fatalf("stored = %v, want raw text %q", docs[0].Stored(), raw)
	}

	rep := encoding.Classify(docs[0].Stored(), 3)
	if rep.Kind() != encoding.KindLegacyLiteralText {
		t.Errorf("classified as %s", rep.Kind())
	}
}

func TestUpdateEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.InsertDocument(ctx, mustDoc(t, "1", "presales", "x"), nil)

	if err := store.UpdateEmbedding(ctx, "1", []float32{1, 0, 0}, "m2"); err != nil {
		t.Fatalf("update: %v", err)
	}

	docs, _ := store.FetchAll(ctx, "")
	vec, ok := docs[0].Stored().Vector()
	if !ok || len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("updated embedding: %v", vec)
	}
	if docs[0].ModelVersion() != "m2" {
		t.Errorf("model version = %q", docs[0].ModelVersion())
	}
}

func TestUpdateEmbedding_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateEmbedding(context.Background(), "ghost", []float32{1}, "m2")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDocument_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.InsertDocument(ctx, mustDoc(t, "1", "a", "x"), nil)
	err := store.InsertDocument(ctx, mustDoc(t, "1", "a", "x"), nil)
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}
