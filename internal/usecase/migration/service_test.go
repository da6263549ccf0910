package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
)

// --- Mocks ---

type mockStore struct {
	docs       []document.Document
	fetchErr   error
	fetchCalls int

	updateErr    map[string]error // per document ID
	updates      map[string][]float32
	updateModels map[string]string
}

func newMockStore(docs ...document.Document) *mockStore {
	return &mockStore{
		docs:         docs,
		updateErr:    map[string]error{},
		updates:      map[string][]float32{},
		updateModels: map[string]string{},
	}
}

func (m *mockStore) FetchAll(_ context.Context, agentName string) ([]document.Document, error) {
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if agentName == "" {
		return m.docs, nil
	}
	var filtered []document.Document
	for _, d := range m.docs {
		if d.AgentName() == agentName {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (m *mockStore) UpdateEmbedding(_ context.Context, id string, vector []float32, modelVersion string) error {
	if err := m.updateErr[id]; err != nil {
		return err
	}
	m.updates[id] = vector
	m.updateModels[id] = modelVersion
	return nil
}

type mockEmbedder struct {
	vec      []float32
	errFor   map[string]error // keyed by text
	failN    int              // fail the first N calls with failNErr
	failNErr error
	calls    int
}

func (m *mockEmbedder) Embed(_ context.Context, text, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.failN > 0 {
		m.failN--
		return domain.EmbeddingResult{}, m.failNErr
	}
	if err := m.errFor[text]; err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: m.vec, TotalTokens: 7}, nil
}

func doc(id, agent, content string) document.Document {
	return document.Reconstruct(id, agent, content, encoding.StoredNull(), "")
}

func testConfig() Config {
	return Config{
		CallTimeout:     time.Second,
		MaxRetries:      1,
		RetryBaseDelay:  time.Millisecond,
		ReportInterval:  1000,
		DefaultThrottle: time.Millisecond,
	}
}

func newService(store *mockStore, embed *mockEmbedder, dim int) *Service {
	return New(store, embed, dim, testConfig(), zap.NewNop())
}

// --- Tests ---

func TestRun_RequiresModelVersion(t *testing.T) {
	svc := newService(newMockStore(), &mockEmbedder{}, 3)
	_, err := svc.Run(context.Background(), Request{Confirmed: true})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	store := newMockStore(doc("a", "presales", "x"), doc("b", "leadgen", "y"))
	embed := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.DryRun || out.Plan == nil || out.Report != nil {
		t.Fatalf("expected dry-run plan, got %+v", out)
	}
	if out.Plan.DocumentCount != 2 || out.Plan.ModelVersion != "m2" {
		t.Errorf("unexpected plan: %+v", out.Plan)
	}
	if embed.calls != 0 {
		t.Errorf("dry run made %d provider calls", embed.calls)
	}
	if len(store.updates) != 0 {
		t.Errorf("dry run wrote %d documents", len(store.updates))
	}
}

func TestRun_MigratesAllDocuments(t *testing.T) {
	store := newMockStore(doc("a", "presales", "x"), doc("b", "leadgen", "y"), doc("c", "social", "z"))
	embed := &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Report
	if r.Total != 3 || r.Succeeded != 3 || r.Failed != 0 || r.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", r)
	}
	for _, id := range []string{"a", "b", "c"} {
		if store.updateModels[id] != "m2" {
			t.Errorf("doc %s: model version %q, want m2", id, store.updateModels[id])
		}
		if len(store.updates[id]) != 3 {
			t.Errorf("doc %s: wrong vector written", id)
		}
	}
	if out.RunID == "" || r.RunID != out.RunID {
		t.Error("run ID missing from outcome/report")
	}
}

func TestRun_SingleFailureDoesNotAbort(t *testing.T) {
	store := newMockStore(
		doc("a", "p", "text-a"), doc("b", "p", "text-b"), doc("c", "p", "text-c"),
		doc("d", "p", "text-d"), doc("e", "p", "text-e"),
	)
	embed := &mockEmbedder{
		vec:    []float32{1, 0, 0},
		errFor: map[string]error{"text-c": fmt.Errorf("input too long: %w", domain.ErrInvalidInput)},
	}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Report
	if r.Total != 5 || r.Succeeded != 4 || r.Failed != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.Failures) != 1 || r.Failures[0].DocumentID != "c" || r.Failures[0].Kind != FailureInvalidInput {
		t.Fatalf("unexpected failures: %+v", r.Failures)
	}
	// The failed document is never written: state and model stay as before.
	if _, ok := store.updates["c"]; ok {
		t.Error("failed document was written")
	}
}

func TestRun_StoreErrorRecordedAndContinues(t *testing.T) {
	store := newMockStore(doc("a", "p", "x"), doc("b", "p", "y"))
	store.updateErr["a"] = fmt.Errorf("connection reset: %w", domain.ErrStore)
	embed := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Report
	if r.Succeeded != 1 || r.Failed != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Failures[0].Kind != FailureStore {
		t.Errorf("expected store failure kind, got %s", r.Failures[0].Kind)
	}
}

func TestRun_WrongProviderDimensionIsFailure(t *testing.T) {
	store := newMockStore(doc("a", "p", "x"))
	embed := &mockEmbedder{vec: []float32{1, 0}} // 2 dims, index expects 3
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Report
	if r.Failed != 1 || r.Failures[0].Kind != FailureDimensionMismatch {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(store.updates) != 0 {
		t.Error("wrong-dimension vector was written")
	}
}

func TestRun_SkipsEmptyContent(t *testing.T) {
	store := newMockStore(doc("a", "p", "   "), doc("b", "p", "real text"))
	embed := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Report
	if r.Skipped != 1 || r.Succeeded != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if embed.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", embed.calls)
	}
}

func TestRun_AgentFilter(t *testing.T) {
	store := newMockStore(doc("a", "presales", "x"), doc("b", "leadgen", "y"))
	embed := &mockEmbedder{vec: []float32{1, 0, 0}}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{
		ModelVersion: "m2", AgentName: "presales", Confirmed: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Report.Total != 1 || out.Report.Succeeded != 1 {
		t.Fatalf("unexpected report: %+v", out.Report)
	}
	if _, ok := store.updates["b"]; ok {
		t.Error("filtered-out document was written")
	}
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	store := newMockStore(doc("a", "p", "x"))
	embed := &mockEmbedder{
		vec:      []float32{1, 0, 0},
		failN:    2,
		failNErr: fmt.Errorf("upstream 503: %w", domain.ErrTransient),
	}
	cfg := testConfig()
	cfg.MaxRetries = 3
	svc := New(store, embed, 3, cfg, zap.NewNop())

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Report.Succeeded != 1 {
		t.Fatalf("expected success after retries, got %+v", out.Report)
	}
	if embed.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", embed.calls)
	}
}

func TestRun_DoesNotRetryInvalidInput(t *testing.T) {
	store := newMockStore(doc("a", "p", "x"))
	embed := &mockEmbedder{
		failN:    5,
		failNErr: fmt.Errorf("bad input: %w", domain.ErrInvalidInput),
	}
	cfg := testConfig()
	cfg.MaxRetries = 3
	svc := New(store, embed, 3, cfg, zap.NewNop())

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", out.Report)
	}
	if embed.calls != 1 {
		t.Errorf("invalid input retried: %d calls", embed.calls)
	}
}

func TestRun_IteratesInIDOrder(t *testing.T) {
	store := newMockStore(doc("c", "p", "x"), doc("a", "p", "y"), doc("b", "p", "z"))
	// Fail all so iteration order is visible in the failure list.
	embed := &mockEmbedder{failN: 100, failNErr: fmt.Errorf("down: %w", domain.ErrInvalidInput)}
	svc := newService(store, embed, 3)

	out, err := svc.Run(context.Background(), Request{ModelVersion: "m2", Confirmed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := make([]string, 0, 3)
	for _, f := range out.Report.Failures {
		got = append(got, f.DocumentID)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("failures not in ID order: %v", got)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{fmt.Errorf("x: %w", domain.ErrRateLimited), FailureRateLimited},
		{fmt.Errorf("x: %w", domain.ErrInvalidInput), FailureInvalidInput},
		{fmt.Errorf("x: %w", domain.ErrTransient), FailureTransient},
		{fmt.Errorf("x: %w", domain.ErrDimensionMismatch), FailureDimensionMismatch},
		{fmt.Errorf("x: %w", domain.ErrFormat), FailureFormat},
		{fmt.Errorf("x: %w", domain.ErrStore), FailureStore},
		{context.DeadlineExceeded, FailureTransient},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
