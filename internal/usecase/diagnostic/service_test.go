package diagnostic

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/agentdex/internal/domain/document"
	"github.com/kailas-cloud/agentdex/internal/domain/encoding"
)

type mockCorpus struct {
	docs []document.Document
	err  error
}

func (m *mockCorpus) FetchAll(_ context.Context, agentName string) ([]document.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	if agentName == "" {
		return m.docs, nil
	}
	var out []document.Document
	for _, d := range m.docs {
		if d.AgentName() == agentName {
			out = append(out, d)
		}
	}
	return out, nil
}

func vecDoc(id, agent string, v []float32) document.Document {
	return document.Reconstruct(id, agent, "content", encoding.StoredVector(v), "m1")
}

func textDoc(id, agent, raw string) document.Document {
	return document.Reconstruct(id, agent, "content", encoding.StoredText(raw), "")
}

func nullDoc(id, agent string) document.Document {
	return document.Reconstruct(id, agent, "content", encoding.StoredNull(), "")
}

func TestScan_ClassifiesEveryFormat(t *testing.T) {
	corpus := &mockCorpus{docs: []document.Document{
		vecDoc("1", "presales", []float32{1, 0, 0}),
		textDoc("2", "presales", "[0.1,0.2,0.3]"),
		textDoc("3", "leadgen", "{0.1, 0.2, 0.3}"),
		textDoc("4", "leadgen", "not-a-vector"),
		nullDoc("5", "social"),
	}}
	svc := New(corpus, 3, 4, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 5 {
		t.Fatalf("total = %d, want 5", report.Total)
	}
	want := map[encoding.Kind]int{
		encoding.KindCanonical:         1,
		encoding.KindLegacyArrayText:   1,
		encoding.KindLegacyLiteralText: 1,
		encoding.KindCorrupt:           1,
		encoding.KindMissing:           1,
	}
	for kind, n := range want {
		if report.ByFormat[kind] != n {
			t.Errorf("by_format[%s] = %d, want %d", kind, report.ByFormat[kind], n)
		}
	}
}

func TestScan_RecordsOrderedByAgentThenID(t *testing.T) {
	corpus := &mockCorpus{docs: []document.Document{
		vecDoc("2", "social", []float32{1, 0, 0}),
		vecDoc("1", "social", []float32{1, 0, 0}),
		vecDoc("9", "leadgen", []float32{1, 0, 0}),
	}}
	svc := New(corpus, 3, 2, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotOrder := []string{}
	for _, r := range report.Records {
		gotOrder = append(gotOrder, r.AgentName+"/"+r.DocumentID)
	}
	wantOrder := []string{"leadgen/9", "social/1", "social/2"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("record order = %v, want %v", gotOrder, wantOrder)
		}
	}
}

func TestScan_RecordFields(t *testing.T) {
	corpus := &mockCorpus{docs: []document.Document{
		vecDoc("1", "a", []float32{1, 0, 0}),
		nullDoc("2", "a"),
		textDoc("3", "a", "[0.1,0.2]"), // wrong dimension
	}}
	svc := New(corpus, 3, 1, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := map[string]Record{}
	for _, r := range report.Records {
		byID[r.DocumentID] = r
	}

	canonical := byID["1"]
	if !canonical.HasEmbedding || canonical.Format != encoding.KindCanonical {
		t.Errorf("canonical record: %+v", canonical)
	}
	if canonical.Dimension == nil || *canonical.Dimension != 3 {
		t.Errorf("canonical dimension: %+v", canonical.Dimension)
	}

	missing := byID["2"]
	if missing.HasEmbedding || missing.Format != encoding.KindMissing || missing.Dimension != nil {
		t.Errorf("missing record: %+v", missing)
	}

	corrupt := byID["3"]
	if corrupt.Format != encoding.KindCorrupt || corrupt.Reason == "" {
		t.Errorf("corrupt record: %+v", corrupt)
	}
}

func TestScan_AgentFilter(t *testing.T) {
	corpus := &mockCorpus{docs: []document.Document{
		vecDoc("1", "presales", []float32{1, 0, 0}),
		vecDoc("2", "leadgen", []float32{1, 0, 0}),
	}}
	svc := New(corpus, 3, 2, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{AgentName: "presales"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 1 || report.Records[0].DocumentID != "1" {
		t.Fatalf("unexpected report: %+v", report.Records)
	}
}

func TestScan_PairwiseSamples(t *testing.T) {
	corpus := &mockCorpus{docs: []document.Document{
		vecDoc("1", "a", []float32{1, 0, 0}),
		vecDoc("2", "a", []float32{1, 0, 0}),
		vecDoc("3", "a", []float32{0, 1, 0}),
		textDoc("4", "a", "not-a-vector"), // never sampled
	}}
	svc := New(corpus, 3, 2, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{SampleSize: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3 sampled documents yield 3 pairs.
	if len(report.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(report.Samples))
	}

	find := func(a, b string) float64 {
		for _, s := range report.Samples {
			if s.DocumentA == a && s.DocumentB == b {
				return s.Similarity
			}
		}
		t.Fatalf("pair %s/%s not found", a, b)
		return 0
	}
	if got := find("1", "2"); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("identical vectors similarity = %f", got)
	}
	if got := find("1", "3"); math.Abs(got) > 1e-6 {
		t.Errorf("orthogonal vectors similarity = %f", got)
	}
}

func TestScan_SampleSizeCapsPairs(t *testing.T) {
	docs := make([]document.Document, 0, 10)
	for _, id := range []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"} {
		docs = append(docs, vecDoc(id, "a", []float32{1, 0, 0}))
	}
	svc := New(&mockCorpus{docs: docs}, 3, 4, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Default sample size 5 yields C(5,2) = 10 pairs.
	if len(report.Samples) != 10 {
		t.Fatalf("samples = %d, want 10", len(report.Samples))
	}
}

func TestScan_FetchError(t *testing.T) {
	wantErr := errors.New("connection refused")
	svc := New(&mockCorpus{err: wantErr}, 3, 2, zap.NewNop())

	_, err := svc.Scan(context.Background(), Request{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
}

func TestScan_EmptyCorpus(t *testing.T) {
	svc := New(&mockCorpus{}, 3, 2, zap.NewNop())

	report, err := svc.Scan(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 0 || len(report.Samples) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
