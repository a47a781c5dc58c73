package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// --- Mocks ---

type mockExtractor struct {
	text string
	err  error
}

func (m *mockExtractor) Extract(context.Context, []byte) (string, error) { return m.text, m.err }

type mockEmbedder struct {
	err   error
	texts []string
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.texts = texts
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type mockIndex struct {
	mu        sync.Mutex
	points    []domain.IndexPoint
	upsertErr error
	deleted   []string
}

func (m *mockIndex) Upsert(_ context.Context, pts []domain.IndexPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, pts...)
	return m.upsertErr
}

func (m *mockIndex) DeleteByDocID(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockCatalog struct {
	docs []domain.Document
	err  error
}

func (m *mockCatalog) Record(_ context.Context, d domain.Document) error {
	m.docs = append(m.docs, d)
	return m.err
}

var fixedNow = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

func upload() domain.Upload {
	return domain.Upload{Filename: "handbook.pdf", OwnerIdentity: "alice", Content: []byte("%PDF-1.4 ..."), ChunkSize: 1000, Overlap: 200}
}

func newTestService(x *mockExtractor, e *mockEmbedder, idx *mockIndex, cat *mockCatalog) *Service {
	deps := Deps{Extractor: x, Embedder: e, Index: idx, Now: fixedNow}
	if cat != nil {
		deps.Catalog = cat
	}
	return New(deps)
}

// --- Tests ---

func TestIngestScenario(t *testing.T) {
	text := strings.Repeat("x", 2500)
	idx := &mockIndex{}
	cat := &mockCatalog{}
	svc := newTestService(&mockExtractor{text: text}, &mockEmbedder{}, idx, cat)

	rep, err := svc.Ingest(context.Background(), upload())
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalChunks != 3 || rep.ChunksStored != 3 || len(idx.points) != 3 {
		t.Fatalf("report = %+v, points = %d", rep, len(idx.points))
	}
	if rep.ExtractedTextLength != 2500 || rep.FileSizeBytes != len(upload().Content) {
		t.Fatalf("report sizes = %+v", rep)
	}
	if rep.Status != "success" || rep.DocumentID == "" || !rep.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("report = %+v", rep)
	}
	if len(cat.docs) != 1 || cat.docs[0].ID != rep.DocumentID || cat.docs[0].OwnerIdentity != "alice" {
		t.Fatalf("catalog = %+v", cat.docs)
	}
}

func TestIngestPointsCarryEmbeddedText(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps. ", 100)
	idx := &mockIndex{}
	emb := &mockEmbedder{}
	svc := newTestService(&mockExtractor{text: text}, emb, idx, nil)

	if _, err := svc.Ingest(context.Background(), upload()); err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for i, p := range idx.points {
		if p.Payload.Text != emb.texts[i] {
			t.Fatalf("point %d text differs from embedded text", i)
		}
		if p.Vector[0] != float32(len(p.Payload.Text)) {
			t.Fatalf("point %d vector not from its own text", i)
		}
		if p.Payload.ChunkIndex != i || p.Payload.ChunkLength != len([]rune(p.Payload.Text)) {
			t.Fatalf("point %d payload = %+v", i, p.Payload)
		}
		if ids[p.ID] {
			t.Fatalf("duplicate point id %s", p.ID)
		}
		ids[p.ID] = true
	}
}

func TestIngestDefaultsChunking(t *testing.T) {
	idx := &mockIndex{}
	svc := newTestService(&mockExtractor{text: strings.Repeat("y", 1500)}, &mockEmbedder{}, idx, nil)
	u := upload()
	u.ChunkSize, u.Overlap = 0, 0
	rep, err := svc.Ingest(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if rep.ChunkSize != 1000 || rep.Overlap != 200 {
		t.Fatalf("defaults not applied: %+v", rep)
	}
}

func TestIngestValidation(t *testing.T) {
	cases := map[string]func(*domain.Upload){
		"not pdf":     func(u *domain.Upload) { u.Filename = "notes.txt" },
		"no owner":    func(u *domain.Upload) { u.OwnerIdentity = " " },
		"empty file":  func(u *domain.Upload) { u.Content = nil },
		"bad overlap": func(u *domain.Upload) { u.Overlap = 1000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			x := &mockExtractor{text: "plenty of readable text here"}
			svc := newTestService(x, &mockEmbedder{}, &mockIndex{}, nil)
			u := upload()
			mutate(&u)
			if _, err := svc.Ingest(context.Background(), u); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestIngestTooLittleText(t *testing.T) {
	svc := newTestService(&mockExtractor{text: "  a b c  "}, &mockEmbedder{}, &mockIndex{}, nil)
	if _, err := svc.Ingest(context.Background(), upload()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestExtractionError(t *testing.T) {
	svc := newTestService(&mockExtractor{err: domain.ErrExtraction}, &mockEmbedder{}, &mockIndex{}, nil)
	_, err := svc.Ingest(context.Background(), upload())
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestIngestEmbedErrorSurfaces(t *testing.T) {
	idx := &mockIndex{}
	svc := newTestService(&mockExtractor{text: strings.Repeat("z", 50)}, &mockEmbedder{err: domain.NewProviderError("openai", 429, "")}, idx, nil)
	_, err := svc.Ingest(context.Background(), upload())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(idx.points) != 0 {
		t.Fatal("nothing should be stored when embedding fails")
	}
}

func TestIngestUpsertFailureCleansUp(t *testing.T) {
	idx := &mockIndex{upsertErr: domain.WrapProvider("qdrant", errors.New("unavailable"))}
	svc := newTestService(&mockExtractor{text: strings.Repeat("z", 50)}, &mockEmbedder{}, idx, nil)
	_, err := svc.Ingest(context.Background(), upload())
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != idx.points[0].Payload.DocumentID {
		t.Fatalf("expected cleanup of the document, got %v", idx.deleted)
	}
}

func TestIngestCatalogFailureIsNotFatal(t *testing.T) {
	cat := &mockCatalog{err: errors.New("neo4j down")}
	svc := newTestService(&mockExtractor{text: strings.Repeat("z", 50)}, &mockEmbedder{}, &mockIndex{}, cat)
	if _, err := svc.Ingest(context.Background(), upload()); err != nil {
		t.Fatalf("catalog failure should not fail the upload: %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"invalid_input":   domain.NewValidationError("f", "", errors.New("x")),
		"extraction":      domain.ErrExtraction,
		"config_conflict": domain.ErrConfigConflict,
		"rate_limited":    domain.NewProviderError("p", 429, ""),
		"provider":        domain.NewProviderError("p", 500, ""),
		"internal":        errors.New("other"),
	}
	for want, err := range cases {
		if got := errorKind(err); got != want {
			t.Errorf("errorKind(%v) = %s, want %s", err, got, want)
		}
	}
}
