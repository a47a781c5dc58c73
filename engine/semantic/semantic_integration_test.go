//go:build integration

package semantic

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(qdrantAddr(), collection)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func TestQdrant_EnsureCollection(t *testing.T) {
	vs := testStore(t, "test_ensure")
	ctx := context.Background()
	spec := CollectionSpec{Name: "test_ensure", Dimension: 4, Distance: Cosine}

	if err := vs.EnsureCollection(ctx, spec); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := vs.EnsureCollection(ctx, spec); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
	spec.Dimension = 8
	if err := vs.EnsureCollection(ctx, spec); !errors.Is(err, domain.ErrConfigConflict) {
		t.Fatalf("expected ErrConfigConflict, got %v", err)
	}
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	vs := testStore(t, "test_upsert_search")
	ctx := context.Background()

	if err := vs.EnsureCollection(ctx, CollectionSpec{Name: "test_upsert_search", Dimension: 4, Distance: Cosine}); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	points := []domain.IndexPoint{
		{ID: "a1111111-1111-1111-1111-111111111111", Vector: []float32{1, 0, 0, 0}, Payload: domain.Payload{Text: "opening hours", OwnerIdentity: "alice", DocumentID: "d1", CreatedAt: now}},
		{ID: "b2222222-2222-2222-2222-222222222222", Vector: []float32{0, 1, 0, 0}, Payload: domain.Payload{Text: "refund policy", OwnerIdentity: "alice", DocumentID: "d2", CreatedAt: now}},
		{ID: "c3333333-3333-3333-3333-333333333333", Vector: []float32{0.9, 0.1, 0, 0}, Payload: domain.Payload{Text: "holiday hours", OwnerIdentity: "bob", DocumentID: "d3", CreatedAt: now}},
	}
	if err := vs.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := vs.Search(ctx, Query{Vector: []float32{1, 0, 0, 0}, Limit: 10, ScoreThreshold: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || res[0].Payload.Text != "opening hours" {
		t.Fatalf("unexpected results: %+v", res)
	}

	res, err = vs.Search(ctx, Query{Vector: []float32{1, 0, 0, 0}, Limit: 10, Filter: map[string]string{"owner_identity": "bob"}})
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(res) != 1 || res[0].Payload.DocumentID != "d3" {
		t.Fatalf("unexpected filtered results: %+v", res)
	}

	if err := vs.DeleteByDocID(ctx, "d1"); err != nil {
		t.Fatalf("DeleteByDocID: %v", err)
	}
	res, err = vs.Search(ctx, Query{Vector: []float32{1, 0, 0, 0}, Limit: 10, Filter: map[string]string{"document_id": "d1"}})
	if err != nil || len(res) != 0 {
		t.Fatalf("points of d1 survived delete: %+v, %v", res, err)
	}
}
