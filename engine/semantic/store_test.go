package semantic

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	upsertErrs []error // per call, nil when exhausted
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	i := len(m.upserts)
	m.upserts = append(m.upserts, in)
	if i < len(m.upsertErrs) && m.upsertErrs[i] != nil {
		return nil, m.upsertErrs[i]
	}
	return &pb.PointsOperationResponse{}, nil
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	getResp   *pb.GetCollectionInfoResponse
	getErr    error
	created   *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return m.getResp, m.getErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func existing(name string, size uint64, dist pb.Distance) *mockCollections {
	return &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: name}}},
		getResp: &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
				VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{Size: size, Distance: dist},
				}},
			}},
		}},
	}
}

const (
	id1 = "a1111111-1111-1111-1111-111111111111"
	id2 = "b2222222-2222-2222-2222-222222222222"
	id3 = "c3333333-3333-3333-3333-333333333333"
)

func point(id string, vec ...float32) domain.IndexPoint {
	return domain.IndexPoint{ID: id, Vector: vec, Payload: domain.Payload{
		Text: "text " + id, OwnerIdentity: "alice", Filename: "a.pdf", DocumentID: "doc-1",
		ChunkIndex: 2, ChunkLength: 6, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
}

// --- EnsureCollection ---

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	vs := NewWithClients(&mockPoints{}, cols, "")
	err := vs.EnsureCollection(context.Background(), CollectionSpec{Name: "docs", Dimension: 4, Distance: Cosine})
	if err != nil {
		t.Fatal(err)
	}
	if cols.created == nil || cols.created.CollectionName != "docs" {
		t.Fatalf("collection not created: %+v", cols.created)
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 4 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("params = %+v", params)
	}
	if vs.Collection() != "docs" {
		t.Fatalf("collection = %s", vs.Collection())
	}
}

func TestEnsureCollection_ExistingSameConfigIsNoop(t *testing.T) {
	cols := existing("docs", 4, pb.Distance_Cosine)
	vs := NewWithClients(&mockPoints{}, cols, "docs")
	for i := 0; i < 2; i++ {
		if err := vs.EnsureCollection(context.Background(), CollectionSpec{Name: "docs", Dimension: 4, Distance: Cosine}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if cols.created != nil {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollection_Conflict(t *testing.T) {
	cases := []struct {
		name string
		spec CollectionSpec
	}{
		{"dimension", CollectionSpec{Name: "docs", Dimension: 8, Distance: Cosine}},
		{"metric", CollectionSpec{Name: "docs", Dimension: 4, Distance: Dot}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs := NewWithClients(&mockPoints{}, existing("docs", 4, pb.Distance_Cosine), "docs")
			err := vs.EnsureCollection(context.Background(), tc.spec)
			if !errors.Is(err, domain.ErrConfigConflict) {
				t.Fatalf("expected ErrConfigConflict, got %v", err)
			}
		})
	}
}

func TestEnsureCollection_InvalidSpec(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "docs")
	if err := vs.EnsureCollection(context.Background(), CollectionSpec{Dimension: 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := vs.EnsureCollection(context.Background(), CollectionSpec{Dimension: 4, Distance: "manhattan"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("unavailable")}, "docs")
	err := vs.EnsureCollection(context.Background(), CollectionSpec{Dimension: 4})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

// --- Upsert ---

func TestUpsert_EncodesPayload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "docs")
	if err := vs.Upsert(context.Background(), []domain.IndexPoint{point(id1, 1, 0)}); err != nil {
		t.Fatal(err)
	}
	got := pts.upserts[0].Points[0]
	if got.GetId().GetUuid() != id1 {
		t.Fatalf("id = %v", got.GetId())
	}
	pl := decodePayload(got.Payload)
	want := point(id1).Payload
	if !pl.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", pl.CreatedAt, want.CreatedAt)
	}
	pl.CreatedAt, want.CreatedAt = time.Time{}, time.Time{}
	if pl != want {
		t.Fatalf("payload round trip = %+v, want %+v", pl, want)
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "docs")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(pts.upserts) != 0 {
		t.Fatal("no request expected for empty upsert")
	}
}

func TestUpsert_ReportsFailedBatchIDs(t *testing.T) {
	pts := &mockPoints{upsertErrs: []error{nil, errors.New("boom")}}
	vs := NewWithClients(pts, &mockCollections{}, "docs")
	vs.batchSize = 2

	err := vs.Upsert(context.Background(), []domain.IndexPoint{point(id1, 1), point(id2, 1), point(id3, 1)})
	var ue *UpsertError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpsertError, got %v", err)
	}
	ids := ue.FailedIDs()
	if len(ids) != 1 || ids[0] != id3 {
		t.Fatalf("failed ids = %v", ids)
	}
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider in chain, got %v", err)
	}
	if len(pts.upserts) != 2 {
		t.Fatalf("expected both batches attempted, got %d", len(pts.upserts))
	}
}

func TestUpsert_DimensionMismatchRejectedLocally(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, existing("docs", 2, pb.Distance_Cosine), "docs")
	if err := vs.EnsureCollection(context.Background(), CollectionSpec{Name: "docs", Dimension: 2}); err != nil {
		t.Fatal(err)
	}

	err := vs.Upsert(context.Background(), []domain.IndexPoint{point(id1, 1, 0), point(id2, 1, 0, 0), point("not-a-uuid", 1, 0)})
	var ue *UpsertError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpsertError, got %v", err)
	}
	if len(ue.Failures) != 2 {
		t.Fatalf("failures = %+v", ue.Failures)
	}
	if !errors.Is(err, domain.ErrConfigConflict) || !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected both conflict and invalid input in chain: %v", err)
	}
	if len(pts.upserts) != 1 || len(pts.upserts[0].Points) != 1 {
		t.Fatalf("only the valid point should be sent: %+v", pts.upserts)
	}
}

// --- Search ---

func scored(id string, score float32) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Score:   score,
		Payload: encodePayload(point(id).Payload),
	}
}

func TestSearch_SortsFiltersAndLimits(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		scored(id1, 0.5), scored(id2, 0.9), scored(id3, 0.1), scored(id1, 0.7),
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "docs")

	res, err := vs.Search(context.Background(), Query{
		Vector: []float32{1, 0}, Filter: map[string]string{"owner_identity": "alice"},
		Limit: 2, ScoreThreshold: 0.2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].Score != 0.9 || res[1].Score != 0.7 {
		t.Fatalf("results = %+v", res)
	}
	if res[0].Payload.Text != "text "+id2 {
		t.Fatalf("payload not decoded: %+v", res[0].Payload)
	}

	req := pts.searchReq
	if req.GetScoreThreshold() != 0.2 || req.GetLimit() != 2 {
		t.Fatalf("request = %+v", req)
	}
	cond := req.GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "owner_identity" || cond.GetMatch().GetKeyword() != "alice" {
		t.Fatalf("filter = %+v", cond)
	}
}

func TestSearch_NoFilter(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "docs")
	res, err := vs.Search(context.Background(), Query{Vector: []float32{1}, Limit: 5})
	if err != nil || len(res) != 0 {
		t.Fatalf("Search = %v, %v", res, err)
	}
	if pts.searchReq.Filter != nil {
		t.Fatal("expected no filter")
	}
}

func TestSearch_Invalid(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "docs")
	if _, err := vs.Search(context.Background(), Query{Limit: 5}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := vs.Search(context.Background(), Query{Vector: []float32{1}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearch_Error(t *testing.T) {
	vs := NewWithClients(&mockPoints{searchErr: errors.New("timeout")}, &mockCollections{}, "docs")
	if _, err := vs.Search(context.Background(), Query{Vector: []float32{1}, Limit: 1}); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

// --- Delete ---

func TestDeleteByDocID(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "docs")
	if err := vs.DeleteByDocID(context.Background(), "doc-1"); err != nil {
		t.Fatal(err)
	}
	cond := pts.deleteReq.GetPoints().GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "document_id" || cond.GetMatch().GetKeyword() != "doc-1" {
		t.Fatalf("filter = %+v", cond)
	}
}

func TestCloseWithoutConn(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "docs")
	if err := vs.Close(); err != nil {
		t.Fatal(err)
	}
}
