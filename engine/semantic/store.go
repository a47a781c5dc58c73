// Package semantic owns the vector index: collection lifecycle, point
// upserts, and filtered nearest-neighbour search over Qdrant.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/pkg/fn"
)

// DefaultBatchSize is the number of points sent per Upsert request.
const DefaultBatchSize = 64

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dimension   int
	batchSize   int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		batchSize:   DefaultBatchSize,
	}
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if absent. An existing collection
// with the same size and metric is left untouched; a different one is a
// ConfigConflict. The store adopts spec.Name as its collection.
func (v *VectorStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Name != "" {
		v.collection = spec.Name
	}
	if spec.Dimension <= 0 {
		return domain.NewValidationError("dimension", fmt.Sprint(spec.Dimension), fmt.Errorf("must be positive"))
	}
	dist, err := spec.Distance.proto()
	if err != nil {
		return domain.NewValidationError("distance", string(spec.Distance), err)
	}

	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", domain.WrapProvider("qdrant", err))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			if err := v.checkExisting(ctx, uint64(spec.Dimension), dist); err != nil {
				return err
			}
			v.dimension = spec.Dimension
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: dist,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, domain.WrapProvider("qdrant", err))
	}
	v.dimension = spec.Dimension
	return nil
}

func (v *VectorStore) checkExisting(ctx context.Context, size uint64, dist pb.Distance) error {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: get collection %s: %w", v.collection, domain.WrapProvider("qdrant", err))
	}
	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("semantic: collection %s has no single-vector config: %w", v.collection, domain.ErrConfigConflict)
	}
	if params.GetSize() != size || params.GetDistance() != dist {
		return fmt.Errorf("semantic: collection %s is size=%d distance=%s, want size=%d distance=%s: %w",
			v.collection, params.GetSize(), params.GetDistance(), size, dist, domain.ErrConfigConflict)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores points in batches. A failed batch does not stop later ones;
// the returned *UpsertError lists every point that was not stored.
func (v *VectorStore) Upsert(ctx context.Context, points []domain.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}

	var failures []PointFailure
	valid := make([]domain.IndexPoint, 0, len(points))
	for _, p := range points {
		if err := v.validatePoint(p); err != nil {
			failures = append(failures, PointFailure{ID: p.ID, Err: err})
			continue
		}
		valid = append(valid, p)
	}

	wait := true
	for _, batch := range fn.Chunk(valid, v.batchSize) {
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         fn.Map(batch, toPointStruct),
		})
		if err != nil {
			werr := domain.WrapProvider("qdrant", err)
			for _, p := range batch {
				failures = append(failures, PointFailure{ID: p.ID, Err: werr})
			}
		}
	}

	if len(failures) > 0 {
		return &UpsertError{Failures: failures}
	}
	return nil
}

func (v *VectorStore) validatePoint(p domain.IndexPoint) error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return domain.NewValidationError("point_id", p.ID, err)
	}
	if len(p.Vector) == 0 {
		return domain.NewValidationError("vector", p.ID, fmt.Errorf("empty vector"))
	}
	if v.dimension > 0 && len(p.Vector) != v.dimension {
		return fmt.Errorf("point %s has dimension %d, collection wants %d: %w", p.ID, len(p.Vector), v.dimension, domain.ErrConfigConflict)
	}
	return nil
}

func toPointStruct(p domain.IndexPoint) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: p.Vector},
			},
		},
		Payload: encodePayload(p.Payload),
	}
}

func encodePayload(p domain.Payload) map[string]*pb.Value {
	return map[string]*pb.Value{
		"text":           strVal(p.Text),
		"owner_identity": strVal(p.OwnerIdentity),
		"filename":       strVal(p.Filename),
		"document_id":    strVal(p.DocumentID),
		"chunk_index":    intVal(p.ChunkIndex),
		"chunk_length":   intVal(p.ChunkLength),
		"created_at":     strVal(p.CreatedAt.UTC().Format(time.RFC3339)),
	}
}

func decodePayload(m map[string]*pb.Value) domain.Payload {
	p := domain.Payload{
		Text:          m["text"].GetStringValue(),
		OwnerIdentity: m["owner_identity"].GetStringValue(),
		Filename:      m["filename"].GetStringValue(),
		DocumentID:    m["document_id"].GetStringValue(),
		ChunkIndex:    int(m["chunk_index"].GetIntegerValue()),
		ChunkLength:   int(m["chunk_length"].GetIntegerValue()),
	}
	if ts, err := time.Parse(time.RFC3339, m["created_at"].GetStringValue()); err == nil {
		p.CreatedAt = ts
	}
	return p
}

func strVal(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func intVal(n int) *pb.Value    { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}} }

// DeleteByDocID removes all points of a document.
func (v *VectorStore) DeleteByDocID(ctx context.Context, docID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("document_id", docID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by document_id %s: %w", docID, domain.WrapProvider("qdrant", err))
	}
	return nil
}

// Search returns at most q.Limit results with score >= q.ScoreThreshold,
// ordered by descending score.
func (v *VectorStore) Search(ctx context.Context, q Query) ([]domain.SearchResult, error) {
	if len(q.Vector) == 0 {
		return nil, domain.NewValidationError("vector", "", fmt.Errorf("empty query vector"))
	}
	if q.Limit <= 0 {
		return nil, domain.NewValidationError("limit", fmt.Sprint(q.Limit), fmt.Errorf("must be positive"))
	}

	threshold := q.ScoreThreshold
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         q.Vector,
		Limit:          uint64(q.Limit),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	if len(q.Filter) > 0 {
		keys := make([]string, 0, len(q.Filter))
		for k := range q.Filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		must := make([]*pb.Condition, 0, len(keys))
		for _, k := range keys {
			must = append(must, fieldMatch(k, q.Filter[k]))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", domain.WrapProvider("qdrant", err))
	}

	results := make([]domain.SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		if r.GetScore() < q.ScoreThreshold {
			continue
		}
		results = append(results, domain.SearchResult{
			PointID: r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
