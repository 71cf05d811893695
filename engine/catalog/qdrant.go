package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the Qdrant-backed catalog index. It is the sole owner of all
// Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	known       atomic.Bool // collection confirmed to exist; never unset mid-run
}

// NewVectorStore connects to Qdrant at the given gRPC address.
func NewVectorStore(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("catalog: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewVectorStoreWithClients builds a store on provided clients. Used in tests.
func NewVectorStoreWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// exists reports whether the collection is present, caching a positive answer.
// The collection only ever appears (indexer) or is atomically replaced, so a
// cached true stays true for the process lifetime.
func (v *VectorStore) exists(ctx context.Context) (bool, error) {
	if v.known.Load() {
		return true, nil
	}
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("catalog: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			v.known.Store(true)
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection if it doesn't exist. Indexer only.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	ok, err := v.exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: create collection %s: %w", v.collection, err)
	}
	v.known.Store(true)
	return nil
}

// DeleteStale removes every point whose SKU is not in keep. Indexer only,
// called after the re-index upsert so the collection never passes through an
// absent or partially-filled state during a rebuild.
func (v *VectorStore) DeleteStale(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, len(keep))
	for i, sku := range keep {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(sku)}}
	}

	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					MustNot: []*pb.Condition{{
						ConditionOneOf: &pb.Condition_HasId{
							HasId: &pb.HasIdCondition{HasId: ids},
						},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: delete stale points: %w", err)
	}
	return nil
}

// Upsert stores catalog entries and their vectors. Indexer only; the query
// path never writes. Point IDs are deterministic UUIDv5 of the SKU so a
// re-index overwrites rather than duplicates.
func (v *VectorStore) Upsert(ctx context.Context, entries []domain.CatalogEntry, vectors [][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) != len(vectors) {
		return fmt.Errorf("catalog: %d entries but %d vectors", len(entries), len(vectors))
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(e.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: map[string]*pb.Value{
				"sku":      stringValue(e.ID),
				"title":    stringValue(e.Title),
				"text":     stringValue(e.Text),
				"category": stringValue(string(e.Category)),
				"price":    stringValue(e.Price),
				"link":     stringValue(e.Link),
				// Query sorts equal scores by this to keep catalog insertion order.
				"order": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(i)}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("catalog: upsert %d points: %w", len(entries), err)
	}
	return nil
}

// Query implements Searcher against Qdrant. An absent collection reports
// Available=false with no error. Ordering is deterministic: descending
// score, ties broken by the catalog insertion order stored with each point.
func (v *VectorStore) Query(ctx context.Context, vector []float32, filters []domain.Category, k int) (QueryResult, error) {
	if k <= 0 {
		return QueryResult{}, domain.NewValidationError("k", fmt.Sprintf("%d", k), domain.ErrInvalidK)
	}

	ok, err := v.exists(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	if !ok {
		return QueryResult{Available: false}, nil
	}

	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		should := make([]*pb.Condition, 0, len(filters))
		for _, c := range filters {
			should = append(should, fieldMatch("category", string(c)))
		}
		req.Filter = &pb.Filter{Should: should}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("catalog: search: %w", err)
	}

	type scoredHit struct {
		hit   Hit
		order int64
	}
	rows := make([]scoredHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		row := scoredHit{hit: Hit{Score: r.GetScore()}, order: int64(i)}
		for key, val := range r.GetPayload() {
			s := val.GetStringValue()
			switch key {
			case "sku":
				row.hit.Entry.ID = s
			case "title":
				row.hit.Entry.Title = s
			case "text":
				row.hit.Entry.Text = s
			case "category":
				row.hit.Entry.Category = domain.Category(s)
			case "price":
				row.hit.Entry.Price = s
			case "link":
				row.hit.Entry.Link = s
			case "order":
				row.order = val.GetIntegerValue()
			}
		}
		rows[i] = row
	}

	// The server does not guarantee an order for equal scores.
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].hit.Score != rows[b].hit.Score {
			return rows[a].hit.Score > rows[b].hit.Score
		}
		return rows[a].order < rows[b].order
	})

	hits := make([]Hit, len(rows))
	for i, row := range rows {
		hits[i] = row.hit
	}
	return QueryResult{Hits: hits, Available: true}, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
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
