package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

type stubEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("model unavailable")
	}
	// Deterministic toy vector keyed on length.
	return []float32{float32(len(text)), 1}, nil
}

const catalogJSONL = `{"id": "MLM2054839012", "categoria": "tubo", "precio": "$8,500", "detalles": {"TITLE": "Tubo láser RECI W2 100W", "BRAND": "RECI", "MODEL": "W2", "POTENCIA": "100W"}}

{"id": "MLM2054839012", "categoria": "tubo", "precio": "$9,999", "detalles": {"TITLE": "Duplicado, debe ignorarse"}}
{"id": "MLM1117765400", "categoria": "chiller", "precio": "$6,200", "detalles": {"TITLE": "Chiller CW-5200 industrial", "BRAND": "S&A"}}
{"id": "ABC123", "categoria": "tubo", "detalles": {"TITLE": "SKU inválido"}}
{"categoria": "lente", "detalles": {"ID": "MLM3330001111", "TITLE": "Lente de enfoque 20mm", "MODEL": "FL-20"}}
not json at all
{"id": "MLM555", "categoria": "tubo", "detalles": {"TITLE": "SKU demasiado corto"}}
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contexto_bot.jsonl")
	if err := os.WriteFile(path, []byte(catalogJSONL), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_SnapshotEndToEnd(t *testing.T) {
	path := writeCatalog(t)
	dir := filepath.Join(t.TempDir(), "index")
	emb := &stubEmbedder{}

	stats, err := Run(context.Background(), Deps{
		Embedder:    emb,
		Model:       "nomic-embed-text",
		SnapshotDir: dir,
		Workers:     2,
	}, path)
	if err != nil {
		t.Fatal(err)
	}

	// 6 decodable lines; duplicate, bad SKUs dropped; detalles.ID fallback kept.
	if stats.Loaded != 6 {
		t.Errorf("Loaded = %d, want 6", stats.Loaded)
	}
	if stats.Indexed != 3 {
		t.Errorf("Indexed = %d, want 3", stats.Indexed)
	}
	if got := emb.calls.Load(); got != 3 {
		t.Errorf("embed calls = %d, want 3", got)
	}

	snap, err := catalog.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := snap.Query(context.Background(), []float32{100, 1}, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Available {
		t.Fatal("snapshot should be available after Run")
	}
	if len(res.Hits) != 3 {
		t.Fatalf("expected 3 indexed entries, got %d", len(res.Hits))
	}
	for _, h := range res.Hits {
		if h.Entry.ID == "MLM2054839012" && h.Entry.Price != "$8,500" {
			t.Errorf("duplicate SKU overwrote first occurrence: %+v", h.Entry)
		}
	}
}

// qdrantRecorder satisfies both client interfaces of catalog.VectorStore and
// records the operations a rebuild performs, in order.
type qdrantRecorder struct {
	calls     []string
	upsertReq *pb.UpsertPoints
	deleteReq *pb.DeletePoints
}

func (q *qdrantRecorder) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	q.calls = append(q.calls, "upsert")
	q.upsertReq = in
	return &pb.PointsOperationResponse{}, nil
}

func (q *qdrantRecorder) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	q.calls = append(q.calls, "delete_stale")
	q.deleteReq = in
	return &pb.PointsOperationResponse{}, nil
}

func (q *qdrantRecorder) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return &pb.SearchResponse{}, nil
}

func (q *qdrantRecorder) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	q.calls = append(q.calls, "list")
	return &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: catalog.DefaultCollection}},
	}, nil
}

func (q *qdrantRecorder) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	q.calls = append(q.calls, "create")
	return &pb.CollectionOperationResponse{}, nil
}

func TestRun_QdrantRebuildKeepsCollectionQueryable(t *testing.T) {
	path := writeCatalog(t)
	rec := &qdrantRecorder{}
	vs := catalog.NewVectorStoreWithClients(rec, rec, catalog.DefaultCollection)

	stats, err := Run(context.Background(), Deps{
		Embedder: &stubEmbedder{},
		Model:    "nomic-embed-text",
		Vector:   vs,
		Workers:  2,
	}, path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 3 {
		t.Fatalf("Indexed = %d, want 3", stats.Indexed)
	}

	// An existing collection is upserted in place; stale points go last so
	// queries mid-rebuild always see a complete index.
	want := []string{"list", "upsert", "delete_stale"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("rebuild operations = %v, want %v", rec.calls, want)
	}
	if got := len(rec.upsertReq.GetPoints()); got != 3 {
		t.Errorf("upserted %d points, want 3", got)
	}
	kept := rec.deleteReq.GetPoints().GetFilter().GetMustNot()[0].GetHasId().GetHasId()
	if len(kept) != 3 {
		t.Errorf("stale delete kept %d point IDs, want 3", len(kept))
	}
}

func TestRun_EmbedFailure(t *testing.T) {
	path := writeCatalog(t)
	_, err := Run(context.Background(), Deps{
		Embedder:    &stubEmbedder{fail: true},
		Model:       "nomic-embed-text",
		SnapshotDir: filepath.Join(t.TempDir(), "index"),
		Workers:     2,
	}, path)
	if err == nil {
		t.Fatal("expected pipeline failure when embedding fails")
	}
}

func TestRun_MissingFile(t *testing.T) {
	_, err := Run(context.Background(), Deps{Embedder: &stubEmbedder{}}, "/nonexistent/contexto_bot.jsonl")
	if err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestProductEntry(t *testing.T) {
	p := Product{
		ID:       "MLM2054839012",
		Category: " Tubo ",
		Price:    "$8,500",
		Details: map[string]string{
			"TITLE":    "Tubo láser RECI W2 100W",
			"BRAND":    "RECI",
			"MODEL":    "W2",
			"POTENCIA": "100W",
		},
	}
	e := p.Entry()
	if e.Category != domain.CategoryTube {
		t.Errorf("category = %q", e.Category)
	}
	if e.Link != "https://articulo.mercadolibre.com.mx/MLM-2054839012" {
		t.Errorf("link = %q", e.Link)
	}
	if !strings.HasPrefix(e.Text, "Tubo láser RECI W2 100W") {
		t.Errorf("search text must lead with the title: %q", e.Text)
	}
	for _, want := range []string{"RECI", "W2", "POTENCIA: 100W"} {
		if !strings.Contains(e.Text, want) {
			t.Errorf("search text missing %q: %q", want, e.Text)
		}
	}
	if err := domain.ValidateEntry(e); err != nil {
		t.Errorf("entry should validate: %v", err)
	}
}

func TestProductEntry_DetallesIDFallback(t *testing.T) {
	p := Product{
		Category: "lente",
		Details:  map[string]string{"ID": "MLM3330001111", "TITLE": "Lente de enfoque 20mm"},
	}
	e := p.Entry()
	if e.ID != "MLM3330001111" {
		t.Errorf("ID fallback failed: %q", e.ID)
	}
}
