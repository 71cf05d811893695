package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// testEntries builds a small catalog with 2-dim vectors whose cosine scores
// against the query vector (1, 0) are easy to reason about.
func testEntries() ([]domain.CatalogEntry, [][]float32) {
	entries := []domain.CatalogEntry{
		{ID: "MLM100001", Title: "Tubo RECI 100W", Text: "tubo laser co2 reci w4", Category: domain.CategoryTube, Link: "https://articulo.mercadolibre.com.mx/MLM-100001"},
		{ID: "MLM100002", Title: "Tubo EFR 80W", Text: "tubo laser co2 efr f2", Category: domain.CategoryTube, Link: "https://articulo.mercadolibre.com.mx/MLM-100002"},
		{ID: "MLM100003", Title: "Tubo Puri 60W", Text: "tubo laser co2 puri", Category: domain.CategoryTube, Link: "https://articulo.mercadolibre.com.mx/MLM-100003"},
		{ID: "MLM100004", Title: "Chiller CW-5000", Text: "enfriador de agua para laser", Category: domain.CategoryChiller, Link: "https://articulo.mercadolibre.com.mx/MLM-100004"},
	}
	// Angles chosen so tube scores against (1,0) are ~0.91, ~0.77, ~0.40.
	vectors := [][]float32{
		{0.91, 0.4146},
		{0.77, 0.6380},
		{0.40, 0.9165},
		{-1.0, 0.0},
	}
	return entries, vectors
}

func buildTestIndex(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "index")
	entries, vectors := testEntries()
	if err := Write(dir, "e5-small", entries, vectors); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return dir
}

func TestSnapshot_TopKByScore(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	res, err := snap.Query(context.Background(), []float32{1, 0}, []domain.Category{domain.CategoryTube}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.Available {
		t.Fatal("expected Available=true")
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	if res.Hits[0].Entry.ID != "MLM100001" || res.Hits[1].Entry.ID != "MLM100002" {
		t.Errorf("wrong ranking: %s, %s", res.Hits[0].Entry.ID, res.Hits[1].Entry.ID)
	}
	if res.Hits[0].Score <= res.Hits[1].Score {
		t.Errorf("scores not descending: %v, %v", res.Hits[0].Score, res.Hits[1].Score)
	}
	// The 0.40-score tube must be excluded at k=2.
	for _, h := range res.Hits {
		if h.Entry.ID == "MLM100003" {
			t.Error("third-ranked entry leaked into top-2")
		}
	}
}

func TestSnapshot_FilterRestricts(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatal(err)
	}

	res, err := snap.Query(context.Background(), []float32{1, 0}, []domain.Category{domain.CategoryChiller}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Entry.ID != "MLM100004" {
		t.Fatalf("expected only the chiller, got %+v", res.Hits)
	}

	// Empty filter set = no restriction.
	res, err = snap.Query(context.Background(), []float32{1, 0}, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 4 {
		t.Fatalf("expected all 4 entries, got %d", len(res.Hits))
	}
}

func TestSnapshot_FilterMatchesNothing(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatal(err)
	}
	res, err := snap.Query(context.Background(), []float32{1, 0}, []domain.Category{domain.CategoryLens}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Available || len(res.Hits) != 0 {
		t.Fatalf("expected available empty result, got %+v", res)
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatal(err)
	}
	first, err := snap.Query(context.Background(), []float32{0.3, 0.7}, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := snap.Query(context.Background(), []float32{0.3, 0.7}, nil, 4)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("iteration %d: ordering not deterministic", i)
		}
	}
}

func TestSnapshot_TiesKeepInsertionOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	entries := []domain.CatalogEntry{
		{ID: "MLM200001", Title: "Lente 18mm", Text: "lente", Category: domain.CategoryLens},
		{ID: "MLM200002", Title: "Lente 20mm", Text: "lente", Category: domain.CategoryLens},
		{ID: "MLM200003", Title: "Lente 25mm", Text: "lente", Category: domain.CategoryLens},
	}
	// Identical vectors → identical scores for every query.
	vectors := [][]float32{{1, 1}, {1, 1}, {1, 1}}
	if err := Write(dir, "e5-small", entries, vectors); err != nil {
		t.Fatal(err)
	}
	snap, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := snap.Query(context.Background(), []float32{0.5, 0.5}, nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"MLM200001", "MLM200002", "MLM200003"} {
		if res.Hits[i].Entry.ID != want {
			t.Fatalf("tie-break broke insertion order: %+v", res.Hits)
		}
	}
}

func TestSnapshot_MissingIndex(t *testing.T) {
	snap, err := Open(filepath.Join(t.TempDir(), "never-built"))
	if err != nil {
		t.Fatalf("missing index must not be an error, got %v", err)
	}
	res, err := snap.Query(context.Background(), []float32{1, 0}, nil, 5)
	if err != nil {
		t.Fatalf("Query on missing index: %v", err)
	}
	if res.Available {
		t.Error("expected Available=false for missing index")
	}
	if len(res.Hits) != 0 {
		t.Errorf("expected no hits, got %d", len(res.Hits))
	}
}

func TestSnapshot_DimsMismatch(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatal(err)
	}
	_, err = snap.Query(context.Background(), []float32{1, 0, 0}, nil, 5)
	if !errors.Is(err, ErrDimsMismatch) {
		t.Fatalf("expected ErrDimsMismatch, got %v", err)
	}
}

func TestSnapshot_InvalidK(t *testing.T) {
	snap, err := Open(buildTestIndex(t))
	if err != nil {
		t.Fatal(err)
	}
	_, err = snap.Query(context.Background(), []float32{1, 0}, nil, 0)
	if !errors.Is(err, domain.ErrInvalidK) {
		t.Fatalf("expected ErrInvalidK, got %v", err)
	}
}

func TestWrite_SwapsAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	entries, vectors := testEntries()
	if err := Write(dir, "e5-small", entries, vectors); err != nil {
		t.Fatal(err)
	}

	// Rebuild with one fewer entry; the old index must be fully replaced.
	if err := Write(dir, "e5-small", entries[:2], vectors[:2]); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	snap, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 entries after rebuild, got %d", snap.Len())
	}
	if snap.Manifest().Model != "e5-small" || snap.Manifest().Dims != 2 {
		t.Errorf("unexpected manifest: %+v", snap.Manifest())
	}
}

func TestWrite_RejectsBadInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	entries, vectors := testEntries()

	if err := Write(dir, "m", entries, vectors[:2]); err == nil {
		t.Error("expected error for entry/vector count mismatch")
	}
	if err := Write(dir, "m", nil, nil); err == nil {
		t.Error("expected error for empty catalog")
	}
	if err := Write(dir, "m", entries[:2], [][]float32{{1, 0}, {1, 0, 0}}); err == nil {
		t.Error("expected error for ragged vector dims")
	}
}
