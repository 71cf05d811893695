// Package catalog implements the product catalog index: a persisted collection
// of catalog entries and their embedding vectors, built once by the batch
// indexer and queried read-only by the retrieval path.
//
// Two backends implement Searcher: Snapshot, an on-disk directory loaded
// immutably into memory, and VectorStore, a Qdrant collection for server
// deployments. Both report index absence through QueryResult.Available rather
// than an error, so the orchestrator can distinguish "no index built yet" from
// "query found nothing".
package catalog

import (
	"context"

	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
)

// Hit is a single scored match. Higher score = more relevant.
type Hit struct {
	Entry domain.CatalogEntry `json:"entry"`
	Score float32             `json:"score"`
}

// QueryResult carries the ranked hits plus whether an index existed at all.
type QueryResult struct {
	Hits      []Hit
	Available bool
}

// Searcher is the query contract shared by all index backends.
type Searcher interface {
	// Query returns up to k entries whose category is in filters (empty
	// filters = no restriction), ordered by descending similarity to vector.
	// A missing index yields (QueryResult{Available: false}, nil), not an error.
	Query(ctx context.Context, vector []float32, filters []domain.Category, k int) (QueryResult, error)
}

// DefaultCollection is the stable collection name for the product catalog.
const DefaultCollection = "productos"
