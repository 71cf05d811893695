// Package ingest builds the catalog index from a JSONL export: load,
// validate and dedupe, embed, then store. The old index stays queryable
// until the final swap.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
	"github.com/GuerraLaser/laserbot-mvp/pkg/fn"
)

// Embedder turns search text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps holds the external dependencies for the indexing pipeline.
type Deps struct {
	Embedder    Embedder
	Model       string
	SnapshotDir string               // "" skips the on-disk snapshot
	Vector      *catalog.VectorStore // nil skips Qdrant
	Limiter     *rate.Limiter        // nil means unthrottled
	Workers     int
	Logger      *slog.Logger
}

// Stats reports what one pipeline run did.
type Stats struct {
	Loaded   int
	Indexed  int
	Skipped  int
	Duration time.Duration
}

// LoadStage reads raw products from a JSONL file. Blank and malformed
// lines are skipped, matching how the exports are produced.
var LoadStage fn.Stage[string, []Product] = func(_ context.Context, path string) fn.Result[[]Product] {
	f, err := os.Open(path)
	if err != nil {
		return fn.Err[[]Product](fmt.Errorf("ingest: open catalog: %w", err))
	}
	defer f.Close()

	var products []Product
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p, ok, err := decodeProduct(sc.Bytes())
		if err != nil || !ok {
			continue
		}
		products = append(products, p)
	}
	if err := sc.Err(); err != nil {
		return fn.Err[[]Product](fmt.Errorf("ingest: read catalog: %w", err))
	}
	return fn.Ok(products)
}

// NewValidateStage converts raw products to entries, dropping invalid ones
// and duplicate SKUs (first occurrence wins).
func NewValidateStage(logger *slog.Logger) fn.Stage[[]Product, []domain.CatalogEntry] {
	return func(_ context.Context, products []Product) fn.Result[[]domain.CatalogEntry] {
		entries := fn.FilterMap(products, func(p Product) (domain.CatalogEntry, bool) {
			e := p.Entry()
			if err := domain.ValidateEntry(e); err != nil {
				logger.Warn("ingest: skipping entry", "id", e.ID, "err", err)
				return domain.CatalogEntry{}, false
			}
			return e, true
		})
		entries = fn.UniqueBy(entries, func(e domain.CatalogEntry) string { return e.ID })
		return fn.Ok(entries)
	}
}

// NewEmbedStage embeds entries with bounded concurrency and an optional
// rate limit, retrying transient model failures.
func NewEmbedStage(deps Deps) fn.Stage[[]domain.CatalogEntry, []EmbeddedEntry] {
	workers := deps.Workers
	if workers <= 0 {
		workers = 4
	}
	retry := fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true}

	return func(ctx context.Context, entries []domain.CatalogEntry) fn.Result[[]EmbeddedEntry] {
		results := fn.ParMapResult(entries, workers, func(e domain.CatalogEntry) fn.Result[EmbeddedEntry] {
			if deps.Limiter != nil {
				if err := deps.Limiter.Wait(ctx); err != nil {
					return fn.Err[EmbeddedEntry](err)
				}
			}
			vec := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[]float32] {
				return fn.FromPair(deps.Embedder.Embed(ctx, e.Text))
			})
			return fn.MapResult(vec, func(v []float32) EmbeddedEntry {
				return EmbeddedEntry{Entry: e, Vector: v}
			})
		})
		collected, err := fn.Collect(results).Unwrap()
		if err != nil {
			return fn.Err[[]EmbeddedEntry](fmt.Errorf("ingest: embed: %w", err))
		}
		return fn.Ok(collected)
	}
}

// NewStoreStage writes the embedded catalog to the configured sinks. The
// snapshot directory is written to a temp dir and swapped in atomically.
// The Qdrant collection is upserted in place (deterministic point IDs make
// this an overwrite) and stale points are removed afterwards, so the old
// index stays queryable through the whole rebuild.
func NewStoreStage(deps Deps) fn.Stage[[]EmbeddedEntry, int] {
	return func(ctx context.Context, embedded []EmbeddedEntry) fn.Result[int] {
		entries := fn.Map(embedded, func(e EmbeddedEntry) domain.CatalogEntry { return e.Entry })
		vectors := fn.Map(embedded, func(e EmbeddedEntry) []float32 { return e.Vector })

		if deps.SnapshotDir != "" {
			if err := catalog.Write(deps.SnapshotDir, deps.Model, entries, vectors); err != nil {
				return fn.Err[int](fmt.Errorf("ingest: snapshot: %w", err))
			}
		}

		if deps.Vector != nil && len(vectors) > 0 {
			if err := deps.Vector.EnsureCollection(ctx, len(vectors[0])); err != nil {
				return fn.Err[int](fmt.Errorf("ingest: ensure collection: %w", err))
			}
			if err := deps.Vector.Upsert(ctx, entries, vectors); err != nil {
				return fn.Err[int](fmt.Errorf("ingest: upsert: %w", err))
			}
			skus := fn.Map(entries, func(e domain.CatalogEntry) string { return e.ID })
			if err := deps.Vector.DeleteStale(ctx, skus); err != nil {
				return fn.Err[int](fmt.Errorf("ingest: delete stale: %w", err))
			}
		}

		return fn.Ok(len(entries))
	}
}

// Run executes the full pipeline over the catalog file at path.
func Run(ctx context.Context, deps Deps, path string) (Stats, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	deps.Logger = log

	start := time.Now()

	loaded, err := LoadStage(ctx, path).Unwrap()
	if err != nil {
		return Stats{}, err
	}
	log.Info("ingest: catalog loaded", "products", len(loaded))

	pipeline := fn.Then(NewValidateStage(log),
		fn.Then(fn.TracedStage("embed", NewEmbedStage(deps)),
			fn.TracedStage("store", NewStoreStage(deps))))

	indexed, err := pipeline(ctx, loaded).Unwrap()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Loaded:   len(loaded),
		Indexed:  indexed,
		Skipped:  len(loaded) - indexed,
		Duration: time.Since(start),
	}
	log.Info("ingest: done", "indexed", stats.Indexed, "skipped", stats.Skipped, "duration", stats.Duration)
	return stats, nil
}
