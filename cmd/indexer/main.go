// Command indexer rebuilds the catalog index from a JSONL export. It embeds
// every product through Ollama and writes the on-disk snapshot, the Qdrant
// collection, or both. The running API keeps serving the old index until the
// snapshot swap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/ingest"
	"github.com/GuerraLaser/laserbot-mvp/engine/readiness"
	"github.com/GuerraLaser/laserbot-mvp/pkg/metrics"
	"github.com/GuerraLaser/laserbot-mvp/pkg/ollama"
)

var met = metrics.New()

var (
	mRuns     = met.Counter("laserbot_indexer_runs_total", "Index rebuilds attempted")
	mIndexed  = met.Gauge("laserbot_indexer_entries", "Entries written by the last run")
	mDuration = met.Histogram("laserbot_indexer_duration_seconds", "Full pipeline time", nil)
)

func main() {
	var (
		catalogPath = flag.String("catalog", "contexto_bot.jsonl", "catalog JSONL export")
		snapshotDir = flag.String("snapshot", "index", "snapshot output directory (empty to skip)")
		qdrant      = flag.Bool("qdrant", false, "also upsert into Qdrant")
		workers     = flag.Int("workers", 4, "concurrent embed workers")
		embedRPS    = flag.Float64("embed-rps", 20, "embed requests per second (0 = unthrottled)")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port (0 = off)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*catalogPath, *snapshotDir, *qdrant, *workers, *embedRPS, *metricsPort, logger); err != nil {
		logger.Error("indexer failed", "err", err)
		os.Exit(1)
	}
}

func run(catalogPath, snapshotDir string, useQdrant bool, workers int, embedRPS float64, metricsPort int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_ = godotenv.Load()

	if metricsPort > 0 {
		met.ServeAsync(metricsPort)
	}

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	model := envOr("EMBED_MODEL", "nomic-embed-text")

	provider := ollama.NewProvider(ollama.NewClient(ollamaURL), model)
	gate := readiness.New(func(ctx context.Context) (readiness.Embedder, error) {
		return provider.Load(ctx)
	}, logger)
	gate.StartLoading(ctx)

	// Offline tool: unlike the API, blocking on the model load is fine here.
	if err := gate.AwaitReady(ctx, 2*time.Minute); err != nil {
		return fmt.Errorf("embedder load: %w", err)
	}
	embedder, err := gate.Embedder()
	if err != nil {
		return err
	}

	deps := ingest.Deps{
		Embedder:    embedder,
		Model:       model,
		SnapshotDir: snapshotDir,
		Workers:     workers,
		Logger:      logger,
	}
	if embedRPS > 0 {
		deps.Limiter = rate.NewLimiter(rate.Limit(embedRPS), workers)
	}
	if useQdrant {
		vs, err := catalog.NewVectorStore(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", catalog.DefaultCollection))
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		deps.Vector = vs
	}

	mRuns.Inc()
	start := time.Now()
	stats, err := ingest.Run(ctx, deps, catalogPath)
	mDuration.Since(start)
	if err != nil {
		return err
	}
	mIndexed.Set(int64(stats.Indexed))

	logger.Info("index rebuilt",
		"loaded", stats.Loaded,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"duration", stats.Duration)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
