// Package retrieve orchestrates the readiness-gated hybrid retrieval pipeline.
// It accepts raw query text, decides between the semantic path (embed + vector
// search) and the keyword fallback, and returns one of three result tiers:
// ranked products, category suggestions, or an explicit no-match signal.
//
// "Not ready yet" and "nothing found" are steady-state conditions here, never
// errors: only caller contract violations propagate as errors.
package retrieve

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
	"github.com/GuerraLaser/laserbot-mvp/engine/keyword"
	"github.com/GuerraLaser/laserbot-mvp/engine/readiness"
	"github.com/GuerraLaser/laserbot-mvp/pkg/metrics"
	"github.com/GuerraLaser/laserbot-mvp/pkg/resilience"
)

// Gate is the readiness surface the orchestrator needs.
type Gate interface {
	IsReady() bool
	Embedder() (readiness.Embedder, error)
}

// Options configures the retrieval pipeline.
type Options struct {
	// SearchTimeout bounds the semantic path per query.
	SearchTimeout time.Duration
	// Breaker guards the embed + vector search calls; a tripped breaker
	// degrades to the fallback path instead of failing the query.
	Breaker *resilience.Breaker
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		SearchTimeout: 5 * time.Second,
		Breaker:       resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// degrade reasons, tracked so each transition is logged once, not per query.
const (
	condSemantic int32 = iota
	condNotReady
	condIndexMissing
	condSemanticError
)

// Service is the retrieval orchestrator and the sole entry point the
// message-handling layer calls.
type Service struct {
	gate   Gate
	index  catalog.Searcher
	opts   Options
	logger *slog.Logger

	lastCond atomic.Int32

	met       *metrics.Registry
	mDuration *metrics.Histogram
}

// New creates a retrieval Service.
func New(gate Gate, index catalog.Searcher, opts Options, logger *slog.Logger, met *metrics.Registry) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	s := &Service{
		gate:   gate,
		index:  index,
		opts:   opts,
		logger: logger,
		met:    met,
	}
	s.lastCond.Store(condSemantic)
	if met != nil {
		s.mDuration = met.Histogram("laserbot_retrieve_duration_seconds", "End-to-end retrieval time", nil)
	}
	return s
}

// Retrieve answers a product query with up to k ranked entries, degrading to
// category suggestions and finally an explicit no-match signal. It never
// blocks on model loading and completes in bounded time regardless of the
// loader's progress.
func (s *Service) Retrieve(ctx context.Context, text string, k int) (*Result, error) {
	start := time.Now()

	// Filter inference runs on the same keyword table as the fallback, as a
	// hint only; it must not reject the query.
	filters := keyword.InferFilters(text)

	if err := domain.ValidateRetrieval(text, k, filters); err != nil {
		return nil, err
	}

	res := s.retrieve(ctx, text, filters, k)

	if s.met != nil {
		s.met.Counter(metrics.WithLabels("laserbot_retrievals_total", "kind", res.Kind.String()),
			"Retrievals by result kind").Inc()
		s.mDuration.Since(start)
	}
	return res, nil
}

func (s *Service) retrieve(ctx context.Context, text string, filters []domain.Category, k int) *Result {
	if !s.gate.IsReady() {
		s.noteDegrade(condNotReady, "embedder not ready, serving keyword fallback")
		return suggestionsResult(keyword.Suggest(text))
	}

	hits, available, err := s.semantic(ctx, text, filters, k)
	if err != nil {
		// Infra trouble on a ready path (embedder flake, vector store down,
		// breaker open). Degrade rather than surface an error to the caller.
		s.noteDegrade(condSemanticError, "semantic path failed, serving keyword fallback", "err", err)
		return suggestionsResult(keyword.Suggest(text))
	}
	if !available {
		s.noteDegrade(condIndexMissing, "catalog index not built, serving keyword fallback")
		return suggestionsResult(keyword.Suggest(text))
	}

	s.noteRecovered()

	if len(hits) == 0 {
		// Semantic search found nothing: still attempt category suggestion
		// before giving up.
		return suggestionsResult(keyword.Suggest(text))
	}
	return productsResult(hits)
}

// semantic runs embed + vector search under the timeout and breaker.
func (s *Service) semantic(ctx context.Context, text string, filters []domain.Category, k int) (hits []catalog.Hit, available bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	run := func(ctx context.Context) error {
		emb, err := s.gate.Embedder()
		if err != nil {
			return err
		}
		vector, err := emb.Embed(ctx, text)
		if err != nil {
			return err
		}
		res, err := s.index.Query(ctx, vector, filters, k)
		if err != nil {
			return err
		}
		hits, available = res.Hits, res.Available
		return nil
	}

	if s.opts.Breaker != nil {
		err = s.opts.Breaker.Call(ctx, run)
	} else {
		err = run(ctx)
	}
	return hits, available, err
}

// noteDegrade logs a degraded condition once per transition into it.
func (s *Service) noteDegrade(cond int32, msg string, args ...any) {
	if s.lastCond.Swap(cond) != cond {
		s.logger.Warn(msg, args...)
	}
}

// noteRecovered logs once when the semantic path comes back.
func (s *Service) noteRecovered() {
	if s.lastCond.Swap(condSemantic) != condSemantic {
		s.logger.Info("semantic search active")
	}
}
