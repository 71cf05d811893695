// Package readiness tracks the embedding provider's lifecycle so the request
// path can check semantic-search availability without ever blocking on model
// initialization.
package readiness

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is the loader lifecycle state. Transitions only move forward:
// Uninitialized → Loading → {Ready, Failed}. Failed is terminal for the
// process lifetime; recovery is an operator restart (or a fresh Gate).
type State int32

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNotReady     = errors.New("readiness: embedder not ready")
	ErrLoadFailed   = errors.New("readiness: embedder load failed")
	ErrAwaitTimeout = errors.New("readiness: await timed out")
)

// Embedder is the handle published by a successful load.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LoadFunc performs the one-time model load. Invoked at most once per Gate.
type LoadFunc func(ctx context.Context) (Embedder, error)

// snapshot is the immutable published state. State and handle live in one
// allocation behind a single atomic pointer, so readers never observe a ready
// flag without the handle that goes with it.
type snapshot struct {
	state    State
	embedder Embedder
	err      error
}

// Gate gates the semantic search path on the embedder being loaded.
type Gate struct {
	snap   atomic.Pointer[snapshot]
	done   chan struct{} // closed when a terminal state is published
	load   LoadFunc
	logger *slog.Logger
}

// New creates a Gate in the Uninitialized state.
func New(load LoadFunc, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		done:   make(chan struct{}),
		load:   load,
		logger: logger,
	}
	g.snap.Store(&snapshot{state: Uninitialized})
	return g
}

// StartLoading transitions Uninitialized → Loading and schedules the load in
// the background. Idempotent: once Loading or terminal, it is a no-op. Never
// blocks the caller.
func (g *Gate) StartLoading(ctx context.Context) {
	cur := g.snap.Load()
	if cur.state != Uninitialized {
		return
	}
	// Exactly one caller wins the CAS; the rest see Loading and return.
	if !g.snap.CompareAndSwap(cur, &snapshot{state: Loading}) {
		return
	}

	g.logger.Info("embedder load started")
	go g.runLoad(ctx)
}

// runLoad is the single background loader. It is the only writer after the
// Loading transition, so a plain Store publishes the terminal snapshot.
func (g *Gate) runLoad(ctx context.Context) {
	start := time.Now()
	h, err := g.load(ctx)
	if err != nil {
		g.snap.Store(&snapshot{state: Failed, err: err})
		// Logged once here, at the transition; queries fall back silently.
		g.logger.Error("embedder load failed, semantic search disabled",
			"err", err, "duration", time.Since(start))
	} else {
		g.snap.Store(&snapshot{state: Ready, embedder: h})
		g.logger.Info("embedder ready", "duration", time.Since(start))
	}
	close(g.done)
}

// IsReady reports whether semantic search may be used. Non-blocking, safe from
// any goroutine.
func (g *Gate) IsReady() bool {
	return g.snap.Load().state == Ready
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	return g.snap.Load().state
}

// Embedder returns the loaded handle. Returns ErrNotReady before the load
// completes and ErrLoadFailed (wrapping the load error) after a failed load.
func (g *Gate) Embedder() (Embedder, error) {
	s := g.snap.Load()
	switch s.state {
	case Ready:
		return s.embedder, nil
	case Failed:
		return nil, errors.Join(ErrLoadFailed, s.err)
	default:
		return nil, ErrNotReady
	}
}

// AwaitReady blocks until a terminal state or the timeout. Intended for
// offline tooling only; the request path must use IsReady.
func (g *Gate) AwaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
		_, err := g.Embedder()
		return err
	case <-timer.C:
		return ErrAwaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
