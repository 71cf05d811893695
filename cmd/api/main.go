// Package main implements the Laserbot API server: the Messenger webhook,
// the retrieval API, and health/metrics endpoints. The embedding model is
// loaded in the background at boot; request handling never waits on it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/GuerraLaser/laserbot-mvp/engine/catalog"
	"github.com/GuerraLaser/laserbot-mvp/engine/domain"
	"github.com/GuerraLaser/laserbot-mvp/engine/messenger"
	"github.com/GuerraLaser/laserbot-mvp/engine/readiness"
	"github.com/GuerraLaser/laserbot-mvp/engine/respond"
	"github.com/GuerraLaser/laserbot-mvp/engine/retrieve"
	"github.com/GuerraLaser/laserbot-mvp/pkg/metrics"
	"github.com/GuerraLaser/laserbot-mvp/pkg/mid"
	"github.com/GuerraLaser/laserbot-mvp/pkg/natsutil"
	"github.com/GuerraLaser/laserbot-mvp/pkg/ollama"
)

// InboundSubject carries webhook messages from the HTTP handler to the
// worker so the webhook can ack immediately.
const InboundSubject = "bot.inbound"

var met = metrics.New()

var (
	mInbound  = met.Counter("laserbot_inbound_messages_total", "Messenger messages received")
	mSent     = met.Counter("laserbot_sent_messages_total", "Messenger messages sent")
	mSendErrs = met.Counter("laserbot_send_errors_total", "Messenger send failures")
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	OllamaURL     string
	EmbedModel    string
	ChatModel     string
	IndexBackend  string // "snapshot" or "qdrant"
	SnapshotDir   string
	QdrantURL     string
	Collection    string
	NATSURL       string
	FBVerifyToken string
	FBPageToken   string
	GraphURL      string
	CORSOrigin    string
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8080"),
		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:     envOr("CHAT_MODEL", "llama3.1:8b"),
		IndexBackend:  envOr("INDEX_BACKEND", "snapshot"),
		SnapshotDir:   envOr("SNAPSHOT_DIR", "index"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", catalog.DefaultCollection),
		NATSURL:       envOr("NATS_URL", ""),
		FBVerifyToken: os.Getenv("FB_VERIFY_TOKEN"),
		FBPageToken:   os.Getenv("FB_PAGE_ACCESS_TOKEN"),
		GraphURL:      envOr("FB_GRAPH_URL", ""),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding model: background load, never blocks requests ---
	client := ollama.NewClient(cfg.OllamaURL)
	provider := ollama.NewProvider(client, cfg.EmbedModel)
	gate := readiness.New(func(ctx context.Context) (readiness.Embedder, error) {
		return provider.Load(ctx)
	}, logger)
	gate.StartLoading(ctx)

	// --- Catalog index ---
	var index catalog.Searcher
	var reload func() error
	switch cfg.IndexBackend {
	case "qdrant":
		vs, err := catalog.NewVectorStore(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		index = vs
	default:
		holder, err := newSnapshotHolder(cfg.SnapshotDir)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		index = holder
		reload = holder.Reload
	}

	// --- Services ---
	svc := retrieve.New(gate, index, retrieve.DefaultOptions(), logger, met)
	composer := respond.New(client, respond.Options{
		Model:        cfg.ChatModel,
		Temperature:  0.7,
		SystemPrompt: respond.DefaultOptions().SystemPrompt,
	}, logger)
	sender := messenger.NewClient(cfg.GraphURL, cfg.FBPageToken, logger)

	worker := func(ctx context.Context, in messenger.Inbound) {
		handleInbound(ctx, in, svc, composer, sender, logger)
	}

	// --- Inbound dispatch: NATS when configured, direct goroutine otherwise ---
	dispatch := func(ctx context.Context, in messenger.Inbound) {
		go worker(context.WithoutCancel(ctx), in)
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		sub, err := natsutil.Subscribe(nc, InboundSubject, worker)
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()

		dispatch = func(ctx context.Context, in messenger.Inbound) {
			if err := natsutil.Publish(ctx, nc, InboundSubject, in); err != nil {
				logger.Error("publish inbound failed, handling inline", "err", err)
				go worker(context.WithoutCancel(ctx), in)
			}
		}
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", handleVerify(cfg.FBVerifyToken, logger))
	mux.HandleFunc("POST /webhook", handleWebhook(dispatch, logger))
	mux.HandleFunc("POST /api/retrieve", handleRetrieve(svc, logger))
	mux.HandleFunc("GET /api/health", handleHealth(gate))
	mux.Handle("GET /metrics", met.Handler())
	if reload != nil {
		mux.HandleFunc("POST /api/reload", handleReload(reload, logger))
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("laserbot-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "index_backend", cfg.IndexBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// handleInbound runs one user message through retrieve, respond, send. A
// failure anywhere before the send still answers with the fallback message;
// no inbound message is ever dropped without a reply.
func handleInbound(ctx context.Context, in messenger.Inbound, svc *retrieve.Service, composer *respond.Composer, sender *messenger.Client, logger *slog.Logger) {
	mInbound.Inc()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	kind := "error"
	reply := &respond.Reply{Text: respond.ErrorMessage}

	res, err := svc.Retrieve(ctx, in.Text, 3)
	if err != nil {
		logger.Error("retrieve failed", "sender", in.SenderID, "err", err)
	} else {
		kind = res.Kind.String()
		if r, err := composer.Compose(ctx, in.Text, res); err != nil {
			logger.Error("compose failed", "sender", in.SenderID, "err", err)
		} else {
			reply = r
		}
	}

	if err := sender.Send(ctx, in.SenderID, reply.Text); err != nil {
		mSendErrs.Inc()
		logger.Error("send failed", "sender", in.SenderID, "err", err)
		return
	}
	mSent.Inc()
	logger.Info("message handled", "sender", in.SenderID, "kind", kind, "escalated", reply.Escalated)
}

// --- Handlers ---

func handleVerify(verifyToken string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, err := messenger.VerifyWebhook(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), verifyToken)
		if err != nil {
			logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, strconv.Itoa(challenge))
	}
}

func handleWebhook(dispatch func(context.Context, messenger.Inbound), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		msgs, err := messenger.ParsePayload(body)
		if err != nil {
			logger.Warn("webhook payload rejected", "err", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, in := range msgs {
			dispatch(r.Context(), in)
		}
		// Messenger expects a fast 200 regardless of processing.
		fmt.Fprint(w, "EVENT_RECEIVED")
	}
}

// RetrieveRequest is the JSON body for POST /api/retrieve.
type RetrieveRequest struct {
	Text string `json:"text"`
	K    int    `json:"k,omitempty"`
}

func handleRetrieve(svc *retrieve.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RetrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.K == 0 {
			req.K = 3
		}

		res, err := svc.Retrieve(r.Context(), req.Text, req.K)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleHealth(gate *readiness.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"readiness": gate.State().String(),
		})
	}
}

func handleReload(reload func() error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := reload(); err != nil {
			logger.Error("snapshot reload failed", "err", err)
			http.Error(w, `{"error":"reload failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"reloaded"}`)
	}
}

// --- Snapshot holder ---

// snapshotHolder serves queries from an immutable snapshot and swaps in a
// fresh one on reload, so the indexer can rebuild while the API serves.
type snapshotHolder struct {
	dir  string
	snap atomic.Pointer[catalog.Snapshot]
}

func newSnapshotHolder(dir string) (*snapshotHolder, error) {
	h := &snapshotHolder{dir: dir}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *snapshotHolder) Reload() error {
	snap, err := catalog.Open(h.dir)
	if err != nil {
		return err
	}
	h.snap.Store(snap)
	return nil
}

func (h *snapshotHolder) Query(ctx context.Context, vector []float32, filters []domain.Category, k int) (catalog.QueryResult, error) {
	return h.snap.Load().Query(ctx, vector, filters, k)
}
