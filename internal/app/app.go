// Package app assembles the ingestion core's components into a running
// server: the queue, reconciler, orphan retry timer, classifier
// pipeline, dual-store coordinator, and HTTP ingress, wired the way the
// teacher's pkg/server ties its own subsystems together for
// cmd/server/main.go, trimmed to this system's five cooperating tasks
// (spec §5).
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/internal/classifier"
	"github.com/crjfisher/bergamot/internal/config"
	"github.com/crjfisher/bergamot/internal/coordinator"
	"github.com/crjfisher/bergamot/internal/embeddings"
	"github.com/crjfisher/bergamot/internal/ingress"
	"github.com/crjfisher/bergamot/internal/lm"
	"github.com/crjfisher/bergamot/internal/lmpool"
	"github.com/crjfisher/bergamot/internal/queue"
	"github.com/crjfisher/bergamot/internal/reconciler"
	"github.com/crjfisher/bergamot/internal/rules"
	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/internal/telemetry"
	"github.com/crjfisher/bergamot/internal/vectorstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

// App holds every long-lived component the server runs.
type App struct {
	cfg *config.Config

	structStore structstore.Store
	vectorStore vectorstore.Store
	embedder    embeddings.Driver
	pipeline    *classifier.Pipeline
	reconciler  *reconciler.Reconciler
	retryTimer  *reconciler.RetryTimer
	coordinator *coordinator.Coordinator
	pool        *lmpool.Pool
	queue       *queue.Queue

	groupSizes   map[string]int
	groupSizesMu sync.Mutex

	shutdownTelemetry func(context.Context) error
}

// New opens every store and wires the pipeline, but does not yet start
// the consumer loop or the HTTP listener — call Run for that.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	structStore, err := structstore.Open(ctx, cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open structured store: %w", err)
	}

	vectorStore := vectorstore.Open(ctx, filepath.Join(cfg.StoragePath, "vectors"))
	embedder := embeddings.Open(cfg.Classifier.OpenAIAPIKey)

	lmClient := lm.Client(lm.NewOpenAIClient(
		cfg.Classifier.OpenAIAPIKey, "gpt-4o-mini", cfg.Classifier.LMTimeout,
		lm.WithMaxAttempts(cfg.Classifier.LMMaxAttempts),
	))

	pipeline := classifier.New(rules.NewEngine(), lmClient, structStore, classifier.Config{
		AllowedTypes:               toClassifications(cfg.Classifier.AllowedTypes),
		MinConfidence:              cfg.Classifier.MinConfidence,
		EpisodicK:                  cfg.Classifier.EpisodicK,
		EpisodicAgreementThreshold: cfg.Classifier.EpisodicAgreementThreshold,
	})

	a := &App{
		cfg:         cfg,
		structStore: structStore,
		vectorStore: vectorStore,
		embedder:    embedder,
		pipeline:    pipeline,
		reconciler:  reconciler.New(),
		pool:        lmpool.New(cfg.Classifier.LMWorkerPoolSize),
		queue:       queue.New(cfg.Queue.Capacity),
		coordinator:       coordinator.New(vectorStore, structStore, filepath.Join(cfg.StoragePath, "unreconciled.log")),
		groupSizes:        make(map[string]int),
		shutdownTelemetry: shutdownTelemetry,
	}
	a.retryTimer = reconciler.NewRetryTimer(a.reconciler, cfg.Orphan.RetryInterval, cfg.Orphan.MaxAge, cfg.Orphan.MaxRetries, a.onReconnect)

	return a, nil
}

// Run replays any unreconciled structured writes, starts the orphan
// retry timer and the visit consumer, serves HTTP until ctx is
// cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	if replayed, remaining, err := a.coordinator.ReplayUnreconciled(ctx); err != nil {
		log.Error().Err(err).Msg("unreconciled replay failed at startup")
	} else {
		log.Info().Int("replayed", replayed).Int("remaining", remaining).Msg("startup reconciliation complete")
	}

	if err := ingress.WritePortFile(a.cfg.DiscoveryFilePath, a.cfg.Port); err != nil {
		log.Error().Err(err).Msg("failed to write discovery file")
	}
	defer func() {
		if err := ingress.RemovePortFile(a.cfg.DiscoveryFilePath); err != nil {
			log.Error().Err(err).Msg("failed to remove discovery file")
		}
	}()

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	go a.retryTimer.Run(consumerCtx)
	go a.consume(consumerCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      ingress.NewRouter(a.queue, a.cfg.Version),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		a.queue.Close()
		return a.Close()
	case err := <-serveErr:
		a.queue.Close()
		closeErr := a.Close()
		if err != nil {
			return err
		}
		return closeErr
	}
}

// Close releases the underlying stores. Safe to call once.
func (a *App) Close() error {
	var errs []string
	if err := a.vectorStore.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.structStore.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(context.Background()); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close app: %s", strings.Join(errs, "; "))
	}
	return nil
}

// consume drains the queue, one visit at a time, placing each into the
// navigation tree and fanning the resulting placements (a single visit
// can cascade into several via orphan reconnection) out to the bounded
// classification worker pool.
func (a *App) consume(ctx context.Context) {
	for v := range a.queue.C() {
		a.queue.Dequeued()

		placements := a.reconciler.Place(v)
		if err := lmpool.Run(ctx, a.pool, placements, a.processPlacement); err != nil {
			log.Error().Err(err).Msg("visit processing batch failed")
		}
	}
}

func (a *App) onReconnect(p reconciler.Placement) {
	go func() {
		if err := a.processPlacement(context.Background(), p); err != nil {
			log.Error().Err(err).Str("page_id", p.Visit.ID).Msg("failed to process reconnected orphan")
		}
	}()
}

func (a *App) processPlacement(ctx context.Context, p reconciler.Placement) error {
	v := p.Visit
	groupSize := a.incrementGroupSize(v.GroupID)

	content := v.RawContent
	input := models.ClassifierInput{
		URL:            v.URL,
		Title:          v.Title,
		ContentFirst2k: firstN(content, 2000),
		TabGroupSize:   groupSize,
	}

	rules, err := a.structStore.ListRules(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load procedural rules, proceeding with none")
	}

	decision, err := a.pipeline.Classify(ctx, rules, input, v.URL)
	if err != nil {
		log.Error().Err(err).Str("page_id", v.ID).Msg("classification failed")
	}

	now := time.Now().UTC()
	ps := &models.PageSession{
		ID:             v.ID,
		URL:            v.URL,
		PageLoadedAt:   v.PageLoadedAt,
		TabID:          v.TabID,
		OpenerTabID:    v.OpenerTabID,
		GroupID:        v.GroupID,
		Title:          v.Title,
		TreeID:         p.TreeID,
		ParentPageID:   p.ParentPageID,
		Classification: decision.PageType,
		Confidence:     decision.Confidence,
		Reasoning:      decision.Reasoning,
		ShouldProcess:  decision.ShouldProcess,
		ProcessedAt:    now,
	}

	if err := a.structStore.UpsertTree(ctx, &models.Tree{
		TreeID:         p.TreeID,
		RootPageID:     v.ID,
		CreatedAt:      now,
		LastActivityAt: now,
	}); err != nil {
		log.Error().Err(err).Str("tree_id", p.TreeID).Msg("failed to upsert tree")
	}

	if !decision.ShouldProcess {
		if err := a.structStore.CreatePageSession(ctx, ps); err != nil {
			log.Error().Err(err).Str("page_id", v.ID).Msg("failed to persist filtered-out page session")
		}
		return nil
	}

	vectors, err := a.embedder.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		log.Error().Err(err).Str("page_id", v.ID).Msg("embedding failed, discarding visit")
		return nil
	}

	doc := models.VectorDocument{
		Key:       v.ID,
		Content:   content,
		Embedding: toFloat32(vectors[0]),
		Metadata: models.VectorDocMetadata{
			URL:          v.URL,
			Title:        v.Title,
			PageLoadedAt: v.PageLoadedAt,
		},
	}

	return a.coordinator.Commit(ctx, doc, ps)
}

func (a *App) incrementGroupSize(groupID string) int {
	if groupID == "" {
		return 1
	}
	a.groupSizesMu.Lock()
	defer a.groupSizesMu.Unlock()
	a.groupSizes[groupID]++
	return a.groupSizes[groupID]
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toClassifications(in []string) []models.Classification {
	out := make([]models.Classification, len(in))
	for i, s := range in {
		out[i] = models.Classification(s)
	}
	return out
}
