// Package engine assembles recommendation batches: candidates are
// bulk-prefetched, per-CAM tasks fan out over a bounded worker pool under
// a hard batch deadline, and results come back aligned to the input order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/recommend"
)

// ErrBatchTooLarge rejects oversized batch requests. The API surface maps
// it to HTTP 400.
var ErrBatchTooLarge = errors.New("batch exceeds the maximum CAM count")

// Prefetcher bulk-loads candidate rows for a set of sizes before the
// worker pool fans out.
type Prefetcher interface {
	FetchBatch(ctx context.Context, sizes []string) map[string][]catalog.CandidateRow
}

// BatchRunner is the batch surface. Engine implements it; callers that
// proxy to a remote engine implement it too.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, run domain.BatchRun) (*domain.BatchResult, error)
}

// Engine drives batch recommendation runs.
type Engine struct {
	store      Prefetcher
	worker     *recommend.Worker
	maxWorkers int
	maxCAMs    int
	deadline   time.Duration
	logger     *observability.Logger
}

var _ BatchRunner = (*Engine)(nil)

// NewEngine creates a batch engine. Zero config values fall back to the
// operational defaults: 10 workers, a 120 second batch deadline, and a
// 500 CAM ceiling per batch.
func NewEngine(store Prefetcher, worker *recommend.Worker, cfg config.EngineConfig, logger *observability.Logger) *Engine {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	deadline := cfg.BatchDeadline
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	maxCAMs := cfg.MaxBatchCAMs
	if maxCAMs <= 0 {
		maxCAMs = 500
	}
	return &Engine{
		store:      store,
		worker:     worker,
		maxWorkers: maxWorkers,
		maxCAMs:    maxCAMs,
		deadline:   deadline,
		logger:     logger,
	}
}

// ProcessBatch runs one batch. Every input CAM yields exactly one result
// at its own index; CAMs still unfinished when the batch deadline expires
// are stamped TIMEOUT. The summed usage covers every model call the batch
// made, retries included.
func (e *Engine) ProcessBatch(ctx context.Context, run domain.BatchRun) (*domain.BatchResult, error) {
	if len(run.CAMs) > e.maxCAMs {
		return nil, fmt.Errorf("%w: got %d, limit %d", ErrBatchTooLarge, len(run.CAMs), e.maxCAMs)
	}

	log := e.logger.WithRun(run.RunID)
	start := time.Now()
	log.Info().Int("cams", len(run.CAMs)).Int("workers", e.maxWorkers).Msg("batch started")

	// Bulk-fetch once per batch; the sizes are deduplicated downstream.
	sizes := make([]string, 0, len(run.CAMs))
	for _, cam := range run.CAMs {
		if cam.Size != "" {
			sizes = append(sizes, cam.Size)
		}
	}
	var prefetched map[string][]catalog.CandidateRow
	if e.store != nil && len(sizes) > 0 {
		prefetched = e.store.FetchBatch(ctx, sizes)
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	type workItem struct {
		index int
		cam   domain.CAM
	}

	workChan := make(chan workItem, len(run.CAMs))
	results := make([]domain.Recommendation, len(run.CAMs))
	completed := make([]bool, len(run.CAMs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var usage domain.Usage

	for i, cam := range run.CAMs {
		workChan <- workItem{index: i, cam: cam}
	}
	close(workChan)

	for i := 0; i < e.maxWorkers && i < len(run.CAMs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if batchCtx.Err() != nil {
					continue // deadline passed, drain remaining work
				}
				rec := e.worker.Process(batchCtx, item.cam, prefetched, run.Params)

				mu.Lock()
				if !completed[item.index] {
					completed[item.index] = true
					results[item.index] = rec
					if rec.Usage != nil {
						usage.Add(*rec.Usage)
					}
				}
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
		log.Warn().Dur("deadline", e.deadline).Msg("batch deadline hit, stamping unfinished slots")
	}

	// Unwritten slots get the canonical timeout row. Workers that finish
	// after this point see completed[i] and discard their result.
	mu.Lock()
	timedOut := 0
	for i := range results {
		if !completed[i] {
			completed[i] = true
			results[i] = domain.Failed(run.CAMs[i], domain.ErrorCodeTimeout, nil)
			timedOut++
		}
	}
	out := make([]domain.Recommendation, len(results))
	copy(out, results)
	total := usage
	mu.Unlock()

	succeeded := 0
	for _, r := range out {
		if r.Success {
			succeeded++
		}
	}
	log.Info().
		Int("cams", len(run.CAMs)).
		Int("succeeded", succeeded).
		Int("failed", len(out)-succeeded).
		Int("timed_out", timedOut).
		Int64("total_tokens", total.TotalTokens).
		Dur("elapsed", time.Since(start)).
		Msg("batch complete")

	return &domain.BatchResult{RunID: run.RunID, Results: out, Usage: total}, nil
}
