package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/genai"
	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/prompt"
)

// CandidateSource is the catalog surface the worker falls back to when a
// prefetched batch misses a size.
type CandidateSource interface {
	Fetch(ctx context.Context, size, vehicle string) []catalog.CandidateRow
}

// Worker runs the full pipeline for one vehicle/size pair: candidate
// lookup, prompt construction, model call, parse, backfill, and failure
// classification. Workers are stateless and safe to share across
// goroutines.
type Worker struct {
	store      CandidateSource
	builder    *prompt.Builder
	model      genai.Generator
	camTimeout time.Duration
	logger     *observability.Logger
}

// NewWorker wires the per-CAM pipeline. camTimeout bounds a single CAM's
// wall time; zero disables the per-CAM deadline and leaves the caller's
// context in charge.
func NewWorker(store CandidateSource, builder *prompt.Builder, model genai.Generator, camTimeout time.Duration, logger *observability.Logger) *Worker {
	return &Worker{
		store:      store,
		builder:    builder,
		model:      model,
		camTimeout: camTimeout,
		logger:     logger,
	}
}

// Process produces the recommendation row for one CAM. On pipeline
// failure it retries the whole pipeline once and sums the usage of both
// attempts; input rejection and empty catalogs are terminal immediately.
func (w *Worker) Process(ctx context.Context, cam domain.CAM, prefetched map[string][]catalog.CandidateRow, params domain.BatchParams) domain.Recommendation {
	if !cam.Viable() {
		out := cam
		if out.Vehicle == "" {
			out.Vehicle = "Unknown"
		}
		if out.Size == "" {
			out.Size = "Unknown"
		}
		return domain.Failed(out, domain.ErrorCodeInvalidInput, nil)
	}

	log := w.logger.WithCAM(cam.Vehicle, cam.Size)

	rows := prefetched[normalize.Size(cam.Size)]
	if len(rows) > 0 {
		rows = catalog.FilterByVehicle(rows, cam.Vehicle)
	}
	if len(rows) == 0 && w.store != nil {
		rows = w.store.Fetch(ctx, cam.Size, cam.Vehicle)
	}
	if len(rows) == 0 {
		log.Warn().Msg("no candidate rows, rejecting without model call")
		return domain.Failed(cam, domain.ErrorCodeNoResults, nil)
	}

	if w.camTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.camTimeout)
		defer cancel()
	}

	rec, usage, err := w.attempt(ctx, cam, rows, params)
	if err == nil && rec.Success {
		u := usage
		rec.Usage = &u
		return rec
	}

	log.Warn().Err(err).Msg("first attempt failed, retrying")

	rec, retryUsage, retryErr := w.attempt(ctx, cam, rows, params)
	usage.Add(retryUsage)
	if retryErr == nil && rec.Success {
		u := usage
		rec.Usage = &u
		return rec
	}

	code := classify(retryErr)
	log.Error().Err(retryErr).Str("error_code", string(code)).Msg("recommendation failed")

	var collected *domain.Usage
	if !usage.IsZero() {
		u := usage
		collected = &u
	}
	return domain.Failed(cam, code, collected)
}

// attempt runs prompt -> model -> parse -> backfill once. A nil error
// means the pipeline completed; rec.Success still reports whether the
// hotboxes survived backfill. Usage is returned even when the model call
// failed partway through a stream.
func (w *Worker) attempt(ctx context.Context, cam domain.CAM, rows []catalog.CandidateRow, params domain.BatchParams) (domain.Recommendation, domain.Usage, error) {
	text, err := w.builder.Build(cam, rows, params)
	if err != nil {
		return domain.Recommendation{}, domain.Usage{}, fmt.Errorf("build prompt: %w", err)
	}

	// Search grounding is off in the batch path unless explicitly enabled.
	disableSearch := true
	if params.DisableSearch != nil {
		disableSearch = *params.DisableSearch
	}

	res, err := w.model.Generate(ctx, text, genai.Options{DisableSearch: disableSearch})
	var usage domain.Usage
	if res != nil {
		usage = res.Usage
	}
	if err != nil {
		return domain.Recommendation{}, usage, err
	}

	slots, err := Parse(res.Text, cam.Vehicle, cam.Size)
	if err != nil {
		return domain.Recommendation{}, usage, err
	}

	final, ok := Backfill(slots, rows)
	rec := domain.Recommendation{Vehicle: cam.Vehicle, Size: cam.Size, Success: ok}
	rec.SetSlots(final)
	return rec, usage, nil
}

// classify maps the terminal pipeline error to a wire error code. The
// deadline check runs before the model-error check: the model client wraps
// cancelled transports in its API error, and those must surface as
// timeouts, not upstream failures.
func classify(err error) domain.ErrorCode {
	switch {
	case err == nil:
		// Pipeline completed but the hotboxes stayed invalid.
		return domain.ErrorCodeUpstreamError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.ErrorCodeTimeout
	case errors.Is(err, ErrUnparsable):
		return domain.ErrorCodeFormatError
	}

	var apiErr *genai.APIError
	var streamErr *genai.StreamError
	var genErr *genai.GenerationError
	if errors.As(err, &apiErr) || errors.As(err, &streamErr) || errors.As(err, &genErr) {
		return domain.ErrorCodeUpstreamError
	}

	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "TIMEOUT"):
		return domain.ErrorCodeTimeout
	case strings.Contains(msg, "API"):
		return domain.ErrorCodeUpstreamError
	}
	return domain.ErrorCodeInternalError
}
