package runner

import (
	"context"
	"errors"
	"net/http"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/engine"
	"github.com/treadline-ai/treadline/pkg/client"
)

// BatchCaller submits one batch of CAMs under a run id and returns
// index-aligned results.
type BatchCaller interface {
	FetchBatch(ctx context.Context, runID string, cams []domain.CAM, params domain.BatchParams) (*domain.BatchResult, error)
}

// HTTPCaller submits batches to a remote treadline deployment through the
// public SDK.
type HTTPCaller struct {
	client *client.Client
}

var _ BatchCaller = (*HTTPCaller)(nil)

// NewHTTPCaller wraps an SDK client as a BatchCaller.
func NewHTTPCaller(c *client.Client) *HTTPCaller {
	return &HTTPCaller{client: c}
}

// FetchBatch converts to the wire types, calls the batch endpoint, and
// converts the response back.
func (h *HTTPCaller) FetchBatch(ctx context.Context, runID string, cams []domain.CAM, params domain.BatchParams) (*domain.BatchResult, error) {
	req := client.BatchRequest{
		RunID:  runID,
		CAMs:   make([]client.CAM, len(cams)),
		Params: wireParams(params),
	}
	for i, cam := range cams {
		req.CAMs[i] = client.CAM{Vehicle: cam.Vehicle, Size: cam.Size}
	}

	resp, err := h.client.FetchBatch(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &domain.BatchResult{
		RunID:   resp.RunID,
		Results: make([]domain.Recommendation, len(resp.Results)),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for i, r := range resp.Results {
		rec := domain.Recommendation{
			Vehicle:   r.Vehicle,
			Size:      r.Size,
			HB1:       r.HB1,
			HB2:       r.HB2,
			HB3:       r.HB3,
			HB4:       r.HB4,
			SKUs:      r.SKUs,
			Success:   r.Success,
			ErrorCode: domain.ErrorCode(r.ErrorCode),
		}
		if r.Usage != nil {
			rec.Usage = &domain.Usage{
				PromptTokens:     r.Usage.PromptTokens,
				CompletionTokens: r.Usage.CompletionTokens,
				TotalTokens:      r.Usage.TotalTokens,
			}
		}
		out.Results[i] = rec
	}
	return out, nil
}

func wireParams(p domain.BatchParams) client.BatchParams {
	return client.BatchParams{
		GoldilocksZonePct:     p.GoldilocksZonePct,
		PriceFluctuationUpper: p.PriceFluctuationUpper,
		PriceFluctuationLower: p.PriceFluctuationLower,
		BrandEnhancer:         p.BrandEnhancer,
		ModelEnhancer:         p.ModelEnhancer,
		Season:                p.Season,
		Pod:                   p.Pod,
		Segment:               p.Segment,
		DisableSearch:         p.DisableSearch,
	}
}

// EngineCaller runs batches against an in-process engine. Local
// deployments use it to skip the HTTP hop entirely.
type EngineCaller struct {
	engine engine.BatchRunner
}

var _ BatchCaller = (*EngineCaller)(nil)

// NewEngineCaller wraps a batch engine as a BatchCaller.
func NewEngineCaller(e engine.BatchRunner) *EngineCaller {
	return &EngineCaller{engine: e}
}

// FetchBatch delegates to the engine directly.
func (e *EngineCaller) FetchBatch(ctx context.Context, runID string, cams []domain.CAM, params domain.BatchParams) (*domain.BatchResult, error) {
	return e.engine.ProcessBatch(ctx, domain.BatchRun{RunID: runID, CAMs: cams, Params: params})
}

// IsAuthError reports whether err is an HTTP 401 from the batch surface.
func IsAuthError(err error) bool {
	var se *client.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// ParamsFromKnobs converts configured tuning knobs into batch parameters.
// DisableSearch is always sent explicitly so a differently configured
// engine default cannot flip a run's search behaviour.
func ParamsFromKnobs(knobs config.KnobConfig) domain.BatchParams {
	disable := knobs.DisableSearch
	return domain.BatchParams{
		GoldilocksZonePct:     knobs.GoldilocksZonePct,
		PriceFluctuationUpper: knobs.PriceFluctuationUpper,
		PriceFluctuationLower: knobs.PriceFluctuationLower,
		BrandEnhancer:         knobs.BrandEnhancer,
		ModelEnhancer:         knobs.ModelEnhancer,
		Season:                knobs.Season,
		DisableSearch:         &disable,
	}
}
