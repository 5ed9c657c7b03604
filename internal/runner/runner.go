// Package runner drives full production runs against the batch surface:
// it loads the priority runlist, submits sequential batches, gives failed
// CAMs one retry pass, prices token usage, and writes the run artifacts.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/treadline-ai/treadline/internal/artifact"
	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/runlist"
	"github.com/treadline-ai/treadline/internal/status"
)

const (
	defaultBatchSize = 500

	// maxLoggedFailures caps the failure samples logged per progress report.
	maxLoggedFailures = 3
)

// Progress reports counts over the CAMs processed so far.
type Progress struct {
	Processed int
	Total     int
	Succeeded int
	Failed    int
}

// Summary is the final accounting of a run.
type Summary struct {
	RunID       string
	Attempted   int
	Succeeded   int
	Failed      int
	Usage       domain.Usage
	CostGBP     float64
	ResultsFile string
	StagingFile string
}

// Runner executes one end-to-end production run. The broker is optional:
// without one, 401 responses are treated like any other batch failure.
type Runner struct {
	cfg    config.RunnerConfig
	mode   string
	caller BatchCaller
	broker *auth.Broker
	logger *observability.Logger

	// OnProgress, when set, is invoked after every batch with counts over
	// the CAMs processed so far.
	OnProgress func(p Progress)
}

// New creates a runner. Mode selects local or cloud status handling.
func New(cfg config.RunnerConfig, mode string, caller BatchCaller, broker *auth.Broker, logger *observability.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		mode:   mode,
		caller: caller,
		broker: broker,
		logger: logger.WithOperation("runner"),
	}
}

// Run executes the full run: authenticate, load the runlist, submit
// sequential batches, retry failures once under a derived run id, price
// the usage, and write the result and staging CSVs. Every runlist CAM is
// accounted for in the summary exactly once.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := "global_" + time.Now().Format("20060102_150405")
	log := r.logger.WithRun(runID)

	tracker := status.NewTracker(runID, r.cfg.OutputDir, r.mode, r.logger)
	tracker.SetState(status.StateRunning)

	fail := func(err error) (*Summary, error) {
		log.Error().Err(err).Msg("run failed")
		tracker.Fail(err.Error())
		return nil, err
	}

	if r.broker != nil {
		if err := r.broker.Login(ctx); err != nil {
			return fail(fmt.Errorf("login: %w", err))
		}
	}

	tracker.Log("Loading priority runlist")
	cams, err := runlist.Load(r.cfg.RunlistPath, r.cfg.Total)
	if err != nil {
		return fail(fmt.Errorf("load runlist: %w", err))
	}
	if len(cams) == 0 {
		return fail(fmt.Errorf("runlist %s has no rows", r.cfg.RunlistPath))
	}

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	params := ParamsFromKnobs(r.cfg.Knobs)

	log.Info().Int("cams", len(cams)).Int("batch_size", batchSize).Msg("run started")
	tracker.Log(fmt.Sprintf("Processing %d CAMs in batches of %d", len(cams), batchSize))
	tracker.RecordStage("global")

	results := make([]domain.Recommendation, len(cams))
	var usage domain.Usage

	for start := 0; start < len(cams); start += batchSize {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("run aborted: %w", err))
		}
		end := start + batchSize
		if end > len(cams) {
			end = len(cams)
		}
		r.runBatch(ctx, runID, cams, results, &usage, start, end, params, log)
		r.reportProgress(tracker, log, results[:end], len(cams))
	}

	if retried := r.retryFailed(ctx, runID, cams, results, &usage, batchSize, params, tracker, log); retried {
		tracker.RecordStage("retry")
	}

	summary := &Summary{RunID: runID, Attempted: len(cams), Usage: usage}
	for _, rec := range results {
		if rec.Success {
			summary.Succeeded++
		}
	}
	summary.Failed = summary.Attempted - summary.Succeeded
	tracker.SetProgress(status.Progress{
		Attempted: summary.Attempted,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	})

	report := status.NewCostReport(runID, r.mode, usage, status.CostUnits{
		CAMsAttempted: summary.Attempted,
		CAMsSucceeded: summary.Succeeded,
	}, r.cfg.Prices)
	summary.CostGBP = report.EstimatedCostGBP
	tracker.SetReport(report)
	if err := report.Write(r.cfg.OutputDir); err != nil {
		log.Warn().Err(err).Msg("cost report write failed")
	}

	writer := artifact.NewWriter(r.cfg.OutputDir, r.logger)
	if summary.ResultsFile, err = writer.WriteResults(runID, results); err != nil {
		return fail(fmt.Errorf("write results: %w", err))
	}
	if summary.StagingFile, err = writer.WriteStaging(runID, results); err != nil {
		return fail(fmt.Errorf("write staging: %w", err))
	}
	tracker.SetOutputFile(summary.ResultsFile)

	tracker.Log(fmt.Sprintf("Run complete: %d/%d succeeded", summary.Succeeded, summary.Attempted))
	tracker.SetState(status.StateSuccess)
	tracker.SaveManifest()

	log.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int64("total_tokens", summary.Usage.TotalTokens).
		Float64("cost_gbp", summary.CostGBP).
		Msg("run complete")

	return summary, nil
}

// runBatch submits cams[start:end] and stamps the outcome into results.
// A failed call stamps the whole slice UPSTREAM_ERROR; a short response
// stamps the missing tail. Usage is added once per successful call.
func (r *Runner) runBatch(ctx context.Context, runID string, cams []domain.CAM, results []domain.Recommendation, usage *domain.Usage, start, end int, params domain.BatchParams, log *observability.Logger) {
	batch := cams[start:end]
	res, err := r.callOnce(ctx, runID, batch, params, log)
	if err != nil {
		log.Error().Err(err).Int("start", start).Int("cams", len(batch)).Msg("batch failed")
		for i, cam := range batch {
			results[start+i] = domain.Failed(cam, domain.ErrorCodeUpstreamError, nil)
		}
		return
	}

	usage.Add(res.Usage)
	for i, cam := range batch {
		if i < len(res.Results) {
			results[start+i] = res.Results[i]
		} else {
			results[start+i] = domain.Failed(cam, domain.ErrorCodeUpstreamError, nil)
		}
	}
}

// callOnce performs one batch call with a single 401 recovery: refresh
// credentials, resubmit, and let the second answer stand.
func (r *Runner) callOnce(ctx context.Context, runID string, batch []domain.CAM, params domain.BatchParams, log *observability.Logger) (*domain.BatchResult, error) {
	res, err := r.caller.FetchBatch(ctx, runID, batch, params)
	if err == nil || !IsAuthError(err) || r.broker == nil {
		return res, err
	}

	log.Warn().Msg("session expired, refreshing credentials")
	if rerr := r.broker.Refresh(ctx); rerr != nil {
		return nil, fmt.Errorf("refresh credentials: %w", rerr)
	}
	return r.caller.FetchBatch(ctx, runID, batch, params)
}

// retryFailed gives every failed CAM one more pass through the batch
// surface under runID + "_retry". Only successful rows overwrite; a CAM
// whose retry fails keeps its original failure row. Reports whether a
// retry pass ran.
func (r *Runner) retryFailed(ctx context.Context, runID string, cams []domain.CAM, results []domain.Recommendation, usage *domain.Usage, batchSize int, params domain.BatchParams, tracker *status.Tracker, log *observability.Logger) bool {
	var failedIdx []int
	for i, rec := range results {
		if !rec.Success {
			failedIdx = append(failedIdx, i)
		}
	}
	if len(failedIdx) == 0 {
		return false
	}

	retryID := runID + "_retry"
	log.Info().Int("cams", len(failedIdx)).Str("retry_run_id", retryID).Msg("retrying failed CAMs")
	tracker.Log(fmt.Sprintf("Retrying %d failed CAMs", len(failedIdx)))

	for start := 0; start < len(failedIdx); start += batchSize {
		if ctx.Err() != nil {
			log.Warn().Msg("retry pass aborted, keeping original failures")
			return true
		}
		end := start + batchSize
		if end > len(failedIdx) {
			end = len(failedIdx)
		}
		chunk := failedIdx[start:end]

		batch := make([]domain.CAM, len(chunk))
		for i, idx := range chunk {
			batch[i] = cams[idx]
		}

		res, err := r.callOnce(ctx, retryID, batch, params, log)
		if err != nil {
			log.Error().Err(err).Int("cams", len(batch)).Msg("retry batch failed")
			continue
		}

		usage.Add(res.Usage)
		for i, idx := range chunk {
			if i < len(res.Results) && res.Results[i].Success {
				results[idx] = res.Results[i]
			}
		}
	}
	return true
}

// reportProgress records counts over the processed prefix and samples a
// few failures into the log so operators see what is going wrong without
// waiting for the artifacts.
func (r *Runner) reportProgress(tracker *status.Tracker, log *observability.Logger, processed []domain.Recommendation, total int) {
	succeeded := 0
	var samples []domain.Recommendation
	for _, rec := range processed {
		if rec.Success {
			succeeded++
		} else if len(samples) < maxLoggedFailures {
			samples = append(samples, rec)
		}
	}
	attempted := len(processed)
	failed := attempted - succeeded

	tracker.SetProgress(status.Progress{Attempted: attempted, Succeeded: succeeded, Failed: failed})
	tracker.Log(fmt.Sprintf("Progress: %d/%d processed, %d succeeded, %d failed", attempted, total, succeeded, failed))
	log.Info().
		Int("processed", attempted).
		Int("total", total).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("batch progress")
	for _, rec := range samples {
		log.Warn().
			Str("vehicle", rec.Vehicle).
			Str("size", rec.Size).
			Str("error_code", string(rec.ErrorCode)).
			Msg("CAM failed")
	}

	if r.OnProgress != nil {
		r.OnProgress(Progress{Processed: attempted, Total: total, Succeeded: succeeded, Failed: failed})
	}
}
