package runner

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/status"
	"github.com/treadline-ai/treadline/pkg/client"
)

func testRunnerLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func writeTestRunlist(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Vehicle,Size\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "Car %d,205/55 R16\n", i)
	}
	path := filepath.Join(t.TempDir(), "runlist.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

type stubCall struct {
	runID string
	cams  []domain.CAM
}

// stubCaller hands each call to handle with its zero-based call index.
type stubCaller struct {
	mu     sync.Mutex
	calls  []stubCall
	handle func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error)
}

func (s *stubCaller) FetchBatch(ctx context.Context, runID string, cams []domain.CAM, params domain.BatchParams) (*domain.BatchResult, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, stubCall{runID: runID, cams: cams})
	s.mu.Unlock()
	return s.handle(n, runID, cams)
}

// okBatch builds an all-success result with one usage sample per call.
func okBatch(runID string, cams []domain.CAM, prompt, completion int64) *domain.BatchResult {
	out := &domain.BatchResult{
		RunID: runID,
		Usage: domain.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}
	for _, cam := range cams {
		rec := domain.Recommendation{Vehicle: cam.Vehicle, Size: cam.Size, Success: true}
		rec.SetSlots([]string{"1234567", "2345678", "3456789", "4567890", "5678901"})
		out.Results = append(out.Results, rec)
	}
	return out
}

func newTestRunner(t *testing.T, caller BatchCaller, rows, batchSize int) (*Runner, string) {
	t.Helper()
	outDir := t.TempDir()
	cfg := config.RunnerConfig{
		RunlistPath: writeTestRunlist(t, rows),
		OutputDir:   outDir,
		BatchSize:   batchSize,
		Knobs:       config.KnobConfig{GoldilocksZonePct: 15, DisableSearch: true},
		Prices:      config.PriceConfig{InputPerMillion: 0.07, OutputPerMillion: 0.29},
	}
	return New(cfg, "local", caller, nil, testRunnerLogger()), outDir
}

func readResultRows(t *testing.T, outDir, name string) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(outDir, name))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[1:]
}

func TestRunner_RunAllCAMsSucceed(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		return okBatch(runID, cams, 100, 50), nil
	}}
	r, outDir := newTestRunner(t, stub, 10, 4)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(summary.RunID, "global_"))
	assert.Equal(t, 10, summary.Attempted)
	assert.Equal(t, 10, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, stub.calls, 3)
	assert.Len(t, stub.calls[0].cams, 4)
	assert.Len(t, stub.calls[1].cams, 4)
	assert.Len(t, stub.calls[2].cams, 2)
	for _, call := range stub.calls {
		assert.Equal(t, summary.RunID, call.runID)
	}

	assert.FileExists(t, filepath.Join(outDir, summary.ResultsFile))
	assert.FileExists(t, filepath.Join(outDir, summary.StagingFile))
	assert.Len(t, readResultRows(t, outDir, summary.ResultsFile), 10)

	snap, err := status.ReadSnapshot(outDir)
	require.NoError(t, err)
	assert.Equal(t, status.StateSuccess, snap.State)
	assert.Equal(t, summary.RunID, snap.RunID)
	assert.Equal(t, status.Progress{Attempted: 10, Succeeded: 10, Failed: 0}, snap.Progress)
	require.NotNil(t, snap.OutputFile)
	assert.Equal(t, summary.ResultsFile, *snap.OutputFile)
}

func TestRunner_RetryPassRecoversFailures(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 1 {
			return nil, errors.New("upstream exploded")
		}
		return okBatch(runID, cams, 10, 5), nil
	}}
	r, _ := newTestRunner(t, stub, 10, 5)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	// Main pass made two calls; the failed second batch came back once
	// more under the derived retry run id.
	require.Len(t, stub.calls, 3)
	assert.Equal(t, summary.RunID+"_retry", stub.calls[2].runID)
	assert.Equal(t, stub.calls[1].cams, stub.calls[2].cams)

	// Usage counts the two successful calls only.
	assert.Equal(t, int64(30), summary.Usage.TotalTokens)
}

func TestRunner_RetryFailureKeepsOriginalRow(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 0 {
			return okBatch(runID, cams, 10, 5), nil
		}
		return nil, errors.New("still broken")
	}}
	r, outDir := newTestRunner(t, stub, 10, 5)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 5, summary.Failed)

	rows := readResultRows(t, outDir, summary.ResultsFile)
	errorRows := 0
	for _, row := range rows {
		if row[2] == "Error" {
			errorRows++
		}
	}
	assert.Equal(t, 5, errorRows)
}

func TestRunner_SessionExpiryRefreshesAndResubmits(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 0 {
			return nil, &client.StatusError{StatusCode: http.StatusUnauthorized}
		}
		return okBatch(runID, cams, 10, 5), nil
	}}

	broker, err := auth.NewBroker("http://127.0.0.1:1", config.AuthConfig{Mode: "local"}, nil, testRunnerLogger())
	require.NoError(t, err)

	outDir := t.TempDir()
	cfg := config.RunnerConfig{
		RunlistPath: writeTestRunlist(t, 5),
		OutputDir:   outDir,
		BatchSize:   5,
		Prices:      config.PriceConfig{InputPerMillion: 0.07, OutputPerMillion: 0.29},
	}
	r := New(cfg, "local", stub, broker, testRunnerLogger())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	// Same run id on both calls: a resubmit, not a retry pass.
	require.Len(t, stub.calls, 2)
	assert.Equal(t, stub.calls[0].runID, stub.calls[1].runID)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
}

func TestRunner_AuthErrorWithoutBrokerIsFailure(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		return nil, &client.StatusError{StatusCode: http.StatusUnauthorized}
	}}
	r, _ := newTestRunner(t, stub, 4, 4)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	// One main call, one retry pass call, no resubmits in between.
	assert.Len(t, stub.calls, 2)
	assert.Equal(t, 4, summary.Failed)
}

func TestRunner_UsageAndCostAccounting(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 1 {
			return nil, errors.New("transient")
		}
		return okBatch(runID, cams, 500_000, 250_000), nil
	}}
	r, _ := newTestRunner(t, stub, 4, 2)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	// Two successful calls: the first main batch and the retry of the
	// second. The failed call contributes nothing.
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, int64(1_000_000), summary.Usage.PromptTokens)
	assert.Equal(t, int64(500_000), summary.Usage.CompletionTokens)

	// 1M prompt at 0.07 plus 0.5M completion at 0.29 per million.
	assert.InDelta(t, 0.215, summary.CostGBP, 1e-9)
}

func TestRunner_EmptyRunlistFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlist.csv")
	require.NoError(t, os.WriteFile(path, []byte("Vehicle,Size\n"), 0o644))

	outDir := t.TempDir()
	cfg := config.RunnerConfig{RunlistPath: path, OutputDir: outDir, BatchSize: 5}
	stub := &stubCaller{handle: func(int, string, []domain.CAM) (*domain.BatchResult, error) {
		return nil, errors.New("should not be called")
	}}
	r := New(cfg, "local", stub, nil, testRunnerLogger())

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows")
	assert.Empty(t, stub.calls)

	snap, err := status.ReadSnapshot(outDir)
	require.NoError(t, err)
	assert.Equal(t, status.StateFailed, snap.State)
	require.NotNil(t, snap.ErrorSummary)
}

func TestRunner_ShortResponseStampsMissingTail(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 0 {
			res := okBatch(runID, cams[:2], 10, 5)
			return res, nil
		}
		return nil, errors.New("retry fails too")
	}}
	r, _ := newTestRunner(t, stub, 3, 3)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	// The retry pass only carried the stamped CAM.
	require.Len(t, stub.calls, 2)
	assert.Len(t, stub.calls[1].cams, 1)
	assert.Equal(t, "Car 2", stub.calls[1].cams[0].Vehicle)
}

func TestRunner_ProgressHookSeesEveryBatch(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		return okBatch(runID, cams, 1, 1), nil
	}}
	r, _ := newTestRunner(t, stub, 10, 4)

	var seen []Progress
	r.OnProgress = func(p Progress) { seen = append(seen, p) }

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, Progress{Processed: 4, Total: 10, Succeeded: 4, Failed: 0}, seen[0])
	assert.Equal(t, Progress{Processed: 8, Total: 10, Succeeded: 8, Failed: 0}, seen[1])
	assert.Equal(t, Progress{Processed: 10, Total: 10, Succeeded: 10, Failed: 0}, seen[2])
}

func TestRunner_ZeroBatchSizeUsesDefault(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		return okBatch(runID, cams, 1, 1), nil
	}}
	r, _ := newTestRunner(t, stub, 10, 0)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stub.calls, 1)
	assert.Len(t, stub.calls[0].cams, 10)
}

func TestRunner_ContextCanceledAborts(t *testing.T) {
	stub := &stubCaller{handle: func(int, string, []domain.CAM) (*domain.BatchResult, error) {
		return nil, errors.New("should not be called")
	}}
	r, outDir := newTestRunner(t, stub, 5, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run aborted")
	assert.Empty(t, stub.calls)

	snap, err := status.ReadSnapshot(outDir)
	require.NoError(t, err)
	assert.Equal(t, status.StateFailed, snap.State)
}

func TestRunner_WritesCostReportAndManifest(t *testing.T) {
	stub := &stubCaller{handle: func(call int, runID string, cams []domain.CAM) (*domain.BatchResult, error) {
		if call == 1 {
			return nil, errors.New("one bad batch")
		}
		return okBatch(runID, cams, 10, 5), nil
	}}
	r, outDir := newTestRunner(t, stub, 4, 2)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "cost_report.json"))
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, summary.RunID, report["run_id"])
	assert.Equal(t, "local", report["mode"])

	data, err = os.ReadFile(filepath.Join(outDir, "run_manifest.json"))
	require.NoError(t, err)
	var manifest status.Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "local", manifest.Mode)
	assert.Equal(t, []string{"global", "retry"}, manifest.Stages)
}
