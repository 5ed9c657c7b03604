package recommend

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/genai"
	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/prompt"
)

var testCAM = domain.CAM{Vehicle: "Volkswagen Golf", Size: "205/55 R16"}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level: "error", Format: "json", Output: io.Discard, ServiceName: "test",
	})
}

type stubStore struct {
	rows  []catalog.CandidateRow
	calls int
}

func (s *stubStore) Fetch(ctx context.Context, size, vehicle string) []catalog.CandidateRow {
	s.calls++
	return s.rows
}

func newTestWorker(t *testing.T, model genai.Generator, store CandidateSource) *Worker {
	t.Helper()
	builder, err := prompt.NewBuilder()
	require.NoError(t, err)
	return NewWorker(store, builder, model, 0, testLogger())
}

// goodLine builds a strictly parseable output line for testCAM.
func goodLine(products []string) string {
	return testCAM.Vehicle + " " + testCAM.Size + " " + strings.Join(products, " ")
}

func prefetchFor(cam domain.CAM, rows []catalog.CandidateRow) map[string][]catalog.CandidateRow {
	return map[string][]catalog.CandidateRow{normalize.Size(cam.Size): rows}
}

func TestWorker_Success(t *testing.T) {
	products := ids(24, 1)
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			return &genai.Result{
				Text:  goodLine(products),
				Usage: domain.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140},
			}, nil
		},
	}
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.True(t, rec.Success)
	assert.Empty(t, rec.ErrorCode)
	assert.Equal(t, testCAM.Vehicle, rec.Vehicle)
	assert.Equal(t, testCAM.Size, rec.Size)
	assert.Equal(t, products[:4], []string{rec.HB1, rec.HB2, rec.HB3, rec.HB4})
	assert.Equal(t, products[4:], rec.SKUs)
	assert.Equal(t, 1, model.CallCount())
	require.NotNil(t, rec.Usage)
	assert.Equal(t, int64(140), rec.Usage.TotalTokens)
}

func TestWorker_SuccessHasTwentyUniqueSKUs(t *testing.T) {
	// Even a thin model answer must come back as a full, duplicate-free
	// 24-slot set when the catalog is deep enough.
	model := genai.NewMockClient(goodLine([]string{"1234567", "1234567", "2345678"}))
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(30, 1)...)), domain.BatchParams{})

	require.True(t, rec.Success)
	require.Len(t, rec.SKUs, domain.SKUCount)
	seen := map[string]bool{rec.HB1: true, rec.HB2: true, rec.HB3: true, rec.HB4: true}
	require.Len(t, seen, domain.HotboxCount)
	for _, sku := range rec.SKUs {
		assert.True(t, normalize.IsProductID(sku))
		assert.False(t, seen[sku], "duplicate SKU %s", sku)
		seen[sku] = true
	}
}

func TestWorker_InvalidInput(t *testing.T) {
	model := &genai.MockClient{}
	w := newTestWorker(t, model, nil)

	tests := []struct {
		name        string
		cam         domain.CAM
		wantVehicle string
		wantSize    string
	}{
		{"empty vehicle", domain.CAM{Vehicle: "", Size: "205/55 R16"}, "Unknown", "205/55 R16"},
		{"empty size", domain.CAM{Vehicle: "Golf", Size: ""}, "Golf", "Unknown"},
		{"nan vehicle", domain.CAM{Vehicle: "NaN", Size: "205/55 R16"}, "NaN", "205/55 R16"},
		{"nan size", domain.CAM{Vehicle: "Golf", Size: "nan"}, "Golf", "nan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := w.Process(context.Background(), tt.cam, nil, domain.BatchParams{})

			assert.False(t, rec.Success)
			assert.Equal(t, domain.ErrorCodeInvalidInput, rec.ErrorCode)
			assert.Equal(t, tt.wantVehicle, rec.Vehicle)
			assert.Equal(t, tt.wantSize, rec.Size)
			assert.Equal(t, domain.Placeholder, rec.HB1)
			assert.Nil(t, rec.Usage)
		})
	}
	assert.Zero(t, model.CallCount(), "rejected input must not reach the model")
}

func TestWorker_NoResults(t *testing.T) {
	model := &genai.MockClient{}
	store := &stubStore{}
	w := newTestWorker(t, model, store)

	rec := w.Process(context.Background(), testCAM, nil, domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeNoResults, rec.ErrorCode)
	assert.Equal(t, "Error", rec.HB1)
	assert.Equal(t, 1, store.calls, "prefetch miss must fall back to the store")
	assert.Zero(t, model.CallCount(), "empty catalog must not reach the model")
}

func TestWorker_PrefetchMissFallsBackToStore(t *testing.T) {
	model := genai.NewMockClient(goodLine(ids(24, 1)))
	store := &stubStore{rows: candRows(ids(24, 1)...)}
	w := newTestWorker(t, model, store)

	rec := w.Process(context.Background(), testCAM, map[string][]catalog.CandidateRow{}, domain.BatchParams{})

	assert.True(t, rec.Success)
	assert.Equal(t, 1, store.calls)
}

func TestWorker_PrefetchFilteredByVehicle(t *testing.T) {
	golfRows := candRows(ids(8, 100)...)
	for i := range golfRows {
		golfRows[i].Vehicle = "Volkswagen Golf"
	}
	bmwRows := candRows(ids(8, 500)...)
	for i := range bmwRows {
		bmwRows[i].Vehicle = "BMW 3 Series"
	}

	// Model returns placeholders only, so every slot is backfilled from
	// the candidate pool the worker selected.
	model := genai.NewMockClient(goodLine([]string{"-", "-", "-", "-"}))
	w := newTestWorker(t, model, nil)

	prefetched := prefetchFor(testCAM, append(append([]catalog.CandidateRow{}, bmwRows...), golfRows...))
	rec := w.Process(context.Background(), testCAM, prefetched, domain.BatchParams{})

	require.True(t, rec.Success)
	assert.Equal(t, ids(4, 100), []string{rec.HB1, rec.HB2, rec.HB3, rec.HB4})
}

func TestWorker_RetriesOncePipelineFailure(t *testing.T) {
	usage := domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	calls := 0
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			calls++
			if calls == 1 {
				return &genai.Result{Text: "I cannot help with that.", Usage: usage}, nil
			}
			return &genai.Result{Text: goodLine(ids(24, 1)), Usage: usage}, nil
		},
	}
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.True(t, rec.Success)
	assert.Equal(t, 2, model.CallCount())
	require.NotNil(t, rec.Usage)
	assert.Equal(t, domain.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}, *rec.Usage)
}

func TestWorker_FormatErrorAfterRetry(t *testing.T) {
	usage := domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			return &genai.Result{Text: "no ids here at all", Usage: usage}, nil
		},
	}
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeFormatError, rec.ErrorCode)
	assert.Equal(t, "Error", rec.HB1)
	assert.Equal(t, 2, model.CallCount())
	require.NotNil(t, rec.Usage)
	assert.Equal(t, int64(30), rec.Usage.TotalTokens)
}

func TestWorker_UpstreamErrorOnModelFailure(t *testing.T) {
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			return &genai.Result{}, &genai.APIError{StatusCode: 500, Message: "backend exploded"}
		},
	}
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeUpstreamError, rec.ErrorCode)
	assert.Equal(t, 2, model.CallCount())
	assert.Nil(t, rec.Usage)
}

func TestWorker_UpstreamErrorWhenBackfillCannotRepair(t *testing.T) {
	// Parseable output, but pool and parsed IDs together cannot fill four
	// hotboxes.
	rows := candRows("notanid")
	model := genai.NewMockClient(goodLine([]string{"1234567", "2345678", "3456789"}))
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, rows), domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeUpstreamError, rec.ErrorCode)
	assert.Equal(t, 2, model.CallCount())
}

func TestWorker_TimeoutClassification(t *testing.T) {
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			return &genai.Result{}, &genai.APIError{Message: "transport", Err: context.DeadlineExceeded}
		},
	}
	w := newTestWorker(t, model, nil)

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeTimeout, rec.ErrorCode)
}

func TestWorker_CAMDeadlineExpiry(t *testing.T) {
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			<-ctx.Done()
			return &genai.Result{}, &genai.APIError{Message: "transport", Err: ctx.Err()}
		},
	}
	builder, err := prompt.NewBuilder()
	require.NoError(t, err)
	w := NewWorker(nil, builder, model, 10*time.Millisecond, testLogger())

	rec := w.Process(context.Background(), testCAM, prefetchFor(testCAM, candRows(ids(24, 1)...)), domain.BatchParams{})

	assert.False(t, rec.Success)
	assert.Equal(t, domain.ErrorCodeTimeout, rec.ErrorCode)
}

func TestWorker_DisableSearchDefaultsOn(t *testing.T) {
	var captured []bool
	model := &genai.MockClient{
		GenerateFunc: func(ctx context.Context, p string, opts genai.Options) (*genai.Result, error) {
			captured = append(captured, opts.DisableSearch)
			return &genai.Result{Text: goodLine(ids(24, 1))}, nil
		},
	}
	w := newTestWorker(t, model, nil)
	prefetched := prefetchFor(testCAM, candRows(ids(24, 1)...))

	w.Process(context.Background(), testCAM, prefetched, domain.BatchParams{})
	require.Len(t, captured, 1)
	assert.True(t, captured[0], "batch path disables search grounding by default")

	enabled := false
	w.Process(context.Background(), testCAM, prefetched, domain.BatchParams{DisableSearch: &enabled})
	require.Len(t, captured, 2)
	assert.False(t, captured[1])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorCode
	}{
		{"nil means hotboxes stayed invalid", nil, domain.ErrorCodeUpstreamError},
		{"deadline exceeded", context.DeadlineExceeded, domain.ErrorCodeTimeout},
		{"cancelled", context.Canceled, domain.ErrorCodeTimeout},
		{"api error wrapping deadline", &genai.APIError{Err: context.DeadlineExceeded}, domain.ErrorCodeTimeout},
		{"api error", &genai.APIError{StatusCode: 503, Message: "unavailable"}, domain.ErrorCodeUpstreamError},
		{"stream error", &genai.StreamError{Message: "broken pipe"}, domain.ErrorCodeUpstreamError},
		{"generation error", &genai.GenerationError{Message: "no content"}, domain.ErrorCodeUpstreamError},
		{"unparsable", ErrUnparsable, domain.ErrorCodeFormatError},
		{"timeout in message", errors.New("socket TIMEOUT while reading"), domain.ErrorCodeTimeout},
		{"api in message", errors.New("API quota exceeded"), domain.ErrorCodeUpstreamError},
		{"anything else", errors.New("boom"), domain.ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
