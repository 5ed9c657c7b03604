package genai

import (
	"context"
	"sync/atomic"
)

// MockClient provides a mock model client for testing. GenerateFunc, when
// set, supplies the response; otherwise every call returns an empty result.
// The call counter is safe under the engine's concurrent workers.
type MockClient struct {
	GenerateFunc func(ctx context.Context, prompt string, opts Options) (*Result, error)

	calls atomic.Int32
}

// NewMockClient creates a mock client that replays a fixed output text.
func NewMockClient(text string) *MockClient {
	return &MockClient{
		GenerateFunc: func(ctx context.Context, prompt string, opts Options) (*Result, error) {
			return &Result{Text: text}, nil
		},
	}
}

// Generate returns the configured response and counts the call.
func (m *MockClient) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	m.calls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, opts)
	}
	return &Result{}, nil
}

// CallCount reports how many times Generate has been invoked.
func (m *MockClient) CallCount() int {
	return int(m.calls.Load())
}

var _ Generator = (*MockClient)(nil)
