package genai

import (
	"fmt"
	"strings"
)

// APIError is a transport or HTTP-level failure talking to the model
// endpoint: request construction, connection errors, non-200 statuses.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// StreamError is a failure while consuming the response stream: a broken
// read or a chunk that does not decode.
type StreamError struct {
	Message string
	Err     error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream error: %s", e.Message) }

func (e *StreamError) Unwrap() error { return e.Err }

// GenerationError means the call completed but produced nothing usable:
// an empty response body with no transport failure.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation error: %s", e.Message) }

// retryable reports whether the error is a quota rejection. Only those
// are retried; everything else terminates the call.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
