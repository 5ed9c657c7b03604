// Package cache provides the candidate-row cache behind the warehouse
// store. Three drivers share one interface: disk (default, file-per-key
// JSON), redis (shared deployments), and memory (tests, dev).
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"github.com/treadline-ai/treadline/internal/normalize"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// CandidateKey derives the deterministic cache key for a size/vehicle
// candidate query. Either part may be empty; the digest input then uses
// the catch-all marker so size-only and vehicle-only queries get distinct
// stable keys.
func CandidateKey(size, vehicle string) string {
	s := normalize.Size(size)
	if s == "" {
		s = "any_size"
	}
	v := normalize.Vehicle(vehicle)
	if v == "" {
		v = "any_vehicle"
	}
	sum := md5.Sum([]byte(s + "_" + v))
	return hex.EncodeToString(sum[:])
}
