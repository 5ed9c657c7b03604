package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/treadline-ai/treadline/internal/cache"
	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
)

// Store resolves candidate rows for a CAM. Lookup order: cache, warehouse
// filtered by vehicle, warehouse by size only, CSV mirror by vehicle, CSV
// mirror by size only. Any non-empty result from warehouse or mirror is
// written back to the cache best-effort. Failures at every stage are
// coerced to empty results so a broken backend degrades recommendations
// instead of failing them.
type Store struct {
	warehouse *Warehouse
	mirror    *Mirror
	cache     cache.Client
	cacheTTL  time.Duration
	logger    *observability.Logger
}

// NewStore creates a candidate store. Any of warehouse, mirror, and
// cacheClient may be nil; the corresponding stage is skipped.
func NewStore(warehouse *Warehouse, mirror *Mirror, cacheClient cache.Client, cacheTTL time.Duration, logger *observability.Logger) *Store {
	return &Store{
		warehouse: warehouse,
		mirror:    mirror,
		cache:     cacheClient,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Fetch returns candidate rows for a size, optionally filtered by vehicle.
// An empty result means no data anywhere, not an error.
func (s *Store) Fetch(ctx context.Context, size, vehicle string) []CandidateRow {
	if normalize.Size(size) == "" {
		return nil
	}

	key := cache.CandidateKey(size, vehicle)
	if rows, ok := s.fromCache(ctx, key); ok {
		return rows
	}

	rows := s.fromWarehouse(ctx, size, vehicle)
	if len(rows) == 0 {
		rows = s.fromMirror(size, vehicle)
	}

	if len(rows) > 0 {
		s.writeCache(ctx, key, rows)
	}
	return rows
}

// FetchBatch resolves candidates for many sizes in a single warehouse
// query. The result maps every distinct normalized input size to its rows;
// sizes with no data map to an empty slice. The cache is bypassed in both
// directions.
func (s *Store) FetchBatch(ctx context.Context, sizes []string) map[string][]CandidateRow {
	results := make(map[string][]CandidateRow)

	var unique []string
	for _, size := range sizes {
		n := normalize.Size(size)
		if n == "" {
			continue
		}
		if _, ok := results[n]; !ok {
			results[n] = []CandidateRow{}
			unique = append(unique, n)
		}
	}
	if len(unique) == 0 || s.warehouse == nil {
		return results
	}

	rows, err := s.warehouse.FetchBySizes(ctx, unique)
	if err != nil {
		s.logger.Error().Err(err).Int("sizes", len(unique)).Msg("bulk warehouse lookup failed")
		return results
	}

	for _, row := range rows {
		n := normalize.Size(row.Size)
		if _, ok := results[n]; ok {
			results[n] = append(results[n], row)
		}
	}

	s.logger.Info().Int("rows", len(rows)).Int("sizes", len(unique)).Msg("bulk candidate fetch complete")
	return results
}

// Close releases the warehouse connection if one is held.
func (s *Store) Close() error {
	if s.warehouse != nil {
		return s.warehouse.Close()
	}
	return nil
}

func (s *Store) fromCache(ctx context.Context, key string) ([]CandidateRow, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	var rows []CandidateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed cache entry")
		return nil, false
	}
	return rows, true
}

func (s *Store) writeCache(ctx context.Context, key string, rows []CandidateRow) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Store) fromWarehouse(ctx context.Context, size, vehicle string) []CandidateRow {
	if s.warehouse == nil {
		return nil
	}

	rows, err := s.warehouse.FetchBySize(ctx, size, vehicle)
	if err != nil {
		s.logger.Error().Err(err).Str("size", size).Str("vehicle", vehicle).Msg("warehouse lookup failed")
		rows = nil
	}

	if len(rows) == 0 && normalize.Vehicle(vehicle) != "" {
		rows, err = s.warehouse.FetchBySize(ctx, size, "")
		if err != nil {
			s.logger.Error().Err(err).Str("size", size).Msg("warehouse size-only lookup failed")
			return nil
		}
		if len(rows) > 0 {
			s.logger.Info().Str("size", size).Str("vehicle", vehicle).Int("rows", len(rows)).
				Msg("no vehicle-specific candidates, using size-only rows")
		}
	}
	return rows
}

func (s *Store) fromMirror(size, vehicle string) []CandidateRow {
	if s.mirror == nil {
		return nil
	}

	rows := s.mirror.FetchBySize(size, vehicle)
	if len(rows) == 0 && normalize.Vehicle(vehicle) != "" {
		rows = s.mirror.FetchBySize(size, "")
	}
	return rows
}

// FilterByVehicle narrows prefetched rows to one normalized vehicle,
// falling back to the full per-size list when nothing matches.
func FilterByVehicle(rows []CandidateRow, vehicle string) []CandidateRow {
	n := normalize.Vehicle(vehicle)
	if n == "" {
		return rows
	}

	var filtered []CandidateRow
	for _, row := range rows {
		if normalize.Vehicle(row.Vehicle) == n {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) == 0 {
		return rows
	}
	return filtered
}
