package handlers

import (
	"net/http"
	"time"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
)

// StatusHandler serves engine diagnostics.
type StatusHandler struct {
	logger     *observability.Logger
	version    string
	mode       string
	startedAt  time.Time
	maxCAMs    int
	maxWorkers int
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(logger *observability.Logger, version, mode string, startedAt time.Time, engineCfg config.EngineConfig) *StatusHandler {
	return &StatusHandler{
		logger:     logger,
		version:    version,
		mode:       mode,
		startedAt:  startedAt,
		maxCAMs:    engineCfg.MaxBatchCAMs,
		maxWorkers: engineCfg.MaxWorkers,
	}
}

// EngineStatusDTO is the response of GET /api/status/engine.
type EngineStatusDTO struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Mode          string    `json:"mode"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	MaxBatchCAMs  int       `json:"max_batch_cams"`
	MaxWorkers    int       `json:"max_workers"`
}

// Engine handles GET /api/status/engine.
func (h *StatusHandler) Engine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EngineStatusDTO{
		Status:        "ok",
		Version:       h.version,
		Mode:          h.mode,
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		MaxBatchCAMs:  h.maxCAMs,
		MaxWorkers:    h.maxWorkers,
	})
}
