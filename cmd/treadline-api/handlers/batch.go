package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/engine"
	"github.com/treadline-ai/treadline/internal/observability"
)

// BatchHandler runs recommendation batches.
type BatchHandler struct {
	logger *observability.Logger
	engine engine.BatchRunner
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(logger *observability.Logger, eng engine.BatchRunner) *BatchHandler {
	return &BatchHandler{
		logger: logger.WithOperation("batch"),
		engine: eng,
	}
}

// BatchRequestDTO is the payload of POST /api/recommendations/batch.
type BatchRequestDTO struct {
	RunID  string             `json:"run_id"`
	CAMs   []domain.CAM       `json:"cams"`
	Params domain.BatchParams `json:"params"`
}

// Batch handles POST /api/recommendations/batch. Requests must carry a
// run_id and a cams list. Per-CAM failures are stamped into the result
// rows, so the call answers 200 whenever the batch itself was accepted;
// only malformed, incomplete, or oversized requests fail.
func (h *BatchHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "Missing run_id")
		return
	}
	if req.CAMs == nil {
		writeError(w, http.StatusBadRequest, "Missing cams")
		return
	}

	res, err := h.engine.ProcessBatch(r.Context(), domain.BatchRun{
		RunID:  req.RunID,
		CAMs:   req.CAMs,
		Params: req.Params,
	})
	if err != nil {
		if errors.Is(err, engine.ErrBatchTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("run_id", req.RunID).Msg("batch processing failed")
		writeError(w, http.StatusInternalServerError, "Batch processing failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
