package status

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/domain"
)

const reportFile = "cost_report.json"

// CostUnits counts the CAMs a run attempted and completed.
type CostUnits struct {
	CAMsAttempted int `json:"cams_attempted"`
	CAMsSucceeded int `json:"cams_succeeded"`
}

// CostReport prices a run's token usage in GBP.
type CostReport struct {
	Timestamp        time.Time    `json:"timestamp"`
	RunID            string       `json:"run_id"`
	Mode             string       `json:"mode"`
	Units            CostUnits    `json:"units"`
	Usage            domain.Usage `json:"usage"`
	EstimatedCostGBP float64      `json:"estimated_cost_gbp"`
}

// NewCostReport prices usage at the configured per-million-token rates,
// rounded to five decimal places.
func NewCostReport(runID, mode string, usage domain.Usage, units CostUnits, prices config.PriceConfig) *CostReport {
	cost := float64(usage.PromptTokens)*prices.InputPerMillion/1e6 +
		float64(usage.CompletionTokens)*prices.OutputPerMillion/1e6

	return &CostReport{
		Timestamp:        time.Now().UTC(),
		RunID:            runID,
		Mode:             mode,
		Units:            units,
		Usage:            usage,
		EstimatedCostGBP: math.Round(cost*1e5) / 1e5,
	}
}

// Write persists the report as cost_report.json under dir.
func (r *CostReport) Write(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cost report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, reportFile), data, 0o644); err != nil {
		return fmt.Errorf("write cost report: %w", err)
	}
	return nil
}
