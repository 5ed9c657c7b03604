// Package domain holds the core treadline types shared by the engine,
// the API surface, and the batch runner.
package domain

import "strings"

// Slot layout of a recommendation: four hotboxes followed by twenty SKUs.
const (
	HotboxCount = 4
	SKUCount    = 20
	SlotCount   = HotboxCount + SKUCount
)

// Placeholder marks an empty product slot.
const Placeholder = "-"

// ErrorCode classifies a failed recommendation.
type ErrorCode string

const (
	ErrorCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorCodeNoResults     ErrorCode = "NO_RESULTS"
	ErrorCodeUpstreamError ErrorCode = "UPSTREAM_ERROR"
	ErrorCodeTimeout       ErrorCode = "TIMEOUT"
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeFormatError   ErrorCode = "FORMAT_ERROR"
)

// CAM identifies one vehicle/size combination to recommend for.
type CAM struct {
	Vehicle string `json:"Vehicle" yaml:"vehicle"`
	Size    string `json:"Size" yaml:"size"`
}

// Viable reports whether the CAM carries usable identity fields. Upstream
// CSV exports leak literal "nan" cells, which count as missing.
func (c CAM) Viable() bool {
	return viableField(c.Vehicle) && viableField(c.Size)
}

func viableField(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "nan")
}

// Usage carries token counters for one or more model calls. The JSON keys
// match the generative API's usage metadata so counters pass through the
// batch surface unchanged.
type Usage struct {
	PromptTokens     int64 `json:"prompt_token_count"`
	CompletionTokens int64 `json:"candidates_token_count"`
	TotalTokens      int64 `json:"total_token_count"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Recommendation is the per-CAM result row. On success the four hotboxes
// and twenty SKUs are unique 7- or 8-digit product IDs; on failure the
// hotboxes carry "Error" (or "-" for rejected input) and the SKUs are
// padded with "-".
type Recommendation struct {
	Vehicle   string    `json:"Vehicle"`
	Size      string    `json:"Size"`
	HB1       string    `json:"HB1"`
	HB2       string    `json:"HB2"`
	HB3       string    `json:"HB3"`
	HB4       string    `json:"HB4"`
	SKUs      []string  `json:"SKUs"`
	Success   bool      `json:"success"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// Hotboxes returns the four hotbox slots in order.
func (r Recommendation) Hotboxes() [HotboxCount]string {
	return [HotboxCount]string{r.HB1, r.HB2, r.HB3, r.HB4}
}

// SetSlots fills the hotboxes and SKUs from a 24-slot sequence, padding
// missing SKU positions with the placeholder.
func (r *Recommendation) SetSlots(slots []string) {
	padded := make([]string, SlotCount)
	for i := range padded {
		if i < len(slots) && slots[i] != "" {
			padded[i] = slots[i]
		} else {
			padded[i] = Placeholder
		}
	}
	r.HB1, r.HB2, r.HB3, r.HB4 = padded[0], padded[1], padded[2], padded[3]
	r.SKUs = padded[HotboxCount:]
}

// Failed builds the canonical failure row for a CAM. INVALID_INPUT rows
// carry "-" hotboxes; every other failure carries "Error".
func Failed(cam CAM, code ErrorCode, usage *Usage) Recommendation {
	marker := "Error"
	if code == ErrorCodeInvalidInput {
		marker = Placeholder
	}
	skus := make([]string, SKUCount)
	for i := range skus {
		skus[i] = Placeholder
	}
	return Recommendation{
		Vehicle:   cam.Vehicle,
		Size:      cam.Size,
		HB1:       marker,
		HB2:       marker,
		HB3:       marker,
		HB4:       marker,
		SKUs:      skus,
		Success:   false,
		ErrorCode: code,
		Usage:     usage,
	}
}

// BatchParams are the tuning knobs accepted by the batch surface. Zero
// values mean "use the engine default"; clamping happens in the prompt
// builder.
type BatchParams struct {
	GoldilocksZonePct     float64 `json:"goldilocks_zone_pct,omitempty"`
	PriceFluctuationUpper float64 `json:"price_fluctuation_upper,omitempty"`
	PriceFluctuationLower float64 `json:"price_fluctuation_lower,omitempty"`
	BrandEnhancer         string  `json:"brand_enhancer,omitempty"`
	ModelEnhancer         string  `json:"model_enhancer,omitempty"`
	Season                string  `json:"season,omitempty"`
	Pod                   string  `json:"pod,omitempty"`
	Segment               string  `json:"segment,omitempty"`
	DisableSearch         *bool   `json:"disable_search,omitempty"`
}

// BatchRun describes one batch invocation of the engine.
type BatchRun struct {
	RunID  string
	CAMs   []CAM
	Params BatchParams
}

// BatchResult is the engine's answer to a BatchRun: one recommendation per
// input CAM, index-aligned, plus the summed usage of every model call the
// batch made (retries included).
type BatchResult struct {
	RunID   string           `json:"run_id"`
	Results []Recommendation `json:"results"`
	Usage   Usage            `json:"usage"`
}
