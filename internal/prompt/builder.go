// Package prompt renders the recommendation prompt sent to the generative
// model: fixed scoring and slot-eligibility sections, the candidate table,
// and optional brand/model/season enhancer blocks.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/domain"
)

// Knob defaults, applied whenever a caller-supplied value is out of range.
const (
	DefaultGoldilocksPct = 15.0
	DefaultPriceUpper    = 1.1
	DefaultPriceLower    = 0.9
)

// Sentinel enhancer values meaning "no enhancer".
const (
	anyBrand = "anybrand"
	anyModel = "anymodel"
)

var validSeasons = map[string]bool{
	"summer":    true,
	"winter":    true,
	"allseason": true,
}

// Builder renders prompts. Safe for concurrent use.
type Builder struct {
	tmpl *template.Template
}

// NewBuilder compiles the prompt template.
func NewBuilder() (*Builder, error) {
	tmpl, err := template.New("recommendation").Parse(recommendationTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

type templateData struct {
	Vehicle               string
	Size                  string
	TyreData              string
	BrandEnhancerText     string
	ModelEnhancerText     string
	SeasonEnhancerText    string
	GoldilocksZonePct     float64
	PriceFluctuationUpper float64
	PriceFluctuationLower float64
}

// Build renders the prompt for one CAM. Identical inputs produce identical
// output.
func (b *Builder) Build(cam domain.CAM, rows []catalog.CandidateRow, params domain.BatchParams) (string, error) {
	params = Clamp(params)

	data := templateData{
		Vehicle:               cam.Vehicle,
		Size:                  cam.Size,
		TyreData:              RenderTable(rows),
		BrandEnhancerText:     brandEnhancerText(params.BrandEnhancer, cam.Vehicle, cam.Size),
		ModelEnhancerText:     modelEnhancerText(params.ModelEnhancer),
		SeasonEnhancerText:    seasonEnhancerText(params.Season),
		GoldilocksZonePct:     params.GoldilocksZonePct,
		PriceFluctuationUpper: params.PriceFluctuationUpper,
		PriceFluctuationLower: params.PriceFluctuationLower,
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// Clamp replaces out-of-range tuning knobs with their defaults. Zero
// values (knob not supplied) are out of range, so they default too.
func Clamp(params domain.BatchParams) domain.BatchParams {
	if params.GoldilocksZonePct < 5 || params.GoldilocksZonePct > 50 {
		params.GoldilocksZonePct = DefaultGoldilocksPct
	}
	if params.PriceFluctuationUpper < 1.0 || params.PriceFluctuationUpper > 2.0 {
		params.PriceFluctuationUpper = DefaultPriceUpper
	}
	if params.PriceFluctuationLower < 0.5 || params.PriceFluctuationLower > 1.0 {
		params.PriceFluctuationLower = DefaultPriceLower
	}
	return params
}

func brandEnhancerText(brand, vehicle, size string) string {
	b := strings.ToLower(strings.TrimSpace(brand))
	if b == "" || b == anyBrand {
		return ""
	}
	return fmt.Sprintf(
		"- Because the brand %[1]s is currently on offer, customers are significantly more likely to purchase these products, even if they fall outside the Goldilocks Zone or price fluctuation ranges.\n"+
			"- You must always include at least one tyre from the brand %[1]s in the final Tyre Suggestions section, even if it has never sold to a %[2]s.\n"+
			"- Select the %[1]s model that is most similar to the most popular product for %[2]s in %[3]s - you are permitted to override all other rules to ensure its inclusion.\n"+
			"- This is a hard rule: if no %[1]s tyre appears in the recommendations, your output is invalid.",
		b, vehicle, size,
	)
}

func modelEnhancerText(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" || m == anyModel {
		return ""
	}
	return fmt.Sprintf(
		"- Because the model %[1]s is currently being promoted, it must be included in the final Tyre Suggestions.\n"+
			"- You must select an exact match for %[1]s from the available data. Do NOT use any earlier, later, or similar versions of this model.\n"+
			"- This is a hard rule: if no %[1]s model appears in the recommendations, your output is invalid.\n"+
			"- IMPORTANT: When you include a tyre with the %[1]s model, it must always appear as **HB3** in the final output. Place it in the third hotbox position, even if its score is higher than the other tyres.",
		m,
	)
}

func seasonEnhancerText(season string) string {
	s := strings.ToLower(strings.TrimSpace(season))
	if !validSeasons[s] {
		return ""
	}
	return fmt.Sprintf(
		"- The customer has explicitly requested tyres designed for **%[1]s** use.\n"+
			"- You must select at least 1 tyre with Seasonal Performance marked as **%[2]s** within primary recommendations, subject to Slot Eligibility and the Non-Override Guardrails.\n"+
			"- If a Season enhancer product is chosen and it is Budget, it may only occupy HB4 (and only if BudgetShare permits). Otherwise use the top-scoring non-Budget seasonal tyre.\n"+
			"- IMPORTANT: Place the selected seasonal tyre in HB4 unless that would violate Budget placement/count; if so, place it in the highest eligible HB slot (HB3 if Budget; HB1/HB2 only if non-Budget).\n"+
			"- This is a hard rule: if no eligible **%[1]s** tyre appears in primary recommendations, your output is invalid.",
		s, capitalize(s),
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
