package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/domain"
)

func testRows() []catalog.CandidateRow {
	return []catalog.CandidateRow{
		{ProductID: "1111111", Brand: "Michelin", Model: "Primacy 4", TyreScore: "1.0", Size: "205/55 R16", Vehicle: "VW GOLF"},
		{ProductID: "2222222", Brand: "Continental", Model: "PremiumContact 6", TyreScore: "2.0", Size: "205/55 R16", Vehicle: "VW GOLF"},
	}
}

func testCAM() domain.CAM {
	return domain.CAM{Vehicle: "VW GOLF", Size: "205/55 R16"}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   domain.BatchParams
		want domain.BatchParams
	}{
		{
			name: "in-range values kept",
			in:   domain.BatchParams{GoldilocksZonePct: 25, PriceFluctuationUpper: 1.5, PriceFluctuationLower: 0.7},
			want: domain.BatchParams{GoldilocksZonePct: 25, PriceFluctuationUpper: 1.5, PriceFluctuationLower: 0.7},
		},
		{
			name: "boundaries kept",
			in:   domain.BatchParams{GoldilocksZonePct: 5, PriceFluctuationUpper: 2.0, PriceFluctuationLower: 0.5},
			want: domain.BatchParams{GoldilocksZonePct: 5, PriceFluctuationUpper: 2.0, PriceFluctuationLower: 0.5},
		},
		{
			name: "out-of-range replaced with defaults",
			in:   domain.BatchParams{GoldilocksZonePct: 99, PriceFluctuationUpper: 3.0, PriceFluctuationLower: 0.1},
			want: domain.BatchParams{GoldilocksZonePct: 15, PriceFluctuationUpper: 1.1, PriceFluctuationLower: 0.9},
		},
		{
			name: "zero values default",
			in:   domain.BatchParams{},
			want: domain.BatchParams{GoldilocksZonePct: 15, PriceFluctuationUpper: 1.1, PriceFluctuationLower: 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clamp(tt.in)
			assert.Equal(t, tt.want.GoldilocksZonePct, got.GoldilocksZonePct)
			assert.Equal(t, tt.want.PriceFluctuationUpper, got.PriceFluctuationUpper)
			assert.Equal(t, tt.want.PriceFluctuationLower, got.PriceFluctuationLower)
		})
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	params := domain.BatchParams{GoldilocksZonePct: 20, Season: "winter"}
	first, err := b.Build(testCAM(), testRows(), params)
	require.NoError(t, err)
	second, err := b.Build(testCAM(), testRows(), params)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuilder_BasePrompt(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{})
	require.NoError(t, err)

	assert.Contains(t, out, "Vehicle: VW GOLF")
	assert.Contains(t, out, "Tyre size: 205/55 R16")
	assert.Contains(t, out, "1111111")
	assert.Contains(t, out, "2222222")
	assert.Contains(t, out, "top 15% of the zone")
	assert.Contains(t, out, "above 1.1x or below 0.9x")
	assert.Contains(t, out, "24 product IDs in total")

	assert.NotContains(t, out, "Brand enhancer")
	assert.NotContains(t, out, "Model enhancer")
	assert.NotContains(t, out, "Season enhancer")
}

func TestBuilder_RendersClampedKnobs(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{
		GoldilocksZonePct:     500,
		PriceFluctuationUpper: 1.4,
		PriceFluctuationLower: 0.8,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "top 15% of the zone")
	assert.Contains(t, out, "above 1.4x or below 0.8x")
}

func TestBuilder_BrandEnhancer(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{BrandEnhancer: "Michelin"})
	require.NoError(t, err)

	assert.Contains(t, out, "Brand enhancer")
	assert.Contains(t, out, "the brand michelin is currently on offer")
	assert.Contains(t, out, "VW GOLF in 205/55 R16")
}

func TestBuilder_BrandSentinelSkipped(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	for _, brand := range []string{"", "Anybrand", "ANYBRAND", "  anybrand  "} {
		out, err := b.Build(testCAM(), testRows(), domain.BatchParams{BrandEnhancer: brand})
		require.NoError(t, err)
		assert.NotContains(t, out, "Brand enhancer", "brand=%q", brand)
	}
}

func TestBuilder_ModelEnhancerPinsThirdHotbox(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{ModelEnhancer: "Primacy 4"})
	require.NoError(t, err)

	assert.Contains(t, out, "Model enhancer")
	assert.Contains(t, out, "the model primacy 4 is currently being promoted")
	assert.Contains(t, out, "must always appear as **HB3**")
}

func TestBuilder_SeasonEnhancer(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{Season: "Winter"})
	require.NoError(t, err)

	assert.Contains(t, out, "Season enhancer")
	assert.Contains(t, out, "designed for **winter** use")
	assert.Contains(t, out, "marked as **Winter**")
	assert.Contains(t, out, "Place the selected seasonal tyre in HB4")
}

func TestBuilder_InvalidSeasonSkipped(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	for _, season := range []string{"", "spring", "all-season", "monsoon"} {
		out, err := b.Build(testCAM(), testRows(), domain.BatchParams{Season: season})
		require.NoError(t, err)
		assert.NotContains(t, out, "Season enhancer", "season=%q", season)
	}
}

func TestBuilder_SingleLineOutputContract(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(testCAM(), testRows(), domain.BatchParams{})
	require.NoError(t, err)

	// The contract section repeats the exact vehicle and size the parser
	// will look for in the response.
	idx := strings.Index(out, "Output contract")
	require.Greater(t, idx, 0)
	contract := out[idx:]
	assert.Contains(t, contract, "VW GOLF")
	assert.Contains(t, contract, "205/55 R16")
	assert.Contains(t, contract, "EXACTLY one line")
}
