package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
)

// Mirror is a local CSV snapshot of the warehouse, used when the warehouse
// is unreachable or returns nothing. File order is preserved: the snapshot
// is exported pre-ranked.
type Mirror struct {
	path   string
	logger *observability.Logger

	once sync.Once
	rows []CandidateRow
	err  error
}

// NewMirror creates a mirror backed by the CSV at path. The file is read
// lazily on first lookup.
func NewMirror(path string, logger *observability.Logger) *Mirror {
	return &Mirror{path: path, logger: logger}
}

// FetchBySize returns mirror rows whose normalized size contains the
// normalized input, optionally restricted to one normalized vehicle.
// Lookup failures are logged and coerced to an empty result.
func (m *Mirror) FetchBySize(size, vehicle string) []CandidateRow {
	sizeNorm := normalize.Size(size)
	if sizeNorm == "" {
		return nil
	}

	m.once.Do(m.load)
	if m.err != nil {
		m.logger.Warn().Err(m.err).Str("path", m.path).Msg("csv mirror unavailable")
		return nil
	}

	vehicleNorm := normalize.Vehicle(vehicle)

	var matched []CandidateRow
	for _, row := range m.rows {
		if !strings.Contains(normalize.Size(row.Size), sizeNorm) {
			continue
		}
		if vehicleNorm != "" && normalize.Vehicle(row.Vehicle) != vehicleNorm {
			continue
		}
		matched = append(matched, row)
	}
	return matched
}

func (m *Mirror) load() {
	f, err := os.Open(m.path)
	if err != nil {
		m.err = fmt.Errorf("open mirror: %w", err)
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		m.err = fmt.Errorf("read mirror header: %w", err)
		return
	}

	hasSize := false
	for _, name := range header {
		if name == "SIZE" {
			hasSize = true
			break
		}
	}
	if !hasSize {
		m.err = fmt.Errorf("mirror %s has no SIZE column", m.path)
		return
	}

	records, err := reader.ReadAll()
	if err != nil {
		m.err = fmt.Errorf("read mirror rows: %w", err)
		return
	}

	m.rows = make([]CandidateRow, 0, len(records))
	for _, record := range records {
		var row CandidateRow
		for i, name := range header {
			if i >= len(record) {
				break
			}
			assignColumn(&row, name, record[i])
		}
		m.rows = append(m.rows, row)
	}

	m.logger.Info().Int("rows", len(m.rows)).Str("path", m.path).Msg("csv mirror loaded")
}

// assignColumn maps a CSV column onto the row. Unknown columns are ignored
// so snapshots with extra fields still load.
func assignColumn(row *CandidateRow, name, value string) {
	switch name {
	case "TyreScore":
		row.TyreScore = value
	case "ProductId":
		row.ProductID = value
	case "GRADE":
		row.Grade = value
	case "BRAND":
		row.Brand = value
	case "Model":
		row.Model = value
	case "WET_GRIP":
		row.WetGrip = value
	case "FUEL":
		row.Fuel = value
	case "NOISE_REDUCTION":
		row.NoiseReduction = value
	case "SEASONAL_PERFORMANCE":
		row.SeasonalPerformance = value
	case "OE":
		row.OE = value
	case "AWARD_SCORE":
		row.AwardScore = value
	case "RunflatStatus":
		row.RunflatStatus = value
	case "Segment":
		row.Segment = value
	case "PRICE_pct":
		row.PricePct = value
	case "GRADE_pct":
		row.GradePct = value
	case "FUEL_pct":
		row.FuelPct = value
	case "WET_GRIP_pct":
		row.WetGripPct = value
	case "AWARD_SCORE_pct":
		row.AwardScorePct = value
	case "Vehicle":
		row.Vehicle = value
	case "SIZE":
		row.Size = value
	case "PRICE":
		row.Price = value
	case "OFFER":
		row.Offer = value
	case "PRICEFLUCTUATION":
		row.PriceFluctuation = value
	case "Orders":
		row.Orders = value
	case "Units":
		row.Units = value
	case "GoldilocksZone":
		row.GoldilocksZone = value
	case "PremiumShare":
		row.PremiumShare = value
	case "MidRangeShare":
		row.MidRangeShare = value
	case "BudgetShare":
		row.BudgetShare = value
	case "RunflatShare":
		row.RunflatShare = value
	case "SalesStatus":
		row.SalesStatus = value
	case "PRODUCTLISTVIEWS":
		row.ProductListViews = value
	case "CLICKSTREAMRATE":
		row.ClickstreamRate = value
	}
}
