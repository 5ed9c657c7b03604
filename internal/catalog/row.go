// Package catalog provides the candidate store: ranked tyre rows fetched
// from the score warehouse, a local CSV mirror fallback, and a best-effort
// cache in front of both.
package catalog

import (
	"database/sql"
)

// CandidateRow is one warehouse record for a (size, vehicle) pair. All
// fields are carried as strings: the warehouse mixes numeric and text
// columns, the cache stores rows as JSON, and the prompt renders every
// value verbatim. Ranking is done by the warehouse query, not in Go.
type CandidateRow struct {
	TyreScore           string `json:"TyreScore"`
	ProductID           string `json:"ProductId"`
	Grade               string `json:"GRADE"`
	Brand               string `json:"BRAND"`
	Model               string `json:"Model"`
	WetGrip             string `json:"WET_GRIP"`
	Fuel                string `json:"FUEL"`
	NoiseReduction      string `json:"NOISE_REDUCTION"`
	SeasonalPerformance string `json:"SEASONAL_PERFORMANCE"`
	OE                  string `json:"OE"`
	AwardScore          string `json:"AWARD_SCORE"`
	RunflatStatus       string `json:"RunflatStatus"`
	Segment             string `json:"Segment"`
	PricePct            string `json:"PRICE_pct"`
	GradePct            string `json:"GRADE_pct"`
	FuelPct             string `json:"FUEL_pct"`
	WetGripPct          string `json:"WET_GRIP_pct"`
	AwardScorePct       string `json:"AWARD_SCORE_pct"`
	Vehicle             string `json:"Vehicle"`
	Size                string `json:"SIZE"`
	Price               string `json:"PRICE"`
	Offer               string `json:"OFFER"`
	PriceFluctuation    string `json:"PRICEFLUCTUATION"`
	Orders              string `json:"Orders"`
	Units               string `json:"Units"`
	GoldilocksZone      string `json:"GoldilocksZone"`
	PremiumShare        string `json:"PremiumShare"`
	MidRangeShare       string `json:"MidRangeShare"`
	BudgetShare         string `json:"BudgetShare"`
	RunflatShare        string `json:"RunflatShare"`
	SalesStatus         string `json:"SalesStatus"`
	ProductListViews    string `json:"PRODUCTLISTVIEWS"`
	ClickstreamRate     string `json:"CLICKSTREAMRATE"`
}

// PromptHeaders is the column order used when rendering candidate rows
// into the prompt table. Short names keep the token count down while
// staying readable to the model.
var PromptHeaders = []string{
	"TyreScore", "ProdID", "WetGrade", "Brand", "Model", "WetVal", "FuelVal", "NoiseVal",
	"Season", "IsOE", "AwardScore", "IsRunflat", "Segment", "PriceScore", "WetScore", "FuelScore",
	"WetScorePct", "AwardScorePct", "Vehicle", "Size", "PriceGBP", "IsOffer", "PriceFluct",
	"Orders", "Units", "Goldilocks", "PremShare", "MidShare", "BudShare", "RFShare",
	"Status", "Views", "ClickRate",
}

// PromptValues returns the row's fields in PromptHeaders order.
func (r *CandidateRow) PromptValues() []string {
	return []string{
		r.TyreScore, r.ProductID, r.Grade, r.Brand, r.Model, r.WetGrip, r.Fuel, r.NoiseReduction,
		r.SeasonalPerformance, r.OE, r.AwardScore, r.RunflatStatus, r.Segment, r.PricePct, r.GradePct, r.FuelPct,
		r.WetGripPct, r.AwardScorePct, r.Vehicle, r.Size, r.Price, r.Offer, r.PriceFluctuation,
		r.Orders, r.Units, r.GoldilocksZone, r.PremiumShare, r.MidRangeShare, r.BudgetShare, r.RunflatShare,
		r.SalesStatus, r.ProductListViews, r.ClickstreamRate,
	}
}

// selectColumns lists the warehouse columns in scanCandidate order.
const selectColumns = `TyreScore, ProductId, GRADE, BRAND, Model, WET_GRIP, FUEL, NOISE_REDUCTION,
	SEASONAL_PERFORMANCE, OE, AWARD_SCORE, RunflatStatus, Segment, PRICE_pct, GRADE_pct, FUEL_pct,
	WET_GRIP_pct, AWARD_SCORE_pct, Vehicle, SIZE, PRICE, OFFER, PRICEFLUCTUATION,
	Orders, Units, GoldilocksZone, PremiumShare, MidRangeShare, BudgetShare, RunflatShare,
	SalesStatus, PRODUCTLISTVIEWS, CLICKSTREAMRATE`

// scanCandidate reads one result row. NULLs become empty strings; numeric
// columns are stringified by database/sql.
func scanCandidate(rows *sql.Rows) (CandidateRow, error) {
	var (
		tyreScore, productID, grade, brand, model                  sql.NullString
		wetGrip, fuel, noiseReduction, seasonalPerformance, oe     sql.NullString
		awardScore, runflatStatus, segment, pricePct, gradePct     sql.NullString
		fuelPct, wetGripPct, awardScorePct, vehicle, size          sql.NullString
		price, offer, priceFluctuation, orders, units              sql.NullString
		goldilocksZone, premiumShare, midRangeShare, budgetShare   sql.NullString
		runflatShare, salesStatus, productListViews, clickstream   sql.NullString
	)

	err := rows.Scan(
		&tyreScore, &productID, &grade, &brand, &model, &wetGrip, &fuel, &noiseReduction,
		&seasonalPerformance, &oe, &awardScore, &runflatStatus, &segment, &pricePct, &gradePct, &fuelPct,
		&wetGripPct, &awardScorePct, &vehicle, &size, &price, &offer, &priceFluctuation,
		&orders, &units, &goldilocksZone, &premiumShare, &midRangeShare, &budgetShare, &runflatShare,
		&salesStatus, &productListViews, &clickstream,
	)
	if err != nil {
		return CandidateRow{}, err
	}

	return CandidateRow{
		TyreScore:           tyreScore.String,
		ProductID:           productID.String,
		Grade:               grade.String,
		Brand:               brand.String,
		Model:               model.String,
		WetGrip:             wetGrip.String,
		Fuel:                fuel.String,
		NoiseReduction:      noiseReduction.String,
		SeasonalPerformance: seasonalPerformance.String,
		OE:                  oe.String,
		AwardScore:          awardScore.String,
		RunflatStatus:       runflatStatus.String,
		Segment:             segment.String,
		PricePct:            pricePct.String,
		GradePct:            gradePct.String,
		FuelPct:             fuelPct.String,
		WetGripPct:          wetGripPct.String,
		AwardScorePct:       awardScorePct.String,
		Vehicle:             vehicle.String,
		Size:                size.String,
		Price:               price.String,
		Offer:               offer.String,
		PriceFluctuation:    priceFluctuation.String,
		Orders:              orders.String,
		Units:               units.String,
		GoldilocksZone:      goldilocksZone.String,
		PremiumShare:        premiumShare.String,
		MidRangeShare:       midRangeShare.String,
		BudgetShare:         budgetShare.String,
		RunflatShare:        runflatShare.String,
		SalesStatus:         salesStatus.String,
		ProductListViews:    productListViews.String,
		ClickstreamRate:     clickstream.String,
	}, nil
}
