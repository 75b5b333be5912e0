package models

import "time"

// CapitalGainsRow is one row of the capital-gains table: one disposal leg.
// USD amounts are already rounded to cents by the report exporter.
type CapitalGainsRow struct {
	Asset              string    `json:"asset_symbol"`
	AcquiredAt         time.Time `json:"acquired_at"`
	DisposedAt         time.Time `json:"disposed_at"`
	Quantity           string    `json:"quantity"`
	ProceedsUSD        string    `json:"proceeds_usd"`
	CostBasisUSD       string    `json:"cost_basis_usd"`
	GainLossUSD        string    `json:"gain_loss_usd"`
	Holding            string    `json:"holding_period"`
	WashSaleDisallowed bool      `json:"wash_sale_disallowed"`
	FlaggedForReview   bool      `json:"flagged_for_review"`
}

// IncomeRow is one row of the ordinary-income table.
type IncomeRow struct {
	Asset      string    `json:"asset_symbol"`
	ReceivedAt time.Time `json:"received_at"`
	Quantity   string    `json:"quantity"`
	FMVUSD     string    `json:"fmv_usd"`
	ValueUSD   string    `json:"value_usd"`
}

// HoldingRow is one open lot in the end-of-year holdings snapshot.
type HoldingRow struct {
	LotID             string    `json:"lot_id"`
	Asset             string    `json:"asset_symbol"`
	Wallet            string    `json:"wallet"`
	OpenedAt          time.Time `json:"opened_at"`
	RemainingQuantity string    `json:"remaining_quantity"`
	UnitCostBasis     string    `json:"unit_cost_basis"`
}

// YearReport bundles everything the export contract requires for one
// finalized tax year.
type YearReport struct {
	Year           int               `json:"year"`
	CapitalGains   []CapitalGainsRow `json:"capital_gains"`
	Income         []IncomeRow       `json:"income"`
	Holdings       []HoldingRow      `json:"holdings"`
	Carryover      CarryoverRecord   `json:"carryover"`
	TotalShortUSD  string            `json:"total_short_usd"`
	TotalLongUSD   string            `json:"total_long_usd"`
	TotalIncomeUSD string            `json:"total_income_usd"`
}
