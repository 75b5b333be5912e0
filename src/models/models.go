package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot origin markers.
const (
	OriginPurchase = "PURCHASE"
	OriginIncome   = "INCOME"
)

// Holding period classifications for a disposal leg.
const (
	HoldingShort = "SHORT"
	HoldingLong  = "LONG"
)

// TaxLot is a discrete acquisition of an asset tracked separately for
// cost-basis purposes. RemainingQuantity only decreases, via the ledger's
// consumption API; a lot at zero remains in the ledger for the audit trail.
type TaxLot struct {
	LotID             string          `json:"lot_id"`
	Asset             string          `json:"asset_symbol"`
	Wallet            string          `json:"wallet"`
	OpenedAt          time.Time       `json:"opened_at"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCostBasis     decimal.Decimal `json:"unit_cost_basis"`
	Origin            string          `json:"origin"`
	// TransferredOut accumulates quantity moved to other wallets. Transfer
	// clones keep the acquisition date, so replacement scans subtract this
	// from the source lot to count each acquisition exactly once.
	TransferredOut decimal.Decimal `json:"transferred_out"`
}

// LotConsumption records one lot's contribution to a disposal.
type LotConsumption struct {
	LotID            string          `json:"lot_id"`
	QuantityConsumed decimal.Decimal `json:"quantity_consumed"`
	UnitCostBasis    decimal.Decimal `json:"unit_cost_basis"`
	OpenedAt         time.Time       `json:"opened_at"`
}

// DisposalLeg is the per-consumed-lot sub-event of a disposal. A single sell
// spanning several lots can produce both short- and long-term legs.
type DisposalLeg struct {
	LotID        string          `json:"lot_id"`
	AcquiredAt   time.Time       `json:"acquired_at"`
	Quantity     decimal.Decimal `json:"quantity"`
	ProceedsUSD  decimal.Decimal `json:"proceeds_usd"`
	CostBasisUSD decimal.Decimal `json:"cost_basis_usd"`
	GainLossUSD  decimal.Decimal `json:"gain_loss_usd"`
	Holding      string          `json:"holding_period"`
	// Estimated is set when this leg's basis came from the unmatched-sell
	// fallback rather than an open lot.
	Estimated bool `json:"estimated,omitempty"`
}

// DisposalEvent is the immutable derived record of a SELL/SPEND transaction.
type DisposalEvent struct {
	DisposalID            string           `json:"disposal_id"`
	TransactionRef        string           `json:"transaction_ref"`
	Asset                 string           `json:"asset_symbol"`
	Wallet                string           `json:"wallet"`
	DisposedAt            time.Time        `json:"disposed_at"`
	Quantity              decimal.Decimal  `json:"quantity"`
	ConsumedLots          []LotConsumption `json:"consumed_lots"`
	Legs                  []DisposalLeg    `json:"legs"`
	ProceedsUSD           decimal.Decimal  `json:"proceeds_usd"`
	CostBasisUSD          decimal.Decimal  `json:"cost_basis_usd"`
	GainLossUSD           decimal.Decimal  `json:"realized_gain_loss"`
	WashSaleDisallowedUSD decimal.Decimal  `json:"wash_sale_disallowed_usd"`
	// FlaggedForReview marks disposals that recovered from an unresolvable
	// price or an unmatched-sell condition and need human attention.
	FlaggedForReview bool   `json:"flagged_for_review"`
	ReviewReason     string `json:"review_reason,omitempty"`
}

// AllowedLoss is the gain/loss that counts toward the year's net figure
// after wash-sale disallowance moved the raw figure toward zero.
func (d *DisposalEvent) AllowedLoss() decimal.Decimal {
	return d.GainLossUSD.Add(d.WashSaleDisallowedUSD)
}

// WashSaleAdjustment records the deferral of a disallowed loss onto one
// replacement lot.
type WashSaleAdjustment struct {
	LossDisposalRef      string          `json:"loss_disposal_ref"`
	ReplacementLotID     string          `json:"replacement_lot_id"`
	ReplacementQuantity  decimal.Decimal `json:"replacement_quantity"`
	DisallowedProportion decimal.Decimal `json:"disallowed_proportion"`
	DisallowedAmountUSD  decimal.Decimal `json:"disallowed_amount_usd"`
}

// IncomeEvent is ordinary income recognized at receipt of an income-type
// transaction, valued at fair market value on the receipt date.
type IncomeEvent struct {
	EventID    string          `json:"event_id"`
	LotID      string          `json:"lot_id"`
	Asset      string          `json:"asset_symbol"`
	ReceivedAt time.Time       `json:"received_at"`
	Quantity   decimal.Decimal `json:"quantity"`
	FMVUSD     decimal.Decimal `json:"fmv_usd"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	Source     string          `json:"source"`
	DedupKey   string          `json:"dedup_key"`
}

// CarryoverRecord is written once at year-end close and never mutated after
// the year is finalized; only the following year's record is ever new.
type CarryoverRecord struct {
	Year                  int             `json:"year"`
	NetCapitalLoss        decimal.Decimal `json:"net_capital_loss_generated"`
	AmountAppliedThisYear decimal.Decimal `json:"amount_applied_this_year"`
	AmountCarriedForward  decimal.Decimal `json:"amount_carried_forward"`
}

// ReviewItem is a transaction queued for manual price entry because the
// price resolver returned UNKNOWN.
type ReviewItem struct {
	ID         int64           `json:"id,omitempty"`
	ExternalID string          `json:"external_id"`
	Asset      string          `json:"asset_symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
}
