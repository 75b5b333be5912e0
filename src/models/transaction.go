package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction actions as delivered by the ingestion collaborator.
const (
	ActionBuy        = "BUY"
	ActionSell       = "SELL"
	ActionIncome     = "INCOME"
	ActionTransfer   = "TRANSFER"
	ActionFee        = "FEE"
	ActionDeposit    = "DEPOSIT"
	ActionWithdrawal = "WITHDRAWAL"
	ActionTrade      = "TRADE"
)

// Transaction is the unified representation of an ingested transaction.
// It is immutable once ingested; the engine never writes back into it.
// Decimal fields are populated from string form at the ingestion boundary so
// no binary floating point ever enters the arithmetic path.
type Transaction struct {
	ID           int64           `json:"id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Asset        string          `json:"asset_symbol"`
	Action       string          `json:"action"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	// PriceKnown is false when the price resolver (or the source record)
	// could not produce a USD unit price. The engine must treat that as an
	// explicit unknown, never as zero.
	PriceKnown  bool            `json:"price_known"`
	FeeQuantity decimal.Decimal `json:"fee_quantity"`
	FeeAsset    string          `json:"fee_asset"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	ExternalID  string          `json:"external_id"`
}

// DedupKey builds the deduplication key for income-type transactions arriving
// from multiple reward-tracking sources. Timestamp granularity is one second,
// not one day: same-asset rewards landing several times per day must not
// collide.
func (t *Transaction) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s",
		t.Timestamp.UTC().Format("2006-01-02T15:04:05"),
		t.Asset,
		t.Quantity.String(),
		t.Source,
	)
}

// RawTransaction is a transaction as it appears in an upload payload, with
// all numeric fields in string form. Parsing through strings keeps base-2
// rounding artifacts out of the decimal domain.
type RawTransaction struct {
	Timestamp    string `json:"timestamp"`
	Asset        string `json:"asset_symbol"`
	Action       string `json:"action"`
	Quantity     string `json:"quantity"`
	UnitPriceUSD string `json:"unit_price_usd"` // empty or "unknown" when unresolved
	FeeQuantity  string `json:"fee_quantity"`
	FeeAsset     string `json:"fee_asset"`
	Source       string `json:"source"`
	Destination  string `json:"destination"`
	ExternalID   string `json:"external_id"`
}
