package engine

import (
	"github.com/google/uuid"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

// IncomeRecognizer converts income-type transactions (staking rewards,
// airdrops, hard forks) into newly opened tax lots valued at fair market
// value on the receipt date, and emits the matching ordinary-income event.
type IncomeRecognizer struct {
	ledger   *LotLedger
	resolver PriceResolver
	// seen holds the dedup keys recognized so far. Preloaded with keys from
	// prior runs so re-uploads of the same reward feed are rejected.
	seen map[string]bool
}

func NewIncomeRecognizer(ledger *LotLedger, resolver PriceResolver, priorKeys []string) *IncomeRecognizer {
	seen := make(map[string]bool, len(priorKeys))
	for _, k := range priorKeys {
		seen[k] = true
	}
	return &IncomeRecognizer{
		ledger:   ledger,
		resolver: resolver,
		seen:     seen,
	}
}

// Recognize opens an INCOME-origin lot for the transaction and returns the
// income event. Outcomes:
//   - duplicate dedup key: returns DuplicateIncomeError; no ledger effect.
//   - unresolvable price: returns a ReviewItem and no event; the transaction
//     is queued for manual price entry instead of defaulting to a zero basis,
//     which would later manufacture a phantom gain of 100% of proceeds.
func (r *IncomeRecognizer) Recognize(tx *models.Transaction) (*models.IncomeEvent, *models.ReviewItem, error) {
	key := tx.DedupKey()
	if r.seen[key] {
		return nil, nil, &DuplicateIncomeError{DedupKey: key}
	}

	fmv := tx.UnitPriceUSD
	if !tx.PriceKnown {
		resolved, err := r.resolver.Resolve(tx.Asset, tx.Timestamp)
		if err != nil {
			logger.L.Warn("income price unresolvable, queuing for manual entry",
				"asset", tx.Asset, "timestamp", tx.Timestamp, "externalID", tx.ExternalID)
			return nil, &models.ReviewItem{
				ExternalID: tx.ExternalID,
				Asset:      tx.Asset,
				Timestamp:  tx.Timestamp,
				Quantity:   tx.Quantity,
				Reason:     "income FMV unresolvable",
			}, nil
		}
		fmv = resolved
	}

	lotID, err := r.ledger.OpenLot(tx.Asset, tx.Source, tx.Quantity, fmv, tx.Timestamp, models.OriginIncome)
	if err != nil {
		return nil, nil, err
	}
	r.seen[key] = true

	event := &models.IncomeEvent{
		EventID:    uuid.NewString(),
		LotID:      lotID,
		Asset:      tx.Asset,
		ReceivedAt: tx.Timestamp,
		Quantity:   tx.Quantity,
		FMVUSD:     fmv,
		ValueUSD:   tx.Quantity.Mul(fmv),
		Source:     tx.Source,
		DedupKey:   key,
	}
	return event, nil, nil
}
