package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

// Disposal states. A disposal moves strictly forward through these within a
// run; once FINALIZED it is never re-opened.
const (
	statePendingConsumption = "PENDING_CONSUMPTION"
	stateConsumed           = "CONSUMED"
	stateWashSaleCheck      = "WASH_SALE_CHECK"
	stateFinalized          = "FINALIZED"
)

// longTermHolding is the minimum holding period for long-term treatment.
const longTermHolding = 365 * 24 * time.Hour

// DisposalEngine turns SELL/SPEND transactions into finalized disposal
// events: it consumes lots from the ledger under the configured accounting
// method, computes per-lot gain/loss legs, and hands loss disposals to the
// wash-sale engine before finalizing.
type DisposalEngine struct {
	ledger    *LotLedger
	ordering  LotOrdering
	washSales *WashSaleEngine
	estimator BasisEstimator
}

func NewDisposalEngine(ledger *LotLedger, ordering LotOrdering, washSales *WashSaleEngine, estimator BasisEstimator) *DisposalEngine {
	return &DisposalEngine{
		ledger:    ledger,
		ordering:  ordering,
		washSales: washSales,
		estimator: estimator,
	}
}

// Dispose processes the SELL/SPEND transaction at position pos in its asset's
// stream; the stream lets the wash-sale check see replacement purchases that
// postdate the sale. Recoverable conditions (unknown price, unmatched
// quantity) flag the event for review and continue; only corrupt ledger state
// returns an error, which aborts the year's run.
func (e *DisposalEngine) Dispose(tx *models.Transaction, stream []models.Transaction, pos int) (*models.DisposalEvent, error) {
	state := statePendingConsumption

	event := &models.DisposalEvent{
		DisposalID:            uuid.NewString(),
		TransactionRef:        tx.ExternalID,
		Asset:                 tx.Asset,
		Wallet:                tx.Source,
		DisposedAt:            tx.Timestamp,
		Quantity:              tx.Quantity,
		WashSaleDisallowedUSD: decimal.Zero,
	}

	consumed, unmatched, err := e.ledger.Consume(tx.Asset, tx.Quantity, e.ordering)
	if err != nil {
		return nil, err
	}
	event.ConsumedLots = consumed
	state = stateConsumed

	unitPrice, priceEstimated := e.resolveUnitPrice(tx, consumed)
	if priceEstimated {
		event.FlaggedForReview = true
		event.ReviewReason = appendReason(event.ReviewReason, "sale price unresolvable")
	}

	grossProceeds := tx.Quantity.Mul(unitPrice)
	netProceeds := grossProceeds.Sub(e.allocatedFee(tx, unitPrice))

	// Build per-lot legs; a disposal spanning several lots can yield both
	// short- and long-term sub-events. Proceeds allocate pro rata by
	// quantity; the final leg takes the remainder so legs sum exactly.
	allocatedProceeds := decimal.Zero
	legCount := len(consumed)
	if unmatched.IsPositive() {
		legCount++
	}
	for i, c := range consumed {
		var legProceeds decimal.Decimal
		if i == legCount-1 {
			legProceeds = netProceeds.Sub(allocatedProceeds)
		} else {
			legProceeds = netProceeds.Mul(c.QuantityConsumed).Div(tx.Quantity)
			allocatedProceeds = allocatedProceeds.Add(legProceeds)
		}
		legBasis := c.QuantityConsumed.Mul(c.UnitCostBasis)
		holding := models.HoldingShort
		if !tx.Timestamp.Before(c.OpenedAt.Add(longTermHolding)) {
			holding = models.HoldingLong
		}
		event.Legs = append(event.Legs, models.DisposalLeg{
			LotID:        c.LotID,
			AcquiredAt:   c.OpenedAt,
			Quantity:     c.QuantityConsumed,
			ProceedsUSD:  legProceeds,
			CostBasisUSD: legBasis,
			GainLossUSD:  legProceeds.Sub(legBasis),
			Holding:      holding,
		})
	}

	if unmatched.IsPositive() {
		// Sell exceeds available lots. The ledger returned partial
		// consumption; the remainder falls back to an estimated market-price
		// basis rather than zero, and the event is flagged for audit.
		legProceeds := netProceeds.Sub(allocatedProceeds)
		estimatedUnitBasis, estErr := e.estimator.EstimateUnitBasis(tx.Asset, tx.Timestamp)
		if estErr != nil {
			// Even the estimate is unknown: assume the remainder was
			// acquired at the sale price (zero gain) so no phantom
			// zero-basis gain reaches the report.
			estimatedUnitBasis = unitPrice
			event.ReviewReason = appendReason(event.ReviewReason, "unmatched quantity with no estimable basis")
		}
		legBasis := unmatched.Mul(estimatedUnitBasis)
		event.Legs = append(event.Legs, models.DisposalLeg{
			AcquiredAt:   tx.Timestamp,
			Quantity:     unmatched,
			ProceedsUSD:  legProceeds,
			CostBasisUSD: legBasis,
			GainLossUSD:  legProceeds.Sub(legBasis),
			Holding:      models.HoldingShort,
			Estimated:    true,
		})
		event.FlaggedForReview = true
		event.ReviewReason = appendReason(event.ReviewReason, "sell exceeded open lot quantity")
		logger.L.Warn("unmatched sell recovered via estimated basis",
			"asset", tx.Asset, "unmatched", unmatched.String(), "externalID", tx.ExternalID)
	}

	for _, leg := range event.Legs {
		event.ProceedsUSD = event.ProceedsUSD.Add(leg.ProceedsUSD)
		event.CostBasisUSD = event.CostBasisUSD.Add(leg.CostBasisUSD)
	}
	event.GainLossUSD = event.ProceedsUSD.Sub(event.CostBasisUSD)

	if event.GainLossUSD.IsNegative() {
		state = stateWashSaleCheck
		if err := e.washSales.Apply(event, stream, pos); err != nil {
			return nil, err
		}
	}

	state = stateFinalized
	logger.L.Debug("disposal finalized",
		"asset", tx.Asset,
		"state", state,
		"quantity", tx.Quantity.String(),
		"gainLoss", event.GainLossUSD.String(),
		"disallowed", event.WashSaleDisallowedUSD.String())
	return event, nil
}

// resolveUnitPrice returns the USD unit price for the disposal and whether it
// had to be estimated. When the ingested record has no resolvable price the
// engine falls back to the basis estimator; if that too is unknown, the sale
// is priced at the weighted basis of the consumed lots so the gain is zero
// and review catches it, never a zero substitution.
func (e *DisposalEngine) resolveUnitPrice(tx *models.Transaction, consumed []models.LotConsumption) (decimal.Decimal, bool) {
	if tx.PriceKnown {
		return tx.UnitPriceUSD, false
	}
	if est, err := e.estimator.EstimateUnitBasis(tx.Asset, tx.Timestamp); err == nil {
		return est, true
	}
	totalQty := decimal.Zero
	totalBasis := decimal.Zero
	for _, c := range consumed {
		totalQty = totalQty.Add(c.QuantityConsumed)
		totalBasis = totalBasis.Add(c.QuantityConsumed.Mul(c.UnitCostBasis))
	}
	if totalQty.IsPositive() {
		return totalBasis.Div(totalQty), true
	}
	return decimal.Zero, true
}

// allocatedFee converts the transaction's fee into USD for deduction from
// proceeds. Fees denominated in the disposed asset are valued at the sale
// price; USD fees pass through; anything else is ignored here and settled by
// its own FEE transaction.
func (e *DisposalEngine) allocatedFee(tx *models.Transaction, unitPrice decimal.Decimal) decimal.Decimal {
	if tx.FeeQuantity.IsZero() {
		return decimal.Zero
	}
	switch tx.FeeAsset {
	case "", "USD":
		return tx.FeeQuantity
	case tx.Asset:
		return tx.FeeQuantity.Mul(unitPrice)
	default:
		return decimal.Zero
	}
}

func appendReason(existing, reason string) string {
	if existing == "" {
		return reason
	}
	return existing + "; " + reason
}
