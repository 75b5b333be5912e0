package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

// WashSaleEngine runs after a loss disposal has been computed. It scans the
// replacement window around the disposal date, disallows the proportional
// part of the loss, and defers the disallowed amount onto the replacement
// lots' cost basis through the ledger.
//
// The window is two-sided. Lots already open cover the backward half; the
// forward half is found by looking ahead in the asset's transaction stream,
// and the basis bump for a not-yet-opened replacement lot is held pending
// until the replay opens it.
type WashSaleEngine struct {
	ledger      *LotLedger
	windowDays  int
	crossWallet bool
	// pending basis bumps keyed by the stream index of the future
	// replacement transaction. Two loss sales can share one replacement
	// purchase, hence the slice.
	pending     map[int][]*pendingAdjustment
	adjustments []*models.WashSaleAdjustment
}

type pendingAdjustment struct {
	asset   string
	perUnit decimal.Decimal
	record  *models.WashSaleAdjustment
}

func NewWashSaleEngine(ledger *LotLedger, windowDays int, crossWallet bool) *WashSaleEngine {
	return &WashSaleEngine{
		ledger:      ledger,
		windowDays:  windowDays,
		crossWallet: crossWallet,
		pending:     make(map[int][]*pendingAdjustment),
	}
}

// replacement is one contributor to the window's replacement quantity: either
// an already-open lot or a future transaction at streamIdx.
type replacement struct {
	lotID            string
	originalQuantity decimal.Decimal
	streamIdx        int
	qty              decimal.Decimal
}

// Apply computes and applies the wash-sale adjustment for a loss disposal at
// position pos in its asset's stream. It mutates d.WashSaleDisallowedUSD and
// the replacement lots' basis (via the ledger, immediately for open lots and
// on ClaimDeferred for future ones). A non-loss disposal is a no-op.
func (w *WashSaleEngine) Apply(d *models.DisposalEvent, stream []models.Transaction, pos int) error {
	if !d.GainLossUSD.IsNegative() {
		return nil
	}

	window := time.Duration(w.windowDays) * 24 * time.Hour
	from := d.DisposedAt.Add(-window)
	to := d.DisposedAt.Add(window)

	// Quantity this disposal consumed from each lot. Those units were sold
	// in the loss sale itself and cannot double as their own replacement.
	consumedBy := make(map[string]decimal.Decimal, len(d.ConsumedLots))
	for _, c := range d.ConsumedLots {
		consumedBy[c.LotID] = consumedBy[c.LotID].Add(c.QuantityConsumed)
	}

	var replacements []replacement
	replacementQty := decimal.Zero
	for _, lot := range w.ledger.LotsOpenedBetween(d.Asset, from, to) {
		if !w.crossWallet && lot.Wallet != d.Wallet {
			continue
		}
		// Quantity moved to another wallet lives on as a transfer clone with
		// the same acquisition date; subtracting it here keeps the acquisition
		// from contributing twice.
		qty := lot.OriginalQuantity.Sub(consumedBy[lot.LotID]).Sub(lot.TransferredOut)
		if !qty.IsPositive() {
			continue
		}
		replacements = append(replacements, replacement{
			lotID:            lot.LotID,
			originalQuantity: lot.OriginalQuantity,
			streamIdx:        -1,
			qty:              qty,
		})
		replacementQty = replacementQty.Add(qty)
	}
	for j := pos + 1; j < len(stream); j++ {
		tx := &stream[j]
		if tx.Timestamp.After(to) {
			break
		}
		switch tx.Action {
		case models.ActionBuy, models.ActionDeposit, models.ActionIncome:
		default:
			continue
		}
		if !w.crossWallet && tx.Source != d.Wallet {
			continue
		}
		if !tx.Quantity.IsPositive() {
			continue
		}
		replacements = append(replacements, replacement{
			streamIdx:        j,
			originalQuantity: tx.Quantity,
			qty:              tx.Quantity,
		})
		replacementQty = replacementQty.Add(tx.Quantity)
	}
	if replacementQty.IsZero() {
		return nil
	}

	// min(replacement, disposed) / disposed, never a flat ratio that can
	// exceed 1. Rounded to the engine's fixed precision before it multiplies
	// anything so rounding error does not compound.
	proportion := utils.MinDecimal(replacementQty, d.Quantity).Div(d.Quantity)
	proportion = utils.RoundQuantity(proportion)
	if proportion.GreaterThan(decimal.NewFromInt(1)) {
		proportion = decimal.NewFromInt(1)
	}

	disallowed := d.GainLossUSD.Abs().Mul(proportion)
	d.WashSaleDisallowedUSD = disallowed

	// Spread the deferred loss across replacement lots pro rata by each
	// lot's contribution; the last lot takes the remainder so the per-lot
	// allocations sum exactly to the disallowed amount.
	allocated := decimal.Zero
	for i, r := range replacements {
		var alloc decimal.Decimal
		if i == len(replacements)-1 {
			alloc = disallowed.Sub(allocated)
		} else {
			alloc = disallowed.Mul(r.qty).Div(replacementQty)
			allocated = allocated.Add(alloc)
		}
		record := &models.WashSaleAdjustment{
			LossDisposalRef:      d.DisposalID,
			ReplacementLotID:     r.lotID,
			ReplacementQuantity:  r.qty,
			DisallowedProportion: proportion,
			DisallowedAmountUSD:  alloc,
		}
		perUnit := alloc.Div(r.originalQuantity)
		if r.streamIdx >= 0 {
			w.pending[r.streamIdx] = append(w.pending[r.streamIdx], &pendingAdjustment{
				asset:   d.Asset,
				perUnit: perUnit,
				record:  record,
			})
		} else if err := w.ledger.AdjustUnitBasis(d.Asset, r.lotID, perUnit); err != nil {
			return err
		}
		w.adjustments = append(w.adjustments, record)
	}

	logger.L.Debug("wash sale adjustment applied",
		"asset", d.Asset,
		"disposalID", d.DisposalID,
		"replacementQty", replacementQty.String(),
		"proportion", proportion.String(),
		"disallowedUSD", disallowed.String())
	return nil
}

// ClaimDeferred attaches pending basis bumps to the lot that was just opened
// for the transaction at streamIdx. A no-op when no loss sale claimed it.
func (w *WashSaleEngine) ClaimDeferred(streamIdx int, lotID string) error {
	pending, ok := w.pending[streamIdx]
	if !ok {
		return nil
	}
	delete(w.pending, streamIdx)
	for _, p := range pending {
		p.record.ReplacementLotID = lotID
		if err := w.ledger.AdjustUnitBasis(p.asset, lotID, p.perUnit); err != nil {
			return err
		}
	}
	return nil
}

// Adjustments returns every adjustment recorded during the replay, in the
// order the loss disposals produced them.
func (w *WashSaleEngine) Adjustments() []models.WashSaleAdjustment {
	out := make([]models.WashSaleAdjustment, 0, len(w.adjustments))
	for _, a := range w.adjustments {
		out = append(out, *a)
	}
	return out
}
