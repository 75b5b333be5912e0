package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

// LotLedger is the authoritative per-asset inventory of tax lots. It
// exclusively owns lot mutation: the disposal and wash-sale engines read
// lots and request changes through this API, never by touching lot state
// directly. A ledger instance is owned by a single replay; it is not safe
// for concurrent use across assets sharing one instance.
type LotLedger struct {
	lotsByAsset map[string][]*models.TaxLot
}

func NewLotLedger() *LotLedger {
	return &LotLedger{
		lotsByAsset: make(map[string][]*models.TaxLot),
	}
}

// OpenLot records a new acquisition and returns its lot ID. Lots are kept in
// acquisition order so FIFO consumption is a front-to-back walk.
func (l *LotLedger) OpenLot(asset, wallet string, quantity, unitCost decimal.Decimal, openedAt time.Time, origin string) (string, error) {
	if !quantity.IsPositive() {
		return "", fmt.Errorf("engine: lot quantity must be positive, got %s", quantity.String())
	}
	if unitCost.IsNegative() {
		return "", fmt.Errorf("engine: lot unit cost must not be negative, got %s", unitCost.String())
	}
	lot := &models.TaxLot{
		LotID:             uuid.NewString(),
		Asset:             asset,
		Wallet:            wallet,
		OpenedAt:          openedAt,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		UnitCostBasis:     unitCost,
		Origin:            origin,
	}
	lots := append(l.lotsByAsset[asset], lot)
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].OpenedAt.Before(lots[j].OpenedAt)
	})
	l.lotsByAsset[asset] = lots
	return lot.LotID, nil
}

// RemainingBalance returns the total remaining quantity held for an asset.
func (l *LotLedger) RemainingBalance(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lotsByAsset[asset] {
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}

// Consume draws quantity from open lots under the given ordering and returns
// the ordered consumptions plus any unmatched remainder. A request exceeding
// the remaining balance does not fail: the caller resolves the unmatched
// quantity through the estimated-basis fallback.
func (l *LotLedger) Consume(asset string, quantity decimal.Decimal, ordering LotOrdering) ([]models.LotConsumption, decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("engine: consume quantity must be positive, got %s", quantity.String())
	}

	var consumed []models.LotConsumption
	remaining := quantity
	for remaining.IsPositive() {
		lot := l.nextOpenLot(asset, ordering)
		if lot == nil {
			break
		}
		take := utils.MinDecimal(lot.RemainingQuantity, remaining)
		lot.RemainingQuantity = lot.RemainingQuantity.Sub(take)
		if lot.RemainingQuantity.IsNegative() {
			return nil, decimal.Zero, &CorruptLotStateError{
				LotID:  lot.LotID,
				Asset:  asset,
				Detail: "remaining quantity went negative during consumption",
				Value:  lot.RemainingQuantity,
			}
		}
		consumed = append(consumed, models.LotConsumption{
			LotID:            lot.LotID,
			QuantityConsumed: take,
			UnitCostBasis:    lot.UnitCostBasis,
			OpenedAt:         lot.OpenedAt,
		})
		remaining = remaining.Sub(take)
	}
	return consumed, remaining, nil
}

// nextOpenLot picks the lot the next unit is drawn from. For HIFO the choice
// is re-evaluated on every call: once a lot is exhausted mid-disposal the
// highest-cost candidate can change.
func (l *LotLedger) nextOpenLot(asset string, ordering LotOrdering) *models.TaxLot {
	var best *models.TaxLot
	for _, lot := range l.lotsByAsset[asset] {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		switch ordering {
		case HighestCostFirst:
			if best == nil || lot.UnitCostBasis.GreaterThan(best.UnitCostBasis) {
				best = lot
			}
		default: // OldestFirst; slice is kept in acquisition order
			return lot
		}
	}
	return best
}

// AdjustUnitBasis raises a lot's unit cost basis. This is the wash-sale
// deferral entry point: a disallowed loss is pushed onto the replacement
// lot's basis rather than discarded.
func (l *LotLedger) AdjustUnitBasis(asset, lotID string, addPerUnit decimal.Decimal) error {
	if addPerUnit.IsNegative() {
		return fmt.Errorf("engine: basis adjustment must not be negative, got %s", addPerUnit.String())
	}
	for _, lot := range l.lotsByAsset[asset] {
		if lot.LotID == lotID {
			lot.UnitCostBasis = lot.UnitCostBasis.Add(addPerUnit)
			return nil
		}
	}
	return fmt.Errorf("engine: unknown lot %s for asset %s", lotID, asset)
}

// TransferLots moves quantity between wallets, oldest lots first, preserving
// each moved slice's acquisition date and unit cost basis. A transfer has no
// gain/loss effect.
func (l *LotLedger) TransferLots(asset, fromWallet, toWallet string, quantity decimal.Decimal) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("engine: transfer quantity must be positive, got %s", quantity.String())
	}
	remaining := quantity
	var opened []*models.TaxLot
	for _, lot := range l.lotsByAsset[asset] {
		if !remaining.IsPositive() {
			break
		}
		if lot.Wallet != fromWallet || !lot.RemainingQuantity.IsPositive() {
			continue
		}
		take := utils.MinDecimal(lot.RemainingQuantity, remaining)
		lot.RemainingQuantity = lot.RemainingQuantity.Sub(take)
		lot.TransferredOut = lot.TransferredOut.Add(take)
		opened = append(opened, &models.TaxLot{
			LotID:             uuid.NewString(),
			Asset:             asset,
			Wallet:            toWallet,
			OpenedAt:          lot.OpenedAt,
			OriginalQuantity:  take,
			RemainingQuantity: take,
			UnitCostBasis:     lot.UnitCostBasis,
			Origin:            lot.Origin,
		})
		remaining = remaining.Sub(take)
	}
	if len(opened) > 0 {
		lots := append(l.lotsByAsset[asset], opened...)
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].OpenedAt.Before(lots[j].OpenedAt)
		})
		l.lotsByAsset[asset] = lots
	}
	return remaining, nil
}

// Lot returns a copy of a lot by ID.
func (l *LotLedger) Lot(asset, lotID string) (models.TaxLot, bool) {
	for _, lot := range l.lotsByAsset[asset] {
		if lot.LotID == lotID {
			return *lot, true
		}
	}
	return models.TaxLot{}, false
}

// LotsOpenedBetween returns copies of lots for an asset opened inside the
// given window, in acquisition order. Used by the wash-sale scan.
func (l *LotLedger) LotsOpenedBetween(asset string, from, to time.Time) []models.TaxLot {
	var out []models.TaxLot
	for _, lot := range l.lotsByAsset[asset] {
		if lot.OpenedAt.Before(from) || lot.OpenedAt.After(to) {
			continue
		}
		out = append(out, *lot)
	}
	return out
}

// OpenLots returns copies of the lots still holding quantity for an asset.
func (l *LotLedger) OpenLots(asset string) []models.TaxLot {
	var out []models.TaxLot
	for _, lot := range l.lotsByAsset[asset] {
		if lot.RemainingQuantity.IsPositive() {
			out = append(out, *lot)
		}
	}
	return out
}

// AllLots returns copies of every lot for an asset, closed lots included;
// exhausted lots stay in the ledger for the audit trail.
func (l *LotLedger) AllLots(asset string) []models.TaxLot {
	out := make([]models.TaxLot, 0, len(l.lotsByAsset[asset]))
	for _, lot := range l.lotsByAsset[asset] {
		out = append(out, *lot)
	}
	return out
}

// Assets lists every asset the ledger has seen, sorted for deterministic
// iteration.
func (l *LotLedger) Assets() []string {
	assets := make([]string, 0, len(l.lotsByAsset))
	for asset := range l.lotsByAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// CheckInvariants walks every lot and returns a CorruptLotStateError on the
// first violated invariant. Called before a year is finalized.
func (l *LotLedger) CheckInvariants() error {
	for asset, lots := range l.lotsByAsset {
		for _, lot := range lots {
			if lot.RemainingQuantity.IsNegative() {
				return &CorruptLotStateError{
					LotID: lot.LotID, Asset: asset,
					Detail: "negative remaining quantity",
					Value:  lot.RemainingQuantity,
				}
			}
			if lot.RemainingQuantity.GreaterThan(lot.OriginalQuantity) {
				return &CorruptLotStateError{
					LotID: lot.LotID, Asset: asset,
					Detail: "remaining quantity exceeds original quantity",
					Value:  lot.RemainingQuantity,
				}
			}
		}
	}
	return nil
}
