package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrPriceUnknown is returned by a price resolver when no USD unit price is
// known for an asset/date pair. The engine never substitutes a numeric
// default for it; the affected transaction is flagged for review instead.
var ErrPriceUnknown = errors.New("engine: price unknown")

// DuplicateIncomeError reports an income transaction whose deduplication key
// collided with one already recognized. The duplicate is dropped from ledger
// effects but logged by the caller.
type DuplicateIncomeError struct {
	DedupKey string
}

func (e *DuplicateIncomeError) Error() string {
	return fmt.Sprintf("engine: duplicate income transaction (key %s)", e.DedupKey)
}

// CorruptLotStateError reports a violated ledger invariant, e.g. a negative
// remaining quantity. It is fatal to the year's run: the engine halts rather
// than emit a report computed from corrupt state.
type CorruptLotStateError struct {
	LotID  string
	Asset  string
	Detail string
	Value  decimal.Decimal
}

func (e *CorruptLotStateError) Error() string {
	return fmt.Sprintf("engine: corrupt lot state for %s lot %s: %s (value %s)",
		e.Asset, e.LotID, e.Detail, e.Value.String())
}

// IsFatal reports whether an error must abort the whole year's run instead of
// attaching a review flag and continuing the replay.
func IsFatal(err error) bool {
	var corrupt *CorruptLotStateError
	return errors.As(err, &corrupt)
}
