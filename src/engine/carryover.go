package engine

import (
	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

// CarryoverLedger reconciles a year's net capital gain/loss against the
// annual deduction cap and produces the record carried into the next year.
// Records are written once at year close and never mutated afterwards.
type CarryoverLedger struct {
	annualCap decimal.Decimal
}

func NewCarryoverLedger(annualCap decimal.Decimal) *CarryoverLedger {
	return &CarryoverLedger{annualCap: annualCap}
}

// CloseYear computes the carryover record for a year. realized is the sum of
// all finalized allowed gain/loss for the year; prior is the previous year's
// record (nil for the first tracked year). A prior carry-forward is consumed
// against current-year gains first; only a remaining net loss is subject to
// the cap.
func (c *CarryoverLedger) CloseYear(year int, realized decimal.Decimal, prior *models.CarryoverRecord) models.CarryoverRecord {
	net := realized
	if prior != nil {
		net = net.Sub(prior.AmountCarriedForward)
	}

	record := models.CarryoverRecord{
		Year:                  year,
		NetCapitalLoss:        decimal.Zero,
		AmountAppliedThisYear: decimal.Zero,
		AmountCarriedForward:  decimal.Zero,
	}
	if net.IsNegative() {
		loss := net.Abs()
		record.NetCapitalLoss = loss
		record.AmountAppliedThisYear = utils.MinDecimal(loss, c.annualCap)
		record.AmountCarriedForward = loss.Sub(record.AmountAppliedThisYear)
	}

	logger.L.Info("tax year closed",
		"year", year,
		"realized", realized.String(),
		"netAfterCarryover", net.String(),
		"applied", record.AmountAppliedThisYear.String(),
		"carriedForward", record.AmountCarriedForward.String())
	return record
}
