package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/engine"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

// BuildYearReport serializes one finalized year out of a replay result.
// Intermediate arithmetic stays at full precision; USD values round half-up
// to cents here and nowhere earlier.
func BuildYearReport(result *engine.ReplayResult, year int) *models.YearReport {
	report := &models.YearReport{Year: year}

	totalShort := decimal.Zero
	totalLong := decimal.Zero
	for _, d := range result.Disposals {
		if d.DisposedAt.Year() != year {
			continue
		}
		washFlag := d.WashSaleDisallowedUSD.IsPositive()
		for _, leg := range d.Legs {
			report.CapitalGains = append(report.CapitalGains, models.CapitalGainsRow{
				Asset:              d.Asset,
				AcquiredAt:         leg.AcquiredAt,
				DisposedAt:         d.DisposedAt,
				Quantity:           leg.Quantity.String(),
				ProceedsUSD:        utils.RoundUSD(leg.ProceedsUSD).StringFixed(utils.USDPrecision),
				CostBasisUSD:       utils.RoundUSD(leg.CostBasisUSD).StringFixed(utils.USDPrecision),
				GainLossUSD:        utils.RoundUSD(leg.GainLossUSD).StringFixed(utils.USDPrecision),
				Holding:            leg.Holding,
				WashSaleDisallowed: washFlag,
				FlaggedForReview:   d.FlaggedForReview || leg.Estimated,
			})
			if leg.Holding == models.HoldingLong {
				totalLong = totalLong.Add(leg.GainLossUSD)
			} else {
				totalShort = totalShort.Add(leg.GainLossUSD)
			}
		}
	}
	sort.SliceStable(report.CapitalGains, func(i, j int) bool {
		return report.CapitalGains[i].DisposedAt.Before(report.CapitalGains[j].DisposedAt)
	})

	totalIncome := decimal.Zero
	for _, ev := range result.Income {
		if ev.ReceivedAt.Year() != year {
			continue
		}
		report.Income = append(report.Income, models.IncomeRow{
			Asset:      ev.Asset,
			ReceivedAt: ev.ReceivedAt,
			Quantity:   ev.Quantity.String(),
			FMVUSD:     utils.RoundUSD(ev.FMVUSD).StringFixed(utils.USDPrecision),
			ValueUSD:   utils.RoundUSD(ev.ValueUSD).StringFixed(utils.USDPrecision),
		})
		totalIncome = totalIncome.Add(ev.ValueUSD)
	}
	sort.SliceStable(report.Income, func(i, j int) bool {
		return report.Income[i].ReceivedAt.Before(report.Income[j].ReceivedAt)
	})

	// End-of-year holdings snapshot: one row per still-open lot.
	for _, lot := range result.Lots {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		report.Holdings = append(report.Holdings, models.HoldingRow{
			LotID:             lot.LotID,
			Asset:             lot.Asset,
			Wallet:            lot.Wallet,
			OpenedAt:          lot.OpenedAt,
			RemainingQuantity: lot.RemainingQuantity.String(),
			UnitCostBasis:     lot.UnitCostBasis.String(),
		})
	}
	sort.SliceStable(report.Holdings, func(i, j int) bool {
		if report.Holdings[i].Asset != report.Holdings[j].Asset {
			return report.Holdings[i].Asset < report.Holdings[j].Asset
		}
		return report.Holdings[i].OpenedAt.Before(report.Holdings[j].OpenedAt)
	})

	if record, ok := result.Carryovers[year]; ok {
		report.Carryover = record
	} else {
		report.Carryover = models.CarryoverRecord{
			Year:                  year,
			NetCapitalLoss:        decimal.Zero,
			AmountAppliedThisYear: decimal.Zero,
			AmountCarriedForward:  decimal.Zero,
		}
	}

	report.TotalShortUSD = utils.RoundUSD(totalShort).StringFixed(utils.USDPrecision)
	report.TotalLongUSD = utils.RoundUSD(totalLong).StringFixed(utils.USDPrecision)
	report.TotalIncomeUSD = utils.RoundUSD(totalIncome).StringFixed(utils.USDPrecision)
	return report
}
