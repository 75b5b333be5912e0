package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/database"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/engine"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

const (
	// Long-lived caches for full replay results
	ckYearReport = "res_year_report_%d"
	ckHoldings   = "agg_holdings"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type taxServiceImpl struct {
	priceService PriceService
	engineCfg    engine.Config
	reportCache  *cache.Cache
}

func NewTaxService(priceService PriceService, engineCfg engine.Config, reportCache *cache.Cache) TaxService {
	return &taxServiceImpl{
		priceService: priceService,
		engineCfg:    engineCfg,
		reportCache:  reportCache,
	}
}

// ProcessUpload ingests a JSON batch of transactions, replays the full
// history through the engine, and persists the finalized results. Duplicate
// records are dropped by the transactions table's dedup constraint, so
// re-uploading an overlapping export is safe.
func (s *taxServiceImpl) ProcessUpload(fileReader io.Reader) (*UploadSummary, error) {
	overallStartTime := time.Now()
	logger.L.Info("ProcessUpload START")

	var raws []models.RawTransaction
	if err := json.NewDecoder(fileReader).Decode(&raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	summary := &UploadSummary{}

	dbTx, err := database.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.Prepare(`INSERT INTO transactions (timestamp, asset_symbol, action, quantity, unit_price_usd, price_known, fee_quantity, fee_asset, source, destination, external_id, dedup_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, raw := range raws {
		tx, err := parseRawTransaction(&raw)
		if err != nil {
			logger.L.Warn("rejecting unparseable transaction", "externalID", raw.ExternalID, "error", err)
			summary.Rejected++
			continue
		}
		_, err = stmt.Exec(
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.Asset, tx.Action,
			tx.Quantity.String(), tx.UnitPriceUSD.String(), tx.PriceKnown,
			tx.FeeQuantity.String(), tx.FeeAsset,
			tx.Source, tx.Destination, tx.ExternalID,
			uploadDedupKey(tx),
		)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
				logger.L.Debug("Skipping duplicate transaction on upload", "dedupKey", uploadDedupKey(tx))
				summary.Duplicates++
				continue
			}
			return nil, fmt.Errorf("error inserting transaction (ExternalID: %s): %w", tx.ExternalID, err)
		}
		summary.Accepted++
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transactions: %w", err)
	}

	result, err := s.replayAll()
	if err != nil {
		return nil, err
	}
	if err := s.persistResult(result); err != nil {
		return nil, err
	}
	s.invalidateCaches(result.Years)

	summary.Years = result.Years
	summary.Duplicates += result.Duplicates
	for _, d := range result.Disposals {
		if d.FlaggedForReview {
			summary.Flagged++
		}
	}

	logger.L.Info("ProcessUpload END",
		"accepted", summary.Accepted,
		"rejected", summary.Rejected,
		"duplicates", summary.Duplicates,
		"duration", time.Since(overallStartTime))
	return summary, nil
}

// GetYearReport serves the finalized report for one tax year, cached until
// the next upload invalidates it.
func (s *taxServiceImpl) GetYearReport(year int) (*models.YearReport, error) {
	key := fmt.Sprintf(ckYearReport, year)
	if cached, found := s.reportCache.Get(key); found {
		return cached.(*models.YearReport), nil
	}

	result, err := s.replayAll()
	if err != nil {
		return nil, err
	}
	found := false
	for _, y := range result.Years {
		if y == year {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrYearNotClosed, year)
	}

	report := BuildYearReport(result, year)
	s.reportCache.Set(key, report, cache.DefaultExpiration)
	return report, nil
}

// GetHoldings returns the current open-lot snapshot across all assets.
func (s *taxServiceImpl) GetHoldings() ([]models.HoldingRow, error) {
	if cached, found := s.reportCache.Get(ckHoldings); found {
		return cached.([]models.HoldingRow), nil
	}

	result, err := s.replayAll()
	if err != nil {
		return nil, err
	}
	var holdings []models.HoldingRow
	for _, lot := range result.Lots {
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		holdings = append(holdings, models.HoldingRow{
			LotID:             lot.LotID,
			Asset:             lot.Asset,
			Wallet:            lot.Wallet,
			OpenedAt:          lot.OpenedAt,
			RemainingQuantity: lot.RemainingQuantity.String(),
			UnitCostBasis:     lot.UnitCostBasis.String(),
		})
	}
	s.reportCache.Set(ckHoldings, holdings, cache.DefaultExpiration)
	return holdings, nil
}

// GetReviewQueue lists transactions awaiting manual price entry.
func (s *taxServiceImpl) GetReviewQueue() ([]models.ReviewItem, error) {
	rows, err := database.DB.Query("SELECT id, external_id, asset_symbol, timestamp, quantity, reason FROM review_queue ORDER BY timestamp")
	if err != nil {
		return nil, fmt.Errorf("error querying review queue: %w", err)
	}
	defer rows.Close()

	var items []models.ReviewItem
	for rows.Next() {
		var item models.ReviewItem
		var ts, qty string
		if err := rows.Scan(&item.ID, &item.ExternalID, &item.Asset, &ts, &qty, &item.Reason); err != nil {
			logger.L.Error("Row scan error on review queue", "error", err)
			continue
		}
		if item.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			logger.L.Error("Invalid timestamp in review queue row", "value", ts, "error", err)
			continue
		}
		if item.Quantity, err = utils.ParseDecimal(qty); err != nil {
			logger.L.Error("Invalid quantity in review queue row", "value", qty, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// replayAll loads the full deduplicated history and runs it through the
// engine. Every replay recomputes from scratch: disposal ordering is a pure
// function of input order, so identical inputs give identical results.
func (s *taxServiceImpl) replayAll() (*engine.ReplayResult, error) {
	txs, err := s.loadTransactions()
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ErrNothingToRun
	}

	prior, err := s.loadCarryoverBefore(txs[0].Timestamp.Year())
	if err != nil {
		return nil, err
	}

	replay := engine.NewReplayEngine(s.engineCfg, s.priceService, nil)
	return replay.Run(txs, prior)
}

func (s *taxServiceImpl) loadTransactions() ([]models.Transaction, error) {
	rows, err := database.DB.Query(`SELECT id, timestamp, asset_symbol, action, quantity, unit_price_usd, price_known, fee_quantity, fee_asset, source, destination, external_id FROM transactions ORDER BY timestamp, external_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var ts, qty, price, feeQty string
		if err := rows.Scan(&tx.ID, &ts, &tx.Asset, &tx.Action, &qty, &price, &tx.PriceKnown, &feeQty, &tx.FeeAsset, &tx.Source, &tx.Destination, &tx.ExternalID); err != nil {
			return nil, fmt.Errorf("error scanning transaction row: %w", err)
		}
		if tx.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("stored transaction %d has invalid timestamp %q: %w", tx.ID, ts, err)
		}
		if tx.Quantity, err = utils.ParseDecimal(qty); err != nil {
			return nil, fmt.Errorf("stored transaction %d has invalid quantity %q: %w", tx.ID, qty, err)
		}
		if tx.UnitPriceUSD, err = utils.ParseDecimal(price); err != nil {
			return nil, fmt.Errorf("stored transaction %d has invalid price %q: %w", tx.ID, price, err)
		}
		if tx.FeeQuantity, err = utils.ParseDecimal(feeQty); err != nil {
			return nil, fmt.Errorf("stored transaction %d has invalid fee %q: %w", tx.ID, feeQty, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *taxServiceImpl) loadCarryoverBefore(firstYear int) (*models.CarryoverRecord, error) {
	var record models.CarryoverRecord
	var netLoss, applied, carried string
	err := database.DB.QueryRow(
		"SELECT year, net_capital_loss, amount_applied, amount_carried_forward FROM carryover_records WHERE year < ? ORDER BY year DESC LIMIT 1",
		firstYear,
	).Scan(&record.Year, &netLoss, &applied, &carried)
	if err == sql.ErrNoRows {
		return nil, nil // no prior record; first tracked year
	}
	if err != nil {
		return nil, fmt.Errorf("error loading carryover record before %d: %w", firstYear, err)
	}
	if record.NetCapitalLoss, err = utils.ParseDecimal(netLoss); err != nil {
		return nil, fmt.Errorf("corrupt carryover record for year %d: %w", record.Year, err)
	}
	if record.AmountAppliedThisYear, err = utils.ParseDecimal(applied); err != nil {
		return nil, fmt.Errorf("corrupt carryover record for year %d: %w", record.Year, err)
	}
	if record.AmountCarriedForward, err = utils.ParseDecimal(carried); err != nil {
		return nil, fmt.Errorf("corrupt carryover record for year %d: %w", record.Year, err)
	}
	return &record, nil
}

// persistResult replaces the derived tables with this replay's output inside
// one database transaction. Derived rows are a pure function of the input
// set, so full replacement keeps them consistent with the transactions table.
func (s *taxServiceImpl) persistResult(result *engine.ReplayResult) error {
	runID := uuid.NewString()

	dbTx, err := database.DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning persist transaction: %w", err)
	}
	defer dbTx.Rollback()

	for _, table := range []string{"tax_lots", "disposal_events", "disposal_legs", "wash_sale_adjustments", "income_events", "review_queue"} {
		if _, err := dbTx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	for _, lot := range result.Lots {
		_, err := dbTx.Exec(`INSERT INTO tax_lots (lot_id, run_id, asset_symbol, wallet, opened_at, original_quantity, remaining_quantity, transferred_out, unit_cost_basis, origin) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lot.LotID, runID, lot.Asset, lot.Wallet, lot.OpenedAt.UTC().Format(time.RFC3339),
			lot.OriginalQuantity.String(), lot.RemainingQuantity.String(), lot.TransferredOut.String(), lot.UnitCostBasis.String(), lot.Origin)
		if err != nil {
			return fmt.Errorf("error inserting tax lot %s: %w", lot.LotID, err)
		}
	}

	for _, d := range result.Disposals {
		_, err := dbTx.Exec(`INSERT INTO disposal_events (disposal_id, run_id, transaction_ref, asset_symbol, wallet, disposed_at, quantity, proceeds_usd, cost_basis_usd, realized_gain_loss, wash_sale_disallowed_usd, flagged_for_review, review_reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.DisposalID, runID, d.TransactionRef, d.Asset, d.Wallet, d.DisposedAt.UTC().Format(time.RFC3339),
			d.Quantity.String(), d.ProceedsUSD.String(), d.CostBasisUSD.String(), d.GainLossUSD.String(),
			d.WashSaleDisallowedUSD.String(), d.FlaggedForReview, d.ReviewReason)
		if err != nil {
			return fmt.Errorf("error inserting disposal %s: %w", d.DisposalID, err)
		}
		for _, leg := range d.Legs {
			_, err := dbTx.Exec(`INSERT INTO disposal_legs (disposal_id, lot_id, acquired_at, quantity, proceeds_usd, cost_basis_usd, gain_loss_usd, holding_period, estimated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.DisposalID, leg.LotID, leg.AcquiredAt.UTC().Format(time.RFC3339),
				leg.Quantity.String(), leg.ProceedsUSD.String(), leg.CostBasisUSD.String(), leg.GainLossUSD.String(),
				leg.Holding, leg.Estimated)
			if err != nil {
				return fmt.Errorf("error inserting disposal leg for %s: %w", d.DisposalID, err)
			}
		}
	}

	for _, adj := range result.Adjustments {
		_, err := dbTx.Exec(`INSERT INTO wash_sale_adjustments (run_id, loss_disposal_ref, replacement_lot_id, replacement_quantity, disallowed_proportion, disallowed_amount_usd) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, adj.LossDisposalRef, adj.ReplacementLotID,
			adj.ReplacementQuantity.String(), adj.DisallowedProportion.String(), adj.DisallowedAmountUSD.String())
		if err != nil {
			return fmt.Errorf("error inserting wash sale adjustment: %w", err)
		}
	}

	for _, ev := range result.Income {
		_, err := dbTx.Exec(`INSERT INTO income_events (event_id, run_id, lot_id, asset_symbol, received_at, quantity, fmv_usd, value_usd, source, dedup_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID, runID, ev.LotID, ev.Asset, ev.ReceivedAt.UTC().Format(time.RFC3339),
			ev.Quantity.String(), ev.FMVUSD.String(), ev.ValueUSD.String(), ev.Source, ev.DedupKey)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
				logger.L.Debug("Skipping duplicate income event on persist", "dedupKey", ev.DedupKey)
				continue
			}
			return fmt.Errorf("error inserting income event %s: %w", ev.EventID, err)
		}
	}

	for _, item := range result.ReviewQueue {
		_, err := dbTx.Exec(`INSERT INTO review_queue (external_id, asset_symbol, timestamp, quantity, reason) VALUES (?, ?, ?, ?, ?)`,
			item.ExternalID, item.Asset, item.Timestamp.UTC().Format(time.RFC3339), item.Quantity.String(), item.Reason)
		if err != nil {
			return fmt.Errorf("error inserting review item: %w", err)
		}
	}

	for _, year := range result.Years {
		record := result.Carryovers[year]
		_, err := dbTx.Exec(`INSERT OR REPLACE INTO carryover_records (year, net_capital_loss, amount_applied, amount_carried_forward) VALUES (?, ?, ?, ?)`,
			record.Year, record.NetCapitalLoss.String(), record.AmountAppliedThisYear.String(), record.AmountCarriedForward.String())
		if err != nil {
			return fmt.Errorf("error inserting carryover record for %d: %w", year, err)
		}
	}

	return dbTx.Commit()
}

func (s *taxServiceImpl) invalidateCaches(years []int) {
	for _, year := range years {
		s.reportCache.Delete(fmt.Sprintf(ckYearReport, year))
	}
	s.reportCache.Delete(ckHoldings)
}

// parseRawTransaction converts an upload record into the engine's model. All
// numerics pass through their string form; a missing or "unknown" price marks
// the transaction price-unknown rather than zero.
func parseRawTransaction(raw *models.RawTransaction) (*models.Transaction, error) {
	ts, err := utils.ParseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Asset) == "" {
		return nil, fmt.Errorf("missing asset symbol")
	}

	action := strings.ToUpper(strings.TrimSpace(raw.Action))
	switch action {
	case models.ActionBuy, models.ActionSell, models.ActionIncome, models.ActionTransfer,
		models.ActionFee, models.ActionDeposit, models.ActionWithdrawal, models.ActionTrade:
	default:
		return nil, fmt.Errorf("unknown action %q", raw.Action)
	}

	qty, err := utils.ParseDecimal(raw.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", raw.Quantity, err)
	}
	qty = qty.Abs()

	tx := &models.Transaction{
		Timestamp:   ts,
		Asset:       strings.ToUpper(strings.TrimSpace(raw.Asset)),
		Action:      action,
		Quantity:    qty,
		FeeAsset:    strings.ToUpper(strings.TrimSpace(raw.FeeAsset)),
		Source:      raw.Source,
		Destination: raw.Destination,
		ExternalID:  raw.ExternalID,
	}

	priceStr := strings.ToLower(strings.TrimSpace(raw.UnitPriceUSD))
	if priceStr == "" || priceStr == "unknown" {
		tx.PriceKnown = false
	} else {
		if tx.UnitPriceUSD, err = utils.ParseDecimal(raw.UnitPriceUSD); err != nil {
			return nil, fmt.Errorf("invalid unit price %q: %w", raw.UnitPriceUSD, err)
		}
		tx.PriceKnown = true
	}

	if strings.TrimSpace(raw.FeeQuantity) == "" {
		tx.FeeQuantity = decimal.Zero
	} else if tx.FeeQuantity, err = utils.ParseDecimal(raw.FeeQuantity); err != nil {
		return nil, fmt.Errorf("invalid fee quantity %q: %w", raw.FeeQuantity, err)
	}

	return tx, nil
}

// uploadDedupKey builds the transactions-table dedup key: the external ID
// when the source provides one, otherwise the second-granularity composite.
func uploadDedupKey(tx *models.Transaction) string {
	if tx.ExternalID != "" {
		return "ext|" + tx.ExternalID
	}
	return tx.Action + "|" + tx.DedupKey()
}
