package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

// Config carries the run-level policies injected into a replay.
type Config struct {
	Ordering             LotOrdering
	AnnualLossCap        decimal.Decimal
	WashSaleWindowDays   int
	CrossWalletWashSales bool
	// ParallelAssets runs each asset's stream on its own goroutine. The lot
	// ledger partitions cleanly per asset symbol and wash-sale lookups stay
	// confined to one asset, so per-asset streams are independent.
	ParallelAssets bool
}

// ReplayResult is everything one deterministic replay produced.
type ReplayResult struct {
	Disposals   []models.DisposalEvent
	Adjustments []models.WashSaleAdjustment
	Income      []models.IncomeEvent
	Lots        []models.TaxLot
	ReviewQueue []models.ReviewItem
	Duplicates  int
	// Carryovers holds one finalized record per tax year seen in the input,
	// chained in ascending year order.
	Carryovers map[int]models.CarryoverRecord
	Years      []int
}

// ReplayEngine replays a filer's transaction history in strict chronological
// order. Ordering is a correctness requirement: lot availability and
// wash-sale windows are order-dependent, so nothing may reorder transactions
// within an asset. A run either completes deterministically from its input
// set or aborts whole; given identical inputs it is idempotent.
type ReplayEngine struct {
	cfg      Config
	resolver PriceResolver
	// priorIncomeKeys are dedup keys recognized by earlier runs, so a re-run
	// over an overlapping feed drops the duplicates.
	priorIncomeKeys []string
}

func NewReplayEngine(cfg Config, resolver PriceResolver, priorIncomeKeys []string) *ReplayEngine {
	return &ReplayEngine{
		cfg:             cfg,
		resolver:        resolver,
		priorIncomeKeys: priorIncomeKeys,
	}
}

// Run replays the transactions and closes every tax year they touch.
// priorCarryover is the finalized record of the year before the first year in
// the input, or nil. Recoverable per-transaction conditions attach review
// flags and continue; a CorruptLotStateError aborts the entire run.
func (e *ReplayEngine) Run(txs []models.Transaction, priorCarryover *models.CarryoverRecord) (*ReplayResult, error) {
	ordered := make([]models.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].ExternalID < ordered[j].ExternalID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	byAsset := make(map[string][]models.Transaction)
	var assets []string
	for _, tx := range ordered {
		if tx.Asset == "" {
			logger.L.Warn("skipping transaction without asset symbol", "externalID", tx.ExternalID)
			continue
		}
		if _, seen := byAsset[tx.Asset]; !seen {
			assets = append(assets, tx.Asset)
		}
		byAsset[tx.Asset] = append(byAsset[tx.Asset], tx)
	}
	sort.Strings(assets)

	result := &ReplayResult{Carryovers: make(map[int]models.CarryoverRecord)}

	if e.cfg.ParallelAssets && len(assets) > 1 {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			runErr  error
			partial = make(map[string]*assetResult, len(assets))
		)
		for _, asset := range assets {
			wg.Add(1)
			go func(asset string) {
				defer wg.Done()
				res, err := e.runAsset(byAsset[asset])
				mu.Lock()
				defer mu.Unlock()
				if err != nil && runErr == nil {
					runErr = err
				}
				partial[asset] = res
			}(asset)
		}
		wg.Wait()
		if runErr != nil {
			return nil, fmt.Errorf("replay aborted: %w", runErr)
		}
		for _, asset := range assets {
			result.merge(partial[asset])
		}
	} else {
		for _, asset := range assets {
			res, err := e.runAsset(byAsset[asset])
			if err != nil {
				return nil, fmt.Errorf("replay aborted: %w", err)
			}
			result.merge(res)
		}
	}

	e.closeYears(result, priorCarryover)
	return result, nil
}

// assetResult is one asset worker's output before merging.
type assetResult struct {
	disposals   []models.DisposalEvent
	adjustments []models.WashSaleAdjustment
	income      []models.IncomeEvent
	lots        []models.TaxLot
	review      []models.ReviewItem
	duplicates  int
}

// runAsset replays a single asset's stream against its own ledger partition.
// The ledger is owned by this call for its whole lifetime; no external writer
// can inject or mutate lots mid-replay.
func (e *ReplayEngine) runAsset(txs []models.Transaction) (*assetResult, error) {
	ledger := NewLotLedger()
	washSales := NewWashSaleEngine(ledger, e.cfg.WashSaleWindowDays, e.cfg.CrossWalletWashSales)
	estimator := &ResolverBasisEstimator{Resolver: e.resolver}
	disposals := NewDisposalEngine(ledger, e.cfg.Ordering, washSales, estimator)
	income := NewIncomeRecognizer(ledger, e.resolver, e.priorIncomeKeys)

	res := &assetResult{}
	for i := range txs {
		tx := &txs[i]
		switch tx.Action {
		case models.ActionBuy, models.ActionDeposit:
			lotID, item := e.openPurchaseLot(ledger, tx)
			if item != nil {
				res.review = append(res.review, *item)
			}
			if lotID != "" {
				if err := washSales.ClaimDeferred(i, lotID); err != nil {
					return nil, err
				}
			}
		case models.ActionIncome:
			event, item, err := income.Recognize(tx)
			if err != nil {
				var dup *DuplicateIncomeError
				if errors.As(err, &dup) {
					logger.L.Info("duplicate income transaction dropped", "dedupKey", dup.DedupKey, "externalID", tx.ExternalID)
					res.duplicates++
					continue
				}
				return nil, err
			}
			if item != nil {
				res.review = append(res.review, *item)
			}
			if event != nil {
				res.income = append(res.income, *event)
				if err := washSales.ClaimDeferred(i, event.LotID); err != nil {
					return nil, err
				}
			}
		case models.ActionSell, models.ActionTrade, models.ActionFee:
			// A crypto-to-crypto TRADE is a taxable disposal of the outgoing
			// asset at USD fair value; the acquired side arrives as its own
			// BUY record. A standalone FEE spends the fee quantity.
			event, err := disposals.Dispose(tx, txs, i)
			if err != nil {
				return nil, err
			}
			res.disposals = append(res.disposals, *event)
		case models.ActionTransfer:
			unmoved, err := ledger.TransferLots(tx.Asset, tx.Source, tx.Destination, tx.Quantity)
			if err != nil {
				return nil, err
			}
			if unmoved.IsPositive() {
				logger.L.Warn("transfer moved less than requested",
					"asset", tx.Asset, "unmoved", unmoved.String(), "externalID", tx.ExternalID)
			}
		case models.ActionWithdrawal:
			// Self-custody move out of a tracked wallet; basis and holdings
			// are unaffected until a later disposal.
			logger.L.Debug("withdrawal recorded without ledger effect", "asset", tx.Asset, "externalID", tx.ExternalID)
		default:
			logger.L.Warn("unknown transaction action skipped", "action", tx.Action, "externalID", tx.ExternalID)
		}
	}

	if err := ledger.CheckInvariants(); err != nil {
		return nil, err
	}
	// Collected after the loop so deferred replacements claimed late in the
	// stream carry their final lot IDs.
	res.adjustments = washSales.Adjustments()
	for _, asset := range ledger.Assets() {
		res.lots = append(res.lots, ledger.AllLots(asset)...)
	}
	return res, nil
}

// openPurchaseLot opens a PURCHASE lot for a BUY/DEPOSIT and returns its ID.
// Fees denominated in USD or the bought asset load into the lot's cost basis.
// An unresolvable price queues the record for manual entry; a zero basis is
// never assumed.
func (e *ReplayEngine) openPurchaseLot(ledger *LotLedger, tx *models.Transaction) (string, *models.ReviewItem) {
	unitCost := tx.UnitPriceUSD
	if !tx.PriceKnown {
		resolved, err := e.resolver.Resolve(tx.Asset, tx.Timestamp)
		if err != nil {
			return "", &models.ReviewItem{
				ExternalID: tx.ExternalID,
				Asset:      tx.Asset,
				Timestamp:  tx.Timestamp,
				Quantity:   tx.Quantity,
				Reason:     "purchase price unresolvable",
			}
		}
		unitCost = resolved
	}
	if tx.FeeQuantity.IsPositive() && tx.Quantity.IsPositive() {
		switch tx.FeeAsset {
		case "", "USD":
			unitCost = unitCost.Add(tx.FeeQuantity.Div(tx.Quantity))
		case tx.Asset:
			unitCost = unitCost.Add(tx.FeeQuantity.Mul(unitCost).Div(tx.Quantity))
		}
	}
	lotID, err := ledger.OpenLot(tx.Asset, tx.Source, tx.Quantity, unitCost, tx.Timestamp, models.OriginPurchase)
	if err != nil {
		logger.L.Warn("purchase lot rejected", "asset", tx.Asset, "error", err, "externalID", tx.ExternalID)
		return "", nil
	}
	return lotID, nil
}

// closeYears chains carryover records across every year the result touches.
// The prior year's record is an input to the net figure only; it never alters
// disposal-level calculations.
func (e *ReplayEngine) closeYears(result *ReplayResult, prior *models.CarryoverRecord) {
	yearSet := make(map[int]bool)
	for _, d := range result.Disposals {
		yearSet[d.DisposedAt.Year()] = true
	}
	// Income-only years still close: their reports need a year record even
	// with zero realized capital gains.
	for _, inc := range result.Income {
		yearSet[inc.ReceivedAt.Year()] = true
	}
	if len(yearSet) == 0 {
		return
	}

	first, last := 0, 0
	for year := range yearSet {
		if first == 0 || year < first {
			first = year
		}
		if year > last {
			last = year
		}
	}
	// A positive carryforward keeps applying against the annual cap even in
	// years with no activity, so close every year since the prior record.
	if prior != nil && prior.AmountCarriedForward.IsPositive() && prior.Year+1 < first {
		first = prior.Year + 1
	}

	carryover := NewCarryoverLedger(e.cfg.AnnualLossCap)
	for year := first; year <= last; year++ {
		if !yearSet[year] && (prior == nil || !prior.AmountCarriedForward.IsPositive()) {
			continue
		}
		realized := decimal.Zero
		for _, d := range result.Disposals {
			if d.DisposedAt.Year() == year {
				realized = realized.Add(d.AllowedLoss())
			}
		}
		record := carryover.CloseYear(year, realized, prior)
		result.Years = append(result.Years, year)
		result.Carryovers[year] = record
		prior = &record
	}
	sort.Ints(result.Years)
}

func (r *ReplayResult) merge(other *assetResult) {
	r.Disposals = append(r.Disposals, other.disposals...)
	r.Adjustments = append(r.Adjustments, other.adjustments...)
	r.Income = append(r.Income, other.income...)
	r.Lots = append(r.Lots, other.lots...)
	r.ReviewQueue = append(r.ReviewQueue, other.review...)
	r.Duplicates += other.duplicates
}
