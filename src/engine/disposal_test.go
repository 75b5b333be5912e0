package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

func newTestDisposalEngine(ledger *LotLedger, ordering LotOrdering, prices map[string]decimal.Decimal) *DisposalEngine {
	resolver := &fakeResolver{prices: prices}
	washSales := NewWashSaleEngine(ledger, 30, true)
	return NewDisposalEngine(ledger, ordering, washSales, &ResolverBasisEstimator{Resolver: resolver})
}

func TestDisposeExactDecimalBasis(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("0.1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("0.2"), dec("10000"), date(2024, 2, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("0.3"),
		UnitPriceUSD: dec("15000"),
		PriceKnown:   true,
		Source:       "main",
		ExternalID:   "sell-1",
	}, nil, 0)
	require.NoError(t, err)
	assert.True(t, event.WashSaleDisallowedUSD.IsZero())

	// 0.1 + 0.2 at $10,000 must be exactly $3,000, never 3000.0000000004.
	assert.True(t, event.CostBasisUSD.Equal(dec("3000")), "basis was %s", event.CostBasisUSD)
	assert.True(t, event.ProceedsUSD.Equal(dec("4500")))
	assert.True(t, event.GainLossUSD.Equal(dec("1500")))
	assert.False(t, event.FlaggedForReview)
	assert.True(t, ledger.RemainingBalance("BTC").IsZero())
}

func TestDisposeSplitsShortAndLongTermLegs(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("ETH", "main", dec("1"), dec("1000"), date(2022, 5, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("ETH", "main", dec("1"), dec("2000"), date(2024, 3, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "ETH",
		Action:       models.ActionSell,
		Quantity:     dec("2"),
		UnitPriceUSD: dec("3000"),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, event.Legs, 2)
	assert.Equal(t, models.HoldingLong, event.Legs[0].Holding)
	assert.Equal(t, models.HoldingShort, event.Legs[1].Holding)
	assert.True(t, event.Legs[0].GainLossUSD.Equal(dec("2000")))
	assert.True(t, event.Legs[1].GainLossUSD.Equal(dec("1000")))
}

func TestDisposeExactly365DaysIsLongTerm(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("100"), date(2023, 6, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 5, 31), // 365 days later
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("1"),
		UnitPriceUSD: dec("200"),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, event.Legs, 1)
	assert.Equal(t, models.HoldingLong, event.Legs[0].Holding)
}

func TestDisposeUnmatchedUsesEstimatedBasis(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, map[string]decimal.Decimal{"BTC": dec("14000")})
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("2"),
		UnitPriceUSD: dec("15000"),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, event.Legs, 2)

	estimated := event.Legs[1]
	assert.True(t, estimated.Estimated)
	assert.True(t, estimated.Quantity.Equal(dec("1")))
	assert.True(t, estimated.CostBasisUSD.Equal(dec("14000")))
	assert.True(t, event.FlaggedForReview)
	assert.Contains(t, event.ReviewReason, "sell exceeded open lot quantity")

	// matched: 15000-10000; unmatched: 15000-14000.
	assert.True(t, event.GainLossUSD.Equal(dec("6000")))
}

func TestDisposeUnmatchedWithNoEstimateYieldsZeroGainRemainder(t *testing.T) {
	ledger := NewLotLedger()
	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("1"),
		UnitPriceUSD: dec("15000"),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, event.Legs, 1)
	// Remainder priced at the sale price: no phantom 100% gain.
	assert.True(t, event.GainLossUSD.IsZero())
	assert.True(t, event.FlaggedForReview)
	assert.Contains(t, event.ReviewReason, "no estimable basis")
}

func TestDisposeUnknownSalePriceFallsBackToResolver(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, map[string]decimal.Decimal{"BTC": dec("12000")})
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:  date(2024, 6, 1),
		Asset:      "BTC",
		Action:     models.ActionSell,
		Quantity:   dec("1"),
		PriceKnown: false,
		Source:     "main",
	}, nil, 0)
	require.NoError(t, err)
	assert.True(t, event.ProceedsUSD.Equal(dec("12000")))
	assert.True(t, event.GainLossUSD.Equal(dec("2000")))
	assert.True(t, event.FlaggedForReview)
}

func TestDisposeUnknownSalePriceNoResolverUsesConsumedBasis(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:  date(2024, 6, 1),
		Asset:      "BTC",
		Action:     models.ActionSell,
		Quantity:   dec("1"),
		PriceKnown: false,
		Source:     "main",
	}, nil, 0)
	require.NoError(t, err)
	// Weighted basis of consumed lots: zero gain, flagged.
	assert.True(t, event.GainLossUSD.IsZero())
	assert.True(t, event.FlaggedForReview)
}

func TestDisposeFeeReducesProceeds(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("1"),
		UnitPriceUSD: dec("15000"),
		PriceKnown:   true,
		FeeQuantity:  dec("25"),
		FeeAsset:     "USD",
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	assert.True(t, event.ProceedsUSD.Equal(dec("14975")))
	assert.True(t, event.GainLossUSD.Equal(dec("4975")))
}

func TestDisposeFeeInDisposedAssetValuedAtSalePrice(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("1"),
		UnitPriceUSD: dec("15000"),
		PriceKnown:   true,
		FeeQuantity:  dec("0.001"),
		FeeAsset:     "BTC",
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	assert.True(t, event.ProceedsUSD.Equal(dec("14985")))
}

func TestDisposeLegsSumToTotals(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("0.333"), dec("9000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("0.333"), dec("11000"), date(2024, 2, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("0.334"), dec("13000"), date(2024, 3, 1), models.OriginPurchase)
	require.NoError(t, err)

	engine := newTestDisposalEngine(ledger, OldestFirst, nil)
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec("1"),
		UnitPriceUSD: dec("17000"),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	require.Len(t, event.Legs, 3)

	proceeds, basis, gain := decimal.Zero, decimal.Zero, decimal.Zero
	for _, leg := range event.Legs {
		proceeds = proceeds.Add(leg.ProceedsUSD)
		basis = basis.Add(leg.CostBasisUSD)
		gain = gain.Add(leg.GainLossUSD)
	}
	assert.True(t, proceeds.Equal(event.ProceedsUSD))
	assert.True(t, basis.Equal(event.CostBasisUSD))
	assert.True(t, gain.Equal(event.GainLossUSD))
	assert.True(t, event.ProceedsUSD.Equal(dec("17000")))
}
