package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

func sellAtLoss(t *testing.T, ledger *LotLedger, washSales *WashSaleEngine, qty, salePrice string) (*models.DisposalEvent, []models.WashSaleAdjustment) {
	t.Helper()
	engine := NewDisposalEngine(ledger, OldestFirst, washSales, &ResolverBasisEstimator{Resolver: &fakeResolver{}})
	event, err := engine.Dispose(&models.Transaction{
		Timestamp:    date(2024, 6, 1),
		Asset:        "BTC",
		Action:       models.ActionSell,
		Quantity:     dec(qty),
		UnitPriceUSD: dec(salePrice),
		PriceKnown:   true,
		Source:       "main",
	}, nil, 0)
	require.NoError(t, err)
	return event, washSales.Adjustments()
}

func TestWashSaleTinyBuybackProportionalDisallowance(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("10"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	// 0.0001 BTC buyback ten days after the loss sale.
	replacementID, err := ledger.OpenLot("BTC", "main", dec("0.0001"), dec("5000"), date(2024, 6, 11), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	// 10 BTC bought at $10,000, sold at $5,000: a $50,000 loss.
	event, adjustments := sellAtLoss(t, ledger, washSales, "10", "5000")

	assert.True(t, event.GainLossUSD.Equal(dec("-50000")))
	// proportion = 0.0001 / 10 = 0.00001; disallowed = 50000 * 0.00001.
	assert.True(t, event.WashSaleDisallowedUSD.Equal(dec("0.5")), "disallowed was %s", event.WashSaleDisallowedUSD)
	assert.True(t, event.AllowedLoss().Equal(dec("-49999.5")))

	require.Len(t, adjustments, 1)
	assert.Equal(t, replacementID, adjustments[0].ReplacementLotID)
	assert.True(t, adjustments[0].DisallowedProportion.Equal(dec("0.00001")))
	assert.True(t, adjustments[0].DisallowedAmountUSD.Equal(dec("0.5")))

	// Deferred loss lands on the replacement lot's basis: 0.5 / 0.0001 = 5000 per unit.
	lot, ok := ledger.Lot("BTC", replacementID)
	require.True(t, ok)
	assert.True(t, lot.UnitCostBasis.Equal(dec("10000")))
}

func TestWashSaleFullDisallowanceWhenReplacementCoversDisposal(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("2"), dec("6000"), date(2024, 6, 5), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "1", "7000")

	// Replacement (2) exceeds disposed (1): the whole loss defers.
	assert.True(t, event.GainLossUSD.Equal(dec("-3000")))
	assert.True(t, event.WashSaleDisallowedUSD.Equal(dec("3000")))
	assert.True(t, event.AllowedLoss().IsZero())
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].DisallowedProportion.Equal(dec("1")))
}

func TestWashSaleNoReplacementNoDisallowance(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "1", "7000")

	assert.True(t, event.WashSaleDisallowedUSD.IsZero())
	assert.Empty(t, adjustments)
}

func TestWashSaleIgnoresGainDisposals(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("5000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("1"), dec("8000"), date(2024, 6, 10), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "1", "9000")

	assert.True(t, event.GainLossUSD.Equal(dec("4000")))
	assert.True(t, event.WashSaleDisallowedUSD.IsZero())
	assert.Empty(t, adjustments)
}

func TestWashSaleOutsideWindowIgnored(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	// 40 days after the sale, outside a 30-day window.
	_, err = ledger.OpenLot("BTC", "main", dec("1"), dec("6000"), date(2024, 7, 11), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "1", "7000")

	assert.True(t, event.WashSaleDisallowedUSD.IsZero())
	assert.Empty(t, adjustments)
}

func TestWashSaleCrossWalletToggle(t *testing.T) {
	build := func() *LotLedger {
		ledger := NewLotLedger()
		_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
		require.NoError(t, err)
		_, err = ledger.OpenLot("BTC", "coldwallet", dec("1"), dec("6000"), date(2024, 6, 10), models.OriginPurchase)
		require.NoError(t, err)
		return ledger
	}

	ledger := build()
	event, _ := sellAtLoss(t, ledger, NewWashSaleEngine(ledger, 30, true), "1", "7000")
	assert.True(t, event.WashSaleDisallowedUSD.Equal(dec("3000")))

	ledger = build()
	event, _ = sellAtLoss(t, ledger, NewWashSaleEngine(ledger, 30, false), "1", "7000")
	assert.True(t, event.WashSaleDisallowedUSD.IsZero())
}

func TestWashSaleExcludesQuantityConsumedByTheLossSaleItself(t *testing.T) {
	ledger := NewLotLedger()
	// The only lot inside the window is the one the sale consumes; its sold
	// units cannot be their own replacement.
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 5, 20), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "1", "7000")

	assert.True(t, event.WashSaleDisallowedUSD.IsZero())
	assert.Empty(t, adjustments)
}

func TestWashSaleTransferredLotCountsOnce(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("10"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	// In-window buy whose units then move to cold storage. The source lot and
	// its transfer clone must not both count as replacement quantity.
	_, err = ledger.OpenLot("BTC", "main", dec("1"), dec("5000"), date(2024, 6, 5), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.TransferLots("BTC", "main", "cold", dec("1"))
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "10", "5000")

	assert.True(t, event.GainLossUSD.Equal(dec("-50000")))
	// Replacement quantity is 1 BTC, not 2: proportion 0.1.
	assert.True(t, event.WashSaleDisallowedUSD.Equal(dec("5000")), "disallowed was %s", event.WashSaleDisallowedUSD)

	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].DisallowedProportion.Equal(dec("0.1")))
	assert.True(t, adjustments[0].DisallowedAmountUSD.Equal(dec("5000")))
}

func TestWashSaleForwardWindowDeferredUntilReplacementLotOpens(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("1"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	engine := NewDisposalEngine(ledger, OldestFirst, washSales, &ResolverBasisEstimator{Resolver: &fakeResolver{}})

	// The buyback sits ahead of the sale in the stream; its lot does not
	// exist yet when the loss is computed.
	stream := []models.Transaction{
		{
			Timestamp:    date(2024, 6, 1),
			Asset:        "BTC",
			Action:       models.ActionSell,
			Quantity:     dec("1"),
			UnitPriceUSD: dec("7000"),
			PriceKnown:   true,
			Source:       "main",
		},
		{
			Timestamp:    date(2024, 6, 10),
			Asset:        "BTC",
			Action:       models.ActionBuy,
			Quantity:     dec("1"),
			UnitPriceUSD: dec("6800"),
			PriceKnown:   true,
			Source:       "main",
		},
	}
	event, err := engine.Dispose(&stream[0], stream, 0)
	require.NoError(t, err)
	assert.True(t, event.WashSaleDisallowedUSD.Equal(dec("3000")))

	// Before the buyback lot opens the adjustment has no lot to point at.
	adjustments := washSales.Adjustments()
	require.Len(t, adjustments, 1)
	assert.Empty(t, adjustments[0].ReplacementLotID)

	replacementID, err := ledger.OpenLot("BTC", "main", dec("1"), dec("6800"), date(2024, 6, 10), models.OriginPurchase)
	require.NoError(t, err)
	require.NoError(t, washSales.ClaimDeferred(1, replacementID))

	adjustments = washSales.Adjustments()
	assert.Equal(t, replacementID, adjustments[0].ReplacementLotID)
	lot, ok := ledger.Lot("BTC", replacementID)
	require.True(t, ok)
	// 6800 + 3000 deferred over 1 unit.
	assert.True(t, lot.UnitCostBasis.Equal(dec("9800")))
}

func TestWashSaleAdjustmentsSumExactlyToDisallowed(t *testing.T) {
	ledger := NewLotLedger()
	_, err := ledger.OpenLot("BTC", "main", dec("3"), dec("10000"), date(2024, 1, 1), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("0.7"), dec("6100"), date(2024, 6, 5), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("1.1"), dec("6200"), date(2024, 6, 12), models.OriginPurchase)
	require.NoError(t, err)
	_, err = ledger.OpenLot("BTC", "main", dec("0.2"), dec("6300"), date(2024, 6, 20), models.OriginPurchase)
	require.NoError(t, err)

	washSales := NewWashSaleEngine(ledger, 30, true)
	event, adjustments := sellAtLoss(t, ledger, washSales, "3", "7000")
	require.Len(t, adjustments, 3)

	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(adj.DisallowedAmountUSD)
	}
	assert.True(t, total.Equal(event.WashSaleDisallowedUSD),
		"allocations %s != disallowed %s", total, event.WashSaleDisallowedUSD)
}
