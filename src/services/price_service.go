package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/database"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/engine"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

const priceDateFormat = "2006-01-02"

// priceServiceImpl resolves prices from the asset_prices table through an
// in-memory cache. The table is seeded before a replay begins; resolution
// itself never leaves the process.
type priceServiceImpl struct {
	priceCache *cache.Cache
}

func NewPriceService(priceCache *cache.Cache) PriceService {
	return &priceServiceImpl{priceCache: priceCache}
}

func priceCacheKey(asset string, date time.Time) string {
	return fmt.Sprintf("price_%s_%s", asset, date.UTC().Format(priceDateFormat))
}

// Resolve returns the USD unit price for the asset on the given date, or
// engine.ErrPriceUnknown. A missing price is reported as unknown, never zero.
// Seeded price tables have gaps, so a miss on the exact date falls back to
// the nearest known prior date before giving up.
func (s *priceServiceImpl) Resolve(asset string, date time.Time) (decimal.Decimal, error) {
	key := priceCacheKey(asset, date)
	if cached, found := s.priceCache.Get(key); found {
		return cached.(decimal.Decimal), nil
	}

	dateStr := date.UTC().Format(priceDateFormat)
	var priceStr string
	err := database.DB.QueryRow(
		"SELECT unit_price_usd FROM asset_prices WHERE asset_symbol = ? AND price_date = ?",
		asset, dateStr,
	).Scan(&priceStr)
	if err == sql.ErrNoRows {
		err = database.DB.QueryRow(
			"SELECT unit_price_usd FROM asset_prices WHERE asset_symbol = ? AND price_date < ? ORDER BY price_date DESC LIMIT 1",
			asset, dateStr,
		).Scan(&priceStr)
		if err == nil {
			logger.L.Debug("resolved price from nearest prior date", "asset", asset, "requested", dateStr)
		}
	}
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", engine.ErrPriceUnknown, asset, dateStr)
	}
	if err != nil {
		logger.L.Error("price lookup failed", "asset", asset, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %s on %s", engine.ErrPriceUnknown, asset, dateStr)
	}

	price, err := utils.ParseDecimal(priceStr)
	if err != nil {
		logger.L.Error("stored price is not a valid decimal", "asset", asset, "value", priceStr, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %s on %s", engine.ErrPriceUnknown, asset, date.UTC().Format(priceDateFormat))
	}

	s.priceCache.Set(key, price, cache.DefaultExpiration)
	return price, nil
}

// SeedPrice stores a USD unit price for later resolution. Manual entries from
// the review queue land here as well.
func (s *priceServiceImpl) SeedPrice(asset string, date time.Time, unitPriceUSD decimal.Decimal) error {
	if unitPriceUSD.IsNegative() {
		return fmt.Errorf("unit price must not be negative, got %s", unitPriceUSD.String())
	}
	_, err := database.DB.Exec(
		"INSERT OR REPLACE INTO asset_prices (asset_symbol, price_date, unit_price_usd) VALUES (?, ?, ?)",
		asset, date.UTC().Format(priceDateFormat), unitPriceUSD.String(),
	)
	if err != nil {
		return fmt.Errorf("error seeding price for %s: %w", asset, err)
	}
	s.priceCache.Set(priceCacheKey(asset, date), unitPriceUSD, cache.DefaultExpiration)
	return nil
}
