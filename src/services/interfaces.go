package services

import (
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/models"
)

var (
	ErrParsingFailed = errors.New("failed to parse transaction upload")
	ErrYearNotClosed = errors.New("no finalized data for requested year")
	ErrNothingToRun  = errors.New("no transactions available to replay")
)

// PriceService resolves USD unit prices for an asset/date pair. It implements
// the engine's PriceResolver contract: a price or an explicit unknown, never
// a silent zero. Prices are seeded out-of-band and cached; resolution during
// a replay performs no network I/O.
type PriceService interface {
	Resolve(asset string, date time.Time) (decimal.Decimal, error)
	SeedPrice(asset string, date time.Time, unitPriceUSD decimal.Decimal) error
}

// TaxService is the core processing surface: it ingests transaction batches,
// replays the full history through the engine, and serves finalized reports.
type TaxService interface {
	ProcessUpload(fileReader io.Reader) (*UploadSummary, error)
	GetYearReport(year int) (*models.YearReport, error)
	GetHoldings() ([]models.HoldingRow, error)
	GetReviewQueue() ([]models.ReviewItem, error)
}

// UploadSummary reports the outcome of one upload+replay cycle.
type UploadSummary struct {
	Accepted   int   `json:"accepted"`
	Duplicates int   `json:"duplicates"`
	Rejected   int   `json:"rejected"`
	Years      []int `json:"years"`
	Flagged    int   `json:"flagged_for_review"`
}
