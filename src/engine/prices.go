package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceResolver is the contract the engine requires from the price-resolution
// collaborator: a USD unit price for an asset on a date, or ErrPriceUnknown.
// Implementations must never signal "unknown" as a silent zero. Resolution is
// expected to be cached before a replay begins; the engine calls Resolve
// synchronously and never blocks on network I/O mid-calculation.
type PriceResolver interface {
	Resolve(asset string, date time.Time) (decimal.Decimal, error)
}

// BasisEstimator produces an estimated unit cost basis for the unmatched part
// of a disposal that exceeded the available lot quantity. The estimation
// policy is pluggable; the default uses the resolver's price for the disposal
// date. Estimated bases always carry an audit flag downstream.
type BasisEstimator interface {
	EstimateUnitBasis(asset string, date time.Time) (decimal.Decimal, error)
}

// ResolverBasisEstimator estimates the unmatched-sell basis from the best
// available historical price on the disposal date.
type ResolverBasisEstimator struct {
	Resolver PriceResolver
}

func (e *ResolverBasisEstimator) EstimateUnitBasis(asset string, date time.Time) (decimal.Decimal, error) {
	return e.Resolver.Resolve(asset, date)
}
