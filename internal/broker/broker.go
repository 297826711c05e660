// Package broker provides the order-routing and market-data boundary.
package broker

import (
	"context"
	"time"

	"banknifty-trader/internal/models"
)

// LegFill is the per-leg result of a multi-leg entry.
type LegFill struct {
	Symbol    string
	OrderID   string
	Filled    bool
	FillPrice float64
	FilledAt  time.Time
	Reason    string // failure reason when not filled
}

// LegClose is the per-leg result of a close-all instruction.
type LegClose struct {
	Symbol     string
	Closed     bool
	ClosePrice float64
	ClosedAt   time.Time
	Reason     string // failure reason when not closed
}

// OrderExecutor accepts a position plan or a close instruction and reports
// per-leg outcomes. Partial success is reported via *errors.PartialFillError
// alongside the per-leg results, never as an aggregate pass/fail.
type OrderExecutor interface {
	// PlaceMultiLeg opens every leg of the plan in order. lotSize converts
	// lots to units.
	PlaceMultiLeg(ctx context.Context, plan models.PositionPlan, lotSize int) ([]LegFill, error)

	// CloseAll closes every still-open leg of the position at best available
	// price.
	CloseAll(ctx context.Context, pos *models.OpenPosition) ([]LegClose, error)
}

// PriceSource supplies reference prices on demand. Implementations return
// errors.ErrPriceUnavailable when no price exists for the instrument and
// errors.ErrPriceStale when the last known price is too old to trust.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (models.Quote, error)
}
