package security

import (
	"context"
	"fmt"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/models"
)

// ReadOnlyError reports a write operation attempted in read-only mode.
type ReadOnlyError struct {
	Operation string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("operation %s blocked: read-only mode is enabled", e.Operation)
}

// GuardedExecutor wraps an order executor and blocks all order placement
// when read-only mode is enabled. Price lookups pass through untouched.
type GuardedExecutor struct {
	inner    broker.OrderExecutor
	readOnly bool
}

// NewGuardedExecutor wraps exec with a read-only guard.
func NewGuardedExecutor(exec broker.OrderExecutor, readOnly bool) *GuardedExecutor {
	return &GuardedExecutor{inner: exec, readOnly: readOnly}
}

// PlaceMultiLeg places legs unless read-only mode blocks it.
func (g *GuardedExecutor) PlaceMultiLeg(ctx context.Context, plan models.PositionPlan, lotSize int) ([]broker.LegFill, error) {
	if g.readOnly {
		return nil, &ReadOnlyError{Operation: "PLACE_MULTI_LEG"}
	}
	return g.inner.PlaceMultiLeg(ctx, plan, lotSize)
}

// CloseAll closes legs unless read-only mode blocks it.
func (g *GuardedExecutor) CloseAll(ctx context.Context, pos *models.OpenPosition) ([]broker.LegClose, error) {
	if g.readOnly {
		return nil, &ReadOnlyError{Operation: "CLOSE_ALL"}
	}
	return g.inner.CloseAll(ctx, pos)
}
