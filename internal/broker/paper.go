package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// PaperExecutor simulates order execution against a price source. Fills
// happen instantly at the latest known price. It backs both paper trading
// mode and the backtest engine.
type PaperExecutor struct {
	prices PriceSource
	now    func() time.Time

	mu       sync.Mutex
	failures map[string]string // symbol -> rejection reason
	orders   []models.Order
}

// NewPaperExecutor creates a simulated executor fed by the given price source.
func NewPaperExecutor(prices PriceSource) *PaperExecutor {
	return &PaperExecutor{
		prices:   prices,
		now:      time.Now,
		failures: make(map[string]string),
	}
}

// SetClock overrides the executor's time source. Used by backtests.
func (p *PaperExecutor) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// FailSymbol makes every subsequent order on symbol reject with reason.
func (p *PaperExecutor) FailSymbol(symbol, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[symbol] = reason
}

// ClearFailures removes all injected rejections.
func (p *PaperExecutor) ClearFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = make(map[string]string)
}

// Orders returns a copy of every simulated order placed so far.
func (p *PaperExecutor) Orders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// PlaceMultiLeg fills every leg of the plan at the latest cached price.
func (p *PaperExecutor) PlaceMultiLeg(ctx context.Context, plan models.PositionPlan, lotSize int) ([]LegFill, error) {
	fills := make([]LegFill, 0, len(plan.Legs))
	var outcomes []errors.LegOutcome
	failed := 0

	for _, leg := range plan.Legs {
		fill := p.fill(ctx, leg.Symbol(), leg.Side, leg.Quantity*lotSize)
		fills = append(fills, fill)
		outcomes = append(outcomes, errors.LegOutcome{
			Symbol: fill.Symbol, OK: fill.Filled, OrderID: fill.OrderID,
			Price: fill.FillPrice, Reason: fill.Reason,
		})
		if !fill.Filled {
			failed++
		}
	}

	if failed > 0 {
		return fills, errors.NewPartialFillError("entry", outcomes)
	}
	return fills, nil
}

// CloseAll closes every still-open leg at the latest cached price.
func (p *PaperExecutor) CloseAll(ctx context.Context, pos *models.OpenPosition) ([]LegClose, error) {
	open := pos.OpenLegs()
	closes := make([]LegClose, 0, len(open))
	var outcomes []errors.LegOutcome
	failed := 0

	for _, leg := range open {
		fill := p.fill(ctx, leg.Symbol(), leg.Side.Opposite(), leg.Quantity*pos.LotSize)
		lc := LegClose{
			Symbol: fill.Symbol, Closed: fill.Filled,
			ClosePrice: fill.FillPrice, ClosedAt: fill.FilledAt, Reason: fill.Reason,
		}
		closes = append(closes, lc)
		outcomes = append(outcomes, errors.LegOutcome{
			Symbol: lc.Symbol, OK: lc.Closed, Price: lc.ClosePrice, Reason: lc.Reason,
		})
		if !lc.Closed {
			failed++
		}
	}

	if failed > 0 {
		return closes, errors.NewPartialFillError("exit", outcomes)
	}
	return closes, nil
}

func (p *PaperExecutor) fill(ctx context.Context, symbol string, side models.OrderSide, qty int) LegFill {
	p.mu.Lock()
	reason, rejected := p.failures[symbol]
	now := p.now()
	p.mu.Unlock()

	if rejected {
		return LegFill{Symbol: symbol, Reason: reason}
	}

	q, err := p.prices.LatestPrice(ctx, symbol)
	if err != nil {
		return LegFill{Symbol: symbol, Reason: err.Error()}
	}

	orderID := uuid.New().String()
	p.mu.Lock()
	p.orders = append(p.orders, models.Order{
		ID:       orderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    q.LTP,
		PlacedAt: now,
		Status:   "COMPLETE",
	})
	p.mu.Unlock()

	return LegFill{
		Symbol: symbol, OrderID: orderID, Filled: true,
		FillPrice: q.LTP, FilledAt: now,
	}
}
