package strategy

import (
	"context"
	"time"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// Monitor marks an open position to market. When a leg's price is stale or
// momentarily unavailable the last known price is held over and the leg is
// flagged, so one flaky quote never zeroes the combined P&L.
type Monitor struct {
	prices  broker.PriceSource
	capital float64
	last    map[string]float64
}

// NewMonitor creates a monitor. capital is the deployed-capital figure the
// percent P&L is computed against.
func NewMonitor(prices broker.PriceSource, capital float64) *Monitor {
	return &Monitor{
		prices:  prices,
		capital: capital,
		last:    make(map[string]float64),
	}
}

// Tick recomputes the mark-to-market snapshot for every open leg.
// Closed legs are done trading and drop out of the snapshot entirely;
// their realized P&L lives on the position, not the unrealized figure.
func (m *Monitor) Tick(ctx context.Context, pos *models.OpenPosition, now time.Time) models.PnLSnapshot {
	snap := models.PnLSnapshot{
		Timestamp: now,
		PerLeg:    make(map[string]models.LegPnL, len(pos.Legs)),
	}

	for _, leg := range pos.Legs {
		if leg.Closed {
			continue
		}
		symbol := leg.Symbol()
		price, stale := m.mark(ctx, symbol, leg.FillPrice)

		diff := price - leg.FillPrice
		if leg.Side == models.OrderSideSell {
			diff = -diff
		}
		pnl := diff * float64(leg.Quantity*pos.LotSize)

		snap.PerLeg[symbol] = models.LegPnL{
			Symbol:     symbol,
			Price:      price,
			Unrealized: pnl,
			Stale:      stale,
		}
		snap.Combined += pnl
		if stale {
			snap.StaleLegs++
		}
	}

	if m.capital > 0 {
		snap.PercentOfCapital = snap.Combined / m.capital * 100
	}
	return snap
}

// mark resolves the marking price for one open leg. Order of preference:
// a fresh quote, the held-over last known price, the entry fill price.
func (m *Monitor) mark(ctx context.Context, symbol string, fillPrice float64) (float64, bool) {
	q, err := m.prices.LatestPrice(ctx, symbol)
	if err == nil {
		m.last[symbol] = q.LTP
		return q.LTP, false
	}
	if errors.Is(err, errors.ErrPriceStale) && q.LTP > 0 {
		m.last[symbol] = q.LTP
		return q.LTP, true
	}
	if prev, ok := m.last[symbol]; ok {
		return prev, true
	}
	return fillPrice, true
}
