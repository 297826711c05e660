package backtest

import (
	"context"
	"sort"
	"time"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
	"banknifty-trader/internal/strategy"
)

// staleAfter is how far behind the simulated clock a candle may lag before
// the quote is flagged stale.
const staleAfter = 5 * time.Minute

// candlePrices adapts stored candles to the engine's price source. The
// quote for a symbol is the close of the latest candle at or before the
// simulated clock.
type candlePrices struct {
	source    CandleSource
	clock     strategy.Clock
	dayStart  time.Time
	dayEnd    time.Time
	timeframe string
	cache     map[string][]models.Candle
}

func newCandlePrices(source CandleSource, clock strategy.Clock, day time.Time) *candlePrices {
	return &candlePrices{
		source:    source,
		clock:     clock,
		dayStart:  day,
		dayEnd:    day.AddDate(0, 0, 1),
		timeframe: "minute",
		cache:     make(map[string][]models.Candle),
	}
}

// LatestPrice returns the candle-derived quote for the simulated instant.
func (p *candlePrices) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	candles, ok := p.cache[symbol]
	if !ok {
		var err error
		candles, err = p.source.GetCandles(ctx, symbol, p.timeframe, p.dayStart, p.dayEnd)
		if err != nil {
			return models.Quote{}, err
		}
		p.cache[symbol] = candles
	}

	now := p.clock.Now()
	idx := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp.After(now)
	})
	if idx == 0 {
		return models.Quote{}, errors.Wrapf(errors.ErrPriceUnavailable,
			"no candle for %s at %s", symbol, now.Format("15:04:05"))
	}

	c := candles[idx-1]
	q := models.Quote{
		Symbol:    symbol,
		LTP:       c.Close,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Timestamp: c.Timestamp,
	}
	if now.Sub(c.Timestamp) > staleAfter {
		return q, errors.Wrapf(errors.ErrPriceStale, "candle for %s is %s old",
			symbol, now.Sub(c.Timestamp))
	}
	return q, nil
}
