package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

func expiry() time.Time {
	return time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
}

func testPlan() models.PositionPlan {
	return models.PositionPlan{
		Underlying:     "BANKNIFTY",
		Variant:        "calendar_spread",
		ReferencePrice: 50000,
		Legs: []models.Leg{
			{Underlying: "BANKNIFTY", Kind: models.InstrumentFuture, Expiry: expiry(), Side: models.OrderSideSell, Quantity: 1},
			{Underlying: "BANKNIFTY", Kind: models.InstrumentPut, Expiry: expiry(), Strike: 49900, Side: models.OrderSideSell, Quantity: 1, Tier: "near"},
			{Underlying: "BANKNIFTY", Kind: models.InstrumentCall, Expiry: expiry(), Strike: 50300, Side: models.OrderSideBuy, Quantity: 2, Tier: "far"},
		},
	}
}

func TestQuoteCache_LatestPrice(t *testing.T) {
	cache := NewQuoteCache(10 * time.Second)
	now := time.Date(2025, 9, 30, 15, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	_, err := cache.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	assert.ErrorIs(t, err, errors.ErrPriceUnavailable)

	cache.Update("BANKNIFTY250930FUT", 50012.5, now.Add(-2*time.Second))
	q, err := cache.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	require.NoError(t, err)
	assert.Equal(t, 50012.5, q.LTP)
}

func TestQuoteCache_StalePrice(t *testing.T) {
	cache := NewQuoteCache(10 * time.Second)
	now := time.Date(2025, 9, 30, 15, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	cache.Update("BANKNIFTY250930FUT", 50012.5, now.Add(-30*time.Second))
	q, err := cache.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	assert.ErrorIs(t, err, errors.ErrPriceStale)
	// The stale quote is still returned so callers can hold it over.
	assert.Equal(t, 50012.5, q.LTP)
}

func TestQuoteCache_ZeroMaxAgeDisablesStaleness(t *testing.T) {
	cache := NewQuoteCache(0)
	cache.Update("BANKNIFTY250930FUT", 50012.5, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := cache.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	assert.NoError(t, err)
}

// flakySource fails on demand so the fallback path can be driven.
type flakySource struct {
	price float64
	fail  bool
}

func (f *flakySource) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	if f.fail {
		return models.Quote{}, errors.Wrapf(errors.ErrPriceUnavailable, "upstream down for %s", symbol)
	}
	return models.Quote{Symbol: symbol, LTP: f.price, Timestamp: time.Now()}, nil
}

func TestCachedSource_FallsBackToLastGoodQuote(t *testing.T) {
	upstream := &flakySource{price: 50012.5}
	src := NewCachedSource(upstream, time.Minute)

	q, err := src.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	require.NoError(t, err)
	assert.Equal(t, 50012.5, q.LTP)

	// Upstream failure serves the cached quote, flagged stale.
	upstream.fail = true
	q, err = src.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	assert.ErrorIs(t, err, errors.ErrPriceStale)
	assert.Equal(t, 50012.5, q.LTP)
}

func TestCachedSource_NoCacheEntryPropagatesError(t *testing.T) {
	src := NewCachedSource(&flakySource{fail: true}, time.Minute)

	_, err := src.LatestPrice(context.Background(), "BANKNIFTY250930FUT")
	assert.ErrorIs(t, err, errors.ErrPriceUnavailable)
}

func TestPaperExecutor_PlaceMultiLeg(t *testing.T) {
	cache := NewQuoteCache(0)
	plan := testPlan()
	now := time.Date(2025, 9, 30, 15, 0, 0, 0, time.UTC)
	for _, leg := range plan.Legs {
		cache.Update(leg.Symbol(), 100+leg.Strike/1000, now)
	}

	exec := NewPaperExecutor(cache)
	exec.SetClock(func() time.Time { return now })

	fills, err := exec.PlaceMultiLeg(context.Background(), plan, 25)
	require.NoError(t, err)
	require.Len(t, fills, len(plan.Legs))

	for i, fill := range fills {
		assert.True(t, fill.Filled, "leg %s should fill", fill.Symbol)
		assert.Equal(t, plan.Legs[i].Symbol(), fill.Symbol)
		assert.NotEmpty(t, fill.OrderID)
		assert.Greater(t, fill.FillPrice, 0.0)
	}

	orders := exec.Orders()
	require.Len(t, orders, len(plan.Legs))
	assert.Equal(t, 25, orders[0].Quantity, "futures leg of 1 lot should fill 25 units")
	assert.Equal(t, 50, orders[2].Quantity, "call leg of 2 lots should fill 50 units")
}

func TestPaperExecutor_PartialFill(t *testing.T) {
	cache := NewQuoteCache(0)
	plan := testPlan()
	now := time.Date(2025, 9, 30, 15, 0, 0, 0, time.UTC)
	for _, leg := range plan.Legs {
		cache.Update(leg.Symbol(), 100, now)
	}

	exec := NewPaperExecutor(cache)
	rejected := plan.Legs[1].Symbol()
	exec.FailSymbol(rejected, "insufficient margin")

	fills, err := exec.PlaceMultiLeg(context.Background(), plan, 25)
	require.Error(t, err)

	var pfe *errors.PartialFillError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, "entry", pfe.Operation)
	require.Len(t, pfe.Failed(), 1)
	assert.Equal(t, rejected, pfe.Failed()[0].Symbol)

	// The other legs still report real fills so the caller can reconcile.
	require.Len(t, fills, len(plan.Legs))
	assert.True(t, fills[0].Filled)
	assert.False(t, fills[1].Filled)
	assert.True(t, fills[2].Filled)
}

func TestPaperExecutor_CloseAll(t *testing.T) {
	cache := NewQuoteCache(0)
	now := time.Date(2025, 9, 30, 15, 20, 0, 0, time.UTC)

	pos := &models.OpenPosition{
		SessionID:  "s1",
		Underlying: "BANKNIFTY",
		LotSize:    25,
		Legs: []models.OpenLeg{
			{Leg: models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentFuture, Expiry: expiry(), Side: models.OrderSideSell, Quantity: 1}, FillPrice: 50000},
			{Leg: models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentPut, Expiry: expiry(), Strike: 49900, Side: models.OrderSideSell, Quantity: 1}, FillPrice: 300},
		},
	}
	for _, leg := range pos.Legs {
		cache.Update(leg.Symbol(), 120, now)
	}

	exec := NewPaperExecutor(cache)
	exec.SetClock(func() time.Time { return now })

	closes, err := exec.CloseAll(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, closes, 2)
	for _, lc := range closes {
		assert.True(t, lc.Closed)
		assert.Equal(t, 120.0, lc.ClosePrice)
	}

	// Close orders go in on the opposite side of the entry.
	orders := exec.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderSideBuy, orders[0].Side)
	assert.Equal(t, models.OrderSideBuy, orders[1].Side)
}

func TestPaperExecutor_CloseAllSkipsClosedLegs(t *testing.T) {
	cache := NewQuoteCache(0)
	now := time.Date(2025, 9, 30, 15, 20, 0, 0, time.UTC)

	pos := &models.OpenPosition{
		SessionID: "s1",
		LotSize:   25,
		Legs: []models.OpenLeg{
			{Leg: models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentFuture, Expiry: expiry(), Side: models.OrderSideSell, Quantity: 1}, FillPrice: 50000, Closed: true, ClosePrice: 49900},
			{Leg: models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentPut, Expiry: expiry(), Strike: 49900, Side: models.OrderSideSell, Quantity: 1}, FillPrice: 300},
		},
	}
	cache.Update(pos.Legs[1].Symbol(), 120, now)

	exec := NewPaperExecutor(cache)
	closes, err := exec.CloseAll(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, pos.Legs[1].Symbol(), closes[0].Symbol)
}
