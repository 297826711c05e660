package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

func exitConfig() ExitConfig {
	return ExitConfig{
		ProfitTargetPercent: 10,
		Cutoff:              time.Date(2025, 9, 30, 15, 25, 0, 0, time.UTC),
		MaxCloseRetries:     3,
		RetryDelay:          time.Millisecond,
	}
}

func snapshotAt(pct float64, now time.Time) models.PnLSnapshot {
	return models.PnLSnapshot{Timestamp: now, PercentOfCapital: pct}
}

func TestExitController_HoldBelowTarget(t *testing.T) {
	c := NewExitController(exitConfig())
	now := time.Date(2025, 9, 30, 15, 10, 0, 0, time.UTC)

	d := c.Decide(snapshotAt(9.99, now), now)
	assert.Equal(t, models.DecisionHold, d.Kind)
	assert.Equal(t, ExitMonitoring, c.State())
}

func TestExitController_ProfitExitOnCrossingTick(t *testing.T) {
	c := NewExitController(exitConfig())
	now := time.Date(2025, 9, 30, 15, 10, 0, 0, time.UTC)

	d := c.Decide(snapshotAt(10.0, now), now)
	assert.Equal(t, models.DecisionProfitExit, d.Kind)
	assert.Equal(t, ExitProfitExitPending, c.State())

	// The decision is issued once; later ticks hold while the close runs.
	d = c.Decide(snapshotAt(12.0, now.Add(time.Second)), now.Add(time.Second))
	assert.Equal(t, models.DecisionHold, d.Kind)
}

func TestExitController_ForcedExitAtCutoff(t *testing.T) {
	c := NewExitController(exitConfig())
	cutoff := exitConfig().Cutoff

	// One tick before the cutoff nothing fires.
	d := c.Decide(snapshotAt(-2, cutoff.Add(-time.Second)), cutoff.Add(-time.Second))
	assert.Equal(t, models.DecisionHold, d.Kind)

	// Exactly at the cutoff the forced exit fires, profit or loss.
	d = c.Decide(snapshotAt(-2, cutoff), cutoff)
	assert.Equal(t, models.DecisionForcedExit, d.Kind)
	assert.Equal(t, ExitForcedExitPending, c.State())

	// Issued exactly once.
	d = c.Decide(snapshotAt(-2, cutoff.Add(time.Second)), cutoff.Add(time.Second))
	assert.Equal(t, models.DecisionHold, d.Kind)
}

func TestExitController_ForcedWinsOverProfit(t *testing.T) {
	c := NewExitController(exitConfig())
	cutoff := exitConfig().Cutoff

	// Both conditions true on the same tick: the cutoff wins.
	d := c.Decide(snapshotAt(15.0, cutoff), cutoff)
	assert.Equal(t, models.DecisionForcedExit, d.Kind)
}

func TestExitController_ManualExit(t *testing.T) {
	c := NewExitController(exitConfig())
	now := time.Date(2025, 9, 30, 15, 10, 0, 0, time.UTC)

	c.RequestManualExit()
	d := c.Decide(snapshotAt(15.0, now), now)
	assert.Equal(t, models.DecisionForcedExit, d.Kind)
	assert.Equal(t, "manual exit requested", d.Reason)
}

func closeFixture(t *testing.T) (*models.OpenPosition, *broker.PaperExecutor) {
	t.Helper()
	exp := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	pos := &models.OpenPosition{
		SessionID: "s1",
		LotSize:   25,
		Legs: []models.OpenLeg{
			{
				Leg:       models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentFuture, Expiry: exp, Side: models.OrderSideSell, Quantity: 1},
				FillPrice: 50000,
			},
			{
				Leg:       models.Leg{Underlying: "BANKNIFTY", Kind: models.InstrumentPut, Expiry: exp, Strike: 49900, Side: models.OrderSideSell, Quantity: 1},
				FillPrice: 300,
			},
		},
	}

	cache := broker.NewQuoteCache(0)
	now := time.Date(2025, 9, 30, 15, 25, 0, 0, time.UTC)
	for _, leg := range pos.Legs {
		cache.Update(leg.Symbol(), 250, now)
	}
	return pos, broker.NewPaperExecutor(cache)
}

func TestExitController_ClosePosition(t *testing.T) {
	pos, exec := closeFixture(t)
	c := NewExitController(exitConfig())

	err := c.ClosePosition(context.Background(), exec, pos)
	require.NoError(t, err)
	assert.True(t, pos.FullyClosed())
	assert.Equal(t, ExitClosed, c.State())
}

func TestExitController_CloseAbortsAfterRetries(t *testing.T) {
	pos, exec := closeFixture(t)
	exec.FailSymbol(pos.Legs[1].Symbol(), "exchange rejected")

	c := NewExitController(exitConfig())
	err := c.ClosePosition(context.Background(), exec, pos)

	require.Error(t, err)
	var bte *errors.BrokerTimeoutError
	require.ErrorAs(t, err, &bte)
	assert.Equal(t, 3, bte.Attempts)
	assert.Equal(t, ExitAborted, c.State())

	// The leg that did close stays closed; the stuck one is left open for
	// manual intervention.
	assert.True(t, pos.Legs[0].Closed)
	assert.False(t, pos.Legs[1].Closed)
}

func TestExitController_CloseRetriesOnInjectedClock(t *testing.T) {
	pos, exec := closeFixture(t)
	exec.FailSymbol(pos.Legs[1].Symbol(), "exchange rejected")

	start := time.Date(2025, 9, 30, 15, 25, 0, 0, time.UTC)
	clock := NewSimClock(start)
	cfg := exitConfig()
	cfg.RetryDelay = time.Hour
	cfg.Clock = clock
	c := NewExitController(cfg)

	wall := time.Now()
	err := c.ClosePosition(context.Background(), exec, pos)
	require.Error(t, err)

	// The hour-long delays between the three attempts ran on the injected
	// clock, not wall time.
	assert.Less(t, time.Since(wall), 5*time.Second)
	assert.Equal(t, start.Add(2*time.Hour), clock.Now())
	assert.Equal(t, ExitAborted, c.State())
}

func TestExitController_CloseRecoversOnRetry(t *testing.T) {
	pos, exec := closeFixture(t)
	stuck := pos.Legs[1].Symbol()
	exec.FailSymbol(stuck, "momentary rejection")

	cfg := exitConfig()
	cfg.RetryDelay = 50 * time.Millisecond
	c := NewExitController(cfg)

	done := make(chan error, 1)
	go func() {
		done <- c.ClosePosition(context.Background(), exec, pos)
	}()

	// Let the first attempt fail, then clear the fault.
	time.Sleep(10 * time.Millisecond)
	exec.ClearFailures()

	err := <-done
	require.NoError(t, err)
	assert.True(t, pos.FullyClosed())
	assert.Equal(t, ExitClosed, c.State())
}
