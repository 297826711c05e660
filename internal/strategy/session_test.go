package strategy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/calendar"
	"banknifty-trader/internal/config"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// movingPrices quotes every instrument off the simulated clock: the futures
// price gaps down at moveAt, everything else stays put.
type movingPrices struct {
	clock    Clock
	moveAt   time.Time
	futAfter float64
}

func (p *movingPrices) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	now := p.clock.Now()
	price := 200.0
	if strings.HasSuffix(symbol, "FUT") {
		price = 50000
		if !p.moveAt.IsZero() && !now.Before(p.moveAt) {
			price = p.futAfter
		}
	}
	return models.Quote{Symbol: symbol, LTP: price, Timestamp: now}, nil
}

type memoryJournal struct {
	mu        sync.Mutex
	sessions  []*SessionResult
	snapshots int
	aborts    []string
}

func (j *memoryJournal) SaveSession(ctx context.Context, result *SessionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions = append(j.sessions, result)
	return nil
}

func (j *memoryJournal) SaveSnapshot(ctx context.Context, sessionID string, snap models.PnLSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots++
	return nil
}

func (j *memoryJournal) SaveAbortAlert(ctx context.Context, sessionID, reason string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.aborts = append(j.aborts, reason)
	return nil
}

type memoryAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *memoryAlerter) Notify(ctx context.Context, level, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
	return nil
}

// abortingExecutor enters normally but never manages to close a leg.
type abortingExecutor struct {
	inner broker.OrderExecutor
}

func (a *abortingExecutor) PlaceMultiLeg(ctx context.Context, plan models.PositionPlan, lotSize int) ([]broker.LegFill, error) {
	return a.inner.PlaceMultiLeg(ctx, plan, lotSize)
}

func (a *abortingExecutor) CloseAll(ctx context.Context, pos *models.OpenPosition) ([]broker.LegClose, error) {
	var closes []broker.LegClose
	var outcomes []errors.LegOutcome
	for _, leg := range pos.OpenLegs() {
		closes = append(closes, broker.LegClose{Symbol: leg.Symbol(), Reason: "exchange offline"})
		outcomes = append(outcomes, errors.LegOutcome{Symbol: leg.Symbol(), Reason: "exchange offline"})
	}
	return closes, errors.NewPartialFillError("exit", outcomes)
}

func engineConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Underlying:                "BANKNIFTY",
		EntryTime:                 "15:00",
		ExitCutoffTime:            "15:25",
		ProfitTargetPercent:       10,
		DeployedCapital:           500000,
		StrikeOffsetTiers:         map[string]float64{"near": 0.25, "mid": 0.50, "far": 0.75},
		LegVariant:                "calendar_spread",
		LotSize:                   25,
		RoundingUnit:              100,
		PollIntervalSeconds:       5,
		LateEntryToleranceSeconds: 300,
		MaxCloseRetries:           2,
	}
}

// expiryDay is the September 2025 monthly expiry, the first under the
// revised Tuesday rule.
func expiryDay() time.Time {
	return time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, prices broker.PriceSource, exec broker.OrderExecutor, clock Clock, journal Journal, alerter Alerter) *Engine {
	t.Helper()
	return NewEngine(engineConfig(), EngineDeps{
		Calendar: calendar.New(time.Time{}, calendar.NewHolidaySet(nil)),
		Executor: exec,
		Prices:   prices,
		Clock:    clock,
		Journal:  journal,
		Alerter:  alerter,
		Logger:   zerolog.Nop(),
	})
}

func TestEngine_ProfitExit(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{
		clock:    clock,
		moveAt:   day.Add(15*time.Hour + 20*time.Second),
		futAfter: 47900, // short future gains 2100 * 25 units = 52500, 10.5%
	}
	exec := broker.NewPaperExecutor(prices)
	exec.SetClock(clock.Now)
	journal := &memoryJournal{}

	engine := newTestEngine(t, prices, exec, clock, journal, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProfitExit, result.Outcome)
	assert.Equal(t, models.DecisionProfitExit, result.Decision.Kind)
	assert.True(t, result.Position.FullyClosed())
	assert.Equal(t, 52500.0, result.FinalPnL)
	require.Len(t, result.Plan.Legs, 7)
	assert.Greater(t, journal.snapshots, 0)

	// Entry fired exactly at 15:00 and the close happened well before the
	// forced cutoff.
	assert.Equal(t, day.Add(15*time.Hour), result.EnteredAt)
	assert.True(t, result.FinishedAt.Before(day.Add(15*time.Hour+25*time.Minute)))
}

func TestEngine_ForcedExitAtCutoff(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{clock: clock} // prices never move, P&L stays flat
	exec := broker.NewPaperExecutor(prices)
	exec.SetClock(clock.Now)

	engine := newTestEngine(t, prices, exec, clock, &memoryJournal{}, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeForcedExit, result.Outcome)
	assert.Equal(t, models.DecisionForcedExit, result.Decision.Kind)
	assert.True(t, result.Position.FullyClosed())
	assert.Equal(t, 0.0, result.FinalPnL)

	// The monitor ticks every 5 seconds from 15:00, so the forced exit
	// lands exactly on the 15:25 cutoff tick.
	assert.Equal(t, day.Add(15*time.Hour+25*time.Minute), result.Position.Legs[0].ClosedAt)
}

func TestEngine_AbortWhenCloseFails(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{
		clock:    clock,
		moveAt:   day.Add(15*time.Hour + 10*time.Second),
		futAfter: 47900,
	}
	exec := &abortingExecutor{inner: broker.NewPaperExecutor(prices)}
	journal := &memoryJournal{}
	alerter := &memoryAlerter{}

	engine := newTestEngine(t, prices, exec, clock, journal, alerter)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.False(t, result.Position.FullyClosed())
	assert.Len(t, result.Position.OpenLegs(), 7, "aborted position is left untouched")

	require.Len(t, journal.aborts, 1)
	require.Len(t, alerter.titles, 1)
	assert.Equal(t, "Session ABORTED", alerter.titles[0])
}

func TestEngine_SkipsDayWhenStartedTooLate(t *testing.T) {
	day := expiryDay()
	// Tolerance is 300s; starting 6 minutes late stands down for the day.
	clock := NewSimClock(day.Add(15*time.Hour + 6*time.Minute))
	prices := &movingPrices{clock: clock}
	exec := broker.NewPaperExecutor(prices)
	journal := &memoryJournal{}

	engine := newTestEngine(t, prices, exec, clock, journal, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Nil(t, result.Position)
	require.Len(t, journal.sessions, 1)
}

func TestEngine_LateStartWithinToleranceStillEnters(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(15*time.Hour + 4*time.Minute))
	prices := &movingPrices{clock: clock}
	exec := broker.NewPaperExecutor(prices)

	engine := newTestEngine(t, prices, exec, clock, &memoryJournal{}, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.NotEqual(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, day.Add(15*time.Hour+4*time.Minute), result.EnteredAt)
}

func TestEngine_ManualExitClosesPosition(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{clock: clock} // flat P&L, nowhere near the target
	exec := broker.NewPaperExecutor(prices)
	exec.SetClock(clock.Now)

	engine := newTestEngine(t, prices, exec, clock, &memoryJournal{}, nil)
	engine.RequestManualExit()

	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeForcedExit, result.Outcome)
	assert.Equal(t, models.DecisionForcedExit, result.Decision.Kind)
	assert.Contains(t, result.Decision.Reason, "manual")
	assert.True(t, result.Position.FullyClosed())

	// The request lands on the first monitoring tick, well before cutoff.
	assert.Equal(t, day.Add(15*time.Hour), result.Position.Legs[0].ClosedAt)
}

func TestEngine_RejectsNonExpiryDay(t *testing.T) {
	day := expiryDay().AddDate(0, 0, -1)
	clock := NewSimClock(day)
	prices := &movingPrices{clock: clock}
	exec := broker.NewPaperExecutor(prices)

	engine := newTestEngine(t, prices, exec, clock, nil, nil)
	_, err := engine.Run(context.Background(), day)
	assert.ErrorIs(t, err, errors.ErrNotExpiryDay)
}

func TestEngine_SkipsDayWhenNoEntryLegFills(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{clock: clock}
	paper := broker.NewPaperExecutor(prices)

	plan, err := BuildPlan(PlanParams{
		Underlying:   "BANKNIFTY",
		Variant:      "calendar_spread",
		Expiry:       time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC),
		Reference:    50000,
		Tiers:        map[string]float64{"near": 0.25, "mid": 0.50, "far": 0.75},
		RoundingUnit: 100,
	})
	require.NoError(t, err)
	for _, leg := range plan.Legs {
		paper.FailSymbol(leg.Symbol(), "exchange offline")
	}

	journal := &memoryJournal{}
	engine := newTestEngine(t, prices, paper, clock, journal, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Nil(t, result.Position)
	require.Len(t, journal.sessions, 1)
}

func TestEngine_PartialEntryManagesFilledLegs(t *testing.T) {
	day := expiryDay()
	clock := NewSimClock(day.Add(14*time.Hour + 59*time.Minute))
	prices := &movingPrices{clock: clock}
	paper := broker.NewPaperExecutor(prices)

	// The short future rejects at entry; the six option legs still fill and
	// get managed through to the forced exit.
	futSymbol := models.Leg{
		Underlying: "BANKNIFTY",
		Kind:       models.InstrumentFuture,
		Expiry:     time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC),
	}.Symbol()
	paper.FailSymbol(futSymbol, "insufficient margin")

	engine := newTestEngine(t, prices, paper, clock, &memoryJournal{}, nil)
	result, err := engine.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, OutcomeForcedExit, result.Outcome)
	require.NotNil(t, result.Position)
	assert.Len(t, result.Position.Legs, 6)
	assert.True(t, result.Position.FullyClosed())
}
