// Package backtest replays historical candles through the live strategy
// engine with a simulated clock.
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/calendar"
	"banknifty-trader/internal/config"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
	"banknifty-trader/internal/strategy"
)

// CandleSource supplies the historical candles a backtest replays.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// EquityPoint is one step of the equity curve.
type EquityPoint struct {
	Day    time.Time
	Equity float64
	PnL    float64
}

// DayResult is the outcome of one simulated expiry day.
type DayResult struct {
	Session    strategy.SessionResult
	GrossPnL   float64
	Commission float64
	NetPnL     float64
	Orders     int
}

// Result aggregates a backtest run.
type Result struct {
	From           time.Time
	To             time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalPnL       float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	SkippedDays    int
	AbortedDays    int
	WinRate        float64
	MaxDrawdown    float64
	Commission     float64
	EquityCurve    []EquityPoint
	Days           []DayResult
}

// Runner drives the strategy engine over a historical window. Every expiry
// day in the window runs through exactly the same scheduling, monitoring and
// exit code paths as a live session; only the clock and the price feed are
// simulated.
type Runner struct {
	cfg     config.Config
	candles CandleSource
	cal     *calendar.Calendar
	log     zerolog.Logger
}

// NewRunner creates a backtest runner.
func NewRunner(cfg config.Config, candles CandleSource, cal *calendar.Calendar, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, candles: candles, cal: cal, log: log}
}

// Run simulates every monthly expiry between from and to inclusive.
func (r *Runner) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	if to.Before(from) {
		return nil, errors.NewConfigError("backtest", "range end precedes start")
	}

	days, err := r.expiryDays(from, to)
	if err != nil {
		return nil, err
	}

	result := &Result{
		From:           from,
		To:             to,
		InitialCapital: r.cfg.Backtest.InitialCapital,
		FinalEquity:    r.cfg.Backtest.InitialCapital,
	}

	equity := r.cfg.Backtest.InitialCapital
	peak := equity

	for _, day := range days {
		dayResult, err := r.runDay(ctx, day)
		if err != nil {
			return nil, errors.Wrapf(err, "simulating %s", day.Format("2006-01-02"))
		}
		result.Days = append(result.Days, *dayResult)

		switch dayResult.Session.Outcome {
		case strategy.OutcomeSkipped:
			result.SkippedDays++
			continue
		case strategy.OutcomeAborted:
			result.AbortedDays++
		}

		result.TotalTrades++
		if dayResult.NetPnL > 0 {
			result.WinningTrades++
		} else if dayResult.NetPnL < 0 {
			result.LosingTrades++
		}
		result.TotalPnL += dayResult.NetPnL
		result.Commission += dayResult.Commission

		equity += dayResult.NetPnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > result.MaxDrawdown {
			result.MaxDrawdown = dd
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Day:    day,
			Equity: equity,
			PnL:    dayResult.NetPnL,
		})
	}

	result.FinalEquity = equity
	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}
	return result, nil
}

// expiryDays lists the monthly expiries inside the window.
func (r *Runner) expiryDays(from, to time.Time) ([]time.Time, error) {
	var days []time.Time
	year, month := from.Year(), from.Month()

	for {
		expiry, _, err := r.cal.MonthlyExpiry(year, month)
		if err != nil {
			return nil, err
		}
		d := expiry.Date
		if d.After(to) {
			break
		}
		if !d.Before(from) {
			days = append(days, d)
		}
		month++
		if month > time.December {
			year, month = year+1, time.January
		}
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// runDay replays one expiry day.
func (r *Runner) runDay(ctx context.Context, day time.Time) (*DayResult, error) {
	entryAt := r.cfg.Strategy.EntryAt(day)
	clock := strategy.NewSimClock(entryAt.Add(-time.Minute))

	prices := newCandlePrices(r.candles, clock, day)
	exec := broker.NewPaperExecutor(prices)
	exec.SetClock(clock.Now)

	engine := strategy.NewEngine(r.cfg.Strategy, strategy.EngineDeps{
		Calendar: r.cal,
		Executor: exec,
		Prices:   prices,
		Clock:    clock,
		Logger:   r.log.With().Str("backtest_day", day.Format("2006-01-02")).Logger(),
	})

	session, err := engine.Run(ctx, day)
	if err != nil {
		// A day whose candles never produce a reference price is reported
		// as skipped, not a hard failure for the whole run.
		if errors.Is(err, errors.ErrPriceUnavailable) {
			return &DayResult{Session: strategy.SessionResult{
				Day:     day,
				Outcome: strategy.OutcomeSkipped,
			}}, nil
		}
		return nil, err
	}

	orders := len(exec.Orders())
	commission := float64(orders) * r.cfg.Backtest.CommissionPerOrder
	return &DayResult{
		Session:    *session,
		GrossPnL:   session.FinalPnL,
		Commission: commission,
		NetPnL:     session.FinalPnL - commission,
		Orders:     orders,
	}, nil
}
