package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/calendar"
	"banknifty-trader/internal/config"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/logging"
	"banknifty-trader/internal/models"
)

// Journal persists session state so an abort survives a process restart.
// Implementations may be nil-safe no-ops in backtests.
type Journal interface {
	SaveSession(ctx context.Context, result *SessionResult) error
	SaveSnapshot(ctx context.Context, sessionID string, snap models.PnLSnapshot) error
	SaveAbortAlert(ctx context.Context, sessionID, reason string, at time.Time) error
}

// Alerter delivers out-of-band notifications for session events.
type Alerter interface {
	Notify(ctx context.Context, level, title, message string) error
}

// SessionOutcome is the terminal disposition of one expiry-day session.
type SessionOutcome string

const (
	OutcomeSkipped    SessionOutcome = "SKIPPED"     // no entry fired
	OutcomeProfitExit SessionOutcome = "PROFIT_EXIT" // closed on target
	OutcomeForcedExit SessionOutcome = "FORCED_EXIT" // closed at cutoff or by hand
	OutcomeAborted    SessionOutcome = "ABORTED"     // close failed, legs remain open
)

// SessionResult is the record of one expiry-day session.
type SessionResult struct {
	SessionID  string
	Day        time.Time
	Outcome    SessionOutcome
	Decision   models.ExitDecision
	Plan       models.PositionPlan
	Position   *models.OpenPosition
	FinalPnL   float64
	EnteredAt  time.Time
	FinishedAt time.Time
}

// Engine runs the full expiry-day lifecycle: resolve the expiry, fire entry
// at the configured instant, monitor P&L, and exit on target or at the
// forced cutoff. The same engine runs live, paper and backtest sessions;
// only the Clock, executor and price source differ.
type Engine struct {
	cfg     config.StrategyConfig
	cal     *calendar.Calendar
	exec    broker.OrderExecutor
	prices  broker.PriceSource
	clock   Clock
	journal Journal
	alerter Alerter
	log     zerolog.Logger

	manualExit atomic.Bool
}

// EngineDeps wires an Engine. Journal and Alerter may be nil.
type EngineDeps struct {
	Calendar *calendar.Calendar
	Executor broker.OrderExecutor
	Prices   broker.PriceSource
	Clock    Clock
	Journal  Journal
	Alerter  Alerter
	Logger   zerolog.Logger
}

// NewEngine creates an engine from strategy configuration and dependencies.
func NewEngine(cfg config.StrategyConfig, deps EngineDeps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Engine{
		cfg:     cfg,
		cal:     deps.Calendar,
		exec:    deps.Executor,
		prices:  deps.Prices,
		clock:   clock,
		journal: deps.Journal,
		alerter: deps.Alerter,
		log:     deps.Logger,
	}
}

// Run executes one session for the given trading day. It returns an error
// only for setup failures; trading outcomes, including ABORTED, are reported
// in the result.
func (e *Engine) Run(ctx context.Context, day time.Time) (*SessionResult, error) {
	expiry, err := e.cal.Resolve(day)
	if err != nil {
		return nil, err
	}
	if !sameDate(day, expiry.CurrentMonthExpiry.Date) {
		return nil, errors.Wrapf(errors.ErrNotExpiryDay,
			"%s: monthly expiry is %s", day.Format("2006-01-02"),
			expiry.CurrentMonthExpiry.Date.Format("2006-01-02"))
	}

	result := &SessionResult{
		SessionID: uuid.New().String(),
		Day:       day,
	}
	log := logging.WithSession(e.log, result.SessionID)
	log.Info().
		Str("day", day.Format("2006-01-02")).
		Str("regime", string(expiry.Regime)).
		Str("next_expiry", expiry.NextMonthExpiry.Date.Format("2006-01-02")).
		Msg("session starting")

	sched := NewScheduler(e.cfg.EntryAt(day), e.cfg.LateEntryTolerance())
	if err := sched.Arm(); err != nil {
		return nil, err
	}

	fired, err := e.awaitEntry(ctx, sched, log)
	if err != nil {
		return nil, err
	}
	if !fired {
		result.Outcome = OutcomeSkipped
		result.FinishedAt = e.clock.Now()
		log.Warn().Msg("entry window missed, standing down for the day")
		e.saveSession(ctx, result, log)
		return result, nil
	}

	pos, plan, err := e.enter(ctx, expiry, result.SessionID, log)
	var bte *errors.BrokerTimeoutError
	if errors.As(err, &bte) || errors.Is(err, errors.ErrOrderRejected) {
		// Nothing filled, so there is nothing to manage. Stand down instead
		// of failing the process.
		result.Outcome = OutcomeSkipped
		result.FinishedAt = e.clock.Now()
		log.Warn().Err(err).Msg("entry placed no legs, standing down for the day")
		e.saveSession(ctx, result, log)
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Plan = plan
	result.Position = pos
	result.EnteredAt = pos.EnteredAt
	logging.LogEntry(log, result.SessionID, len(pos.Legs), plan.ReferencePrice)
	sched.MarkEntered()
	e.saveSession(ctx, result, log)

	decision, aborted := e.manage(ctx, pos, day, log)
	result.Decision = decision
	result.FinalPnL = pos.RealizedPnL()
	result.FinishedAt = e.clock.Now()
	switch {
	case aborted:
		result.Outcome = OutcomeAborted
	case decision.Kind == models.DecisionProfitExit:
		result.Outcome = OutcomeProfitExit
	default:
		result.Outcome = OutcomeForcedExit
	}
	sched.MarkDone()

	e.saveSession(ctx, result, log)
	if !aborted {
		logging.LogExit(log, result.SessionID, decision.Reason, result.FinalPnL)
	}
	log.Info().
		Str("outcome", string(result.Outcome)).
		Float64("pnl", result.FinalPnL).
		Msg("session finished")
	return result, nil
}

// RequestManualExit asks the running session to close out at the next
// monitoring tick. Safe to call from any goroutine; a no-op before entry
// fires or after the position is closed.
func (e *Engine) RequestManualExit() {
	e.manualExit.Store(true)
}

// awaitEntry blocks until the scheduler fires or skips the day.
func (e *Engine) awaitEntry(ctx context.Context, sched *Scheduler, log zerolog.Logger) (bool, error) {
	for {
		switch sched.Poll(e.clock.Now()) {
		case ActionFireEntry:
			return true, nil
		case ActionSkipDay:
			return false, nil
		}

		wait := sched.EntryAt().Sub(e.clock.Now())
		if wait > time.Second || wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-e.clock.After(wait):
		}
	}
}

// enter fetches the reference price, builds the plan and places every leg.
// A partial fill is reconciled to the actually filled leg set so the exit
// path always works on real positions.
func (e *Engine) enter(ctx context.Context, expiry calendar.ExpiryInfo, sessionID string, log zerolog.Logger) (*models.OpenPosition, models.PositionPlan, error) {
	nextExpiry := expiry.NextMonthExpiry.Date
	futSymbol := models.Leg{
		Underlying: e.cfg.Underlying,
		Kind:       models.InstrumentFuture,
		Expiry:     nextExpiry,
	}.Symbol()

	ref, err := e.referencePrice(ctx, futSymbol)
	if err != nil {
		return nil, models.PositionPlan{}, err
	}

	plan, err := BuildPlan(PlanParams{
		Underlying:   e.cfg.Underlying,
		Variant:      e.cfg.LegVariant,
		Expiry:       nextExpiry,
		Reference:    ref.LTP,
		ReferenceAt:  ref.Timestamp,
		Tiers:        e.cfg.StrikeOffsetTiers,
		RoundingUnit: e.cfg.RoundingUnit,
	})
	if err != nil {
		return nil, models.PositionPlan{}, err
	}
	log.Info().
		Float64("reference", ref.LTP).
		Str("plan", plan.String()).
		Msg("entry firing")

	fills, err := e.exec.PlaceMultiLeg(ctx, plan, e.cfg.LotSize)
	var pfe *errors.PartialFillError
	if err != nil && !errors.As(err, &pfe) {
		return nil, plan, errors.Wrap(err, "placing entry legs")
	}
	if pfe != nil {
		log.Warn().
			Int("failed_legs", len(pfe.Failed())).
			Msg("partial entry fill, managing filled legs only")
	}

	pos := &models.OpenPosition{
		SessionID:  sessionID,
		Underlying: e.cfg.Underlying,
		Variant:    e.cfg.LegVariant,
		LotSize:    e.cfg.LotSize,
		EnteredAt:  e.clock.Now(),
	}
	for i, fill := range fills {
		if !fill.Filled {
			continue
		}
		pos.Legs = append(pos.Legs, models.OpenLeg{
			Leg:       plan.Legs[i],
			OrderID:   fill.OrderID,
			FillPrice: fill.FillPrice,
			FilledAt:  fill.FilledAt,
		})
	}
	if len(pos.Legs) == 0 {
		return nil, plan, errors.Wrap(errors.ErrOrderRejected, "no entry legs filled")
	}
	return pos, plan, nil
}

// referencePrice fetches the futures price the strikes derive from,
// retrying transient price failures within a short window.
func (e *Engine) referencePrice(ctx context.Context, symbol string) (models.Quote, error) {
	deadline := e.clock.Now().Add(30 * time.Second)
	for {
		q, err := e.prices.LatestPrice(ctx, symbol)
		if err == nil && q.LTP > 0 {
			return q, nil
		}
		if !e.clock.Now().Before(deadline) {
			if err == nil {
				err = errors.NewPriceError(symbol, q.LTP, "reference price must be positive")
			}
			return models.Quote{}, errors.Wrap(err, "resolving reference price")
		}
		select {
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		case <-e.clock.After(time.Second):
		}
	}
}

// manage runs the monitor/exit loop until the position is closed or the
// session aborts. Returns the exit decision and whether the close aborted.
func (e *Engine) manage(ctx context.Context, pos *models.OpenPosition, day time.Time, log zerolog.Logger) (models.ExitDecision, bool) {
	monitor := NewMonitor(e.prices, e.cfg.DeployedCapital)
	exit := NewExitController(ExitConfig{
		ProfitTargetPercent: e.cfg.ProfitTargetPercent,
		Cutoff:              e.cfg.ExitCutoffAt(day),
		MaxCloseRetries:     e.cfg.MaxCloseRetries,
		Clock:               e.clock,
	})

	for {
		if e.manualExit.Load() {
			exit.RequestManualExit()
		}
		now := e.clock.Now()
		snap := monitor.Tick(ctx, pos, now)
		if e.journal != nil {
			if err := e.journal.SaveSnapshot(ctx, pos.SessionID, snap); err != nil {
				log.Warn().Err(err).Msg("snapshot not persisted")
			}
		}
		log.Debug().
			Float64("pnl", snap.Combined).
			Float64("pct", snap.PercentOfCapital).
			Int("stale_legs", snap.StaleLegs).
			Msg("tick")

		decision := exit.Decide(snap, now)
		if decision.Kind != models.DecisionHold {
			log.Info().
				Str("decision", string(decision.Kind)).
				Str("reason", decision.Reason).
				Msg("exit triggered")
			if err := exit.ClosePosition(ctx, e.exec, pos); err != nil {
				e.abort(ctx, pos, err, log)
				return decision, true
			}
			return decision, false
		}

		select {
		case <-ctx.Done():
			e.abort(ctx, pos, ctx.Err(), log)
			return models.ExitDecision{Kind: models.DecisionAbort, Reason: "context cancelled"}, true
		case <-e.clock.After(e.cfg.PollInterval()):
		}
	}
}

// abort records the failed close and raises the manual-intervention alert.
// The position is left exactly as the broker reports it.
func (e *Engine) abort(ctx context.Context, pos *models.OpenPosition, cause error, log zerolog.Logger) {
	open := len(pos.OpenLegs())
	logging.LogAbort(log, pos.SessionID, cause.Error(), open)

	if e.journal != nil {
		if err := e.journal.SaveAbortAlert(ctx, pos.SessionID, cause.Error(), e.clock.Now()); err != nil {
			log.Error().Err(err).Msg("abort alert not persisted")
		}
	}
	if e.alerter != nil {
		msg := cause.Error()
		if err := e.alerter.Notify(ctx, "critical", "Session ABORTED", msg); err != nil {
			log.Error().Err(err).Msg("abort notification not delivered")
		}
	}
}

func (e *Engine) saveSession(ctx context.Context, result *SessionResult, log zerolog.Logger) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveSession(ctx, result); err != nil {
		log.Warn().Err(err).Msg("session not persisted")
	}
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
