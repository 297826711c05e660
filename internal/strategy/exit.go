package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// ExitState is the lifecycle state of the exit controller.
type ExitState string

const (
	ExitMonitoring        ExitState = "MONITORING"
	ExitProfitExitPending ExitState = "PROFIT_EXIT_PENDING"
	ExitForcedExitPending ExitState = "FORCED_EXIT_PENDING"
	ExitClosed            ExitState = "CLOSED"
	ExitAborted           ExitState = "ABORTED"
)

// ExitConfig carries the exit rules for one session.
type ExitConfig struct {
	ProfitTargetPercent float64
	Cutoff              time.Time // forced exit fires at or after this instant
	MaxCloseRetries     int
	RetryDelay          time.Duration
	Clock               Clock // times the retry delays; simulated in backtests
}

// ExitController decides when an open position leaves the market and drives
// the close through to completion. The forced cutoff wins over every other
// signal: whatever else is true at that tick, the position goes flat.
type ExitController struct {
	cfg   ExitConfig
	state ExitState

	mu     sync.Mutex
	manual bool
}

// NewExitController creates a controller in the MONITORING state.
func NewExitController(cfg ExitConfig) *ExitController {
	if cfg.MaxCloseRetries <= 0 {
		cfg.MaxCloseRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	return &ExitController{cfg: cfg, state: ExitMonitoring}
}

// State returns the controller's current state.
func (c *ExitController) State() ExitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestManualExit asks for an immediate exit on the next tick. It takes
// precedence over the profit target but not over the forced cutoff, which
// fires on the same path anyway.
func (c *ExitController) RequestManualExit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = true
}

// Decide evaluates one P&L tick against the exit rules. A non-HOLD decision
// is issued exactly once; after that the controller reports HOLD until the
// close completes.
func (c *ExitController) Decide(snap models.PnLSnapshot, now time.Time) models.ExitDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ExitMonitoring {
		return models.ExitDecision{Kind: models.DecisionHold, Reason: string(c.state)}
	}

	if !now.Before(c.cfg.Cutoff) {
		c.state = ExitForcedExitPending
		return models.ExitDecision{
			Kind:   models.DecisionForcedExit,
			Reason: fmt.Sprintf("forced exit cutoff %s reached", c.cfg.Cutoff.Format("15:04:05")),
		}
	}

	if c.manual {
		c.state = ExitForcedExitPending
		return models.ExitDecision{Kind: models.DecisionForcedExit, Reason: "manual exit requested"}
	}

	if snap.PercentOfCapital >= c.cfg.ProfitTargetPercent {
		c.state = ExitProfitExitPending
		return models.ExitDecision{
			Kind: models.DecisionProfitExit,
			Reason: fmt.Sprintf("combined P&L %.2f%% reached target %.2f%%",
				snap.PercentOfCapital, c.cfg.ProfitTargetPercent),
		}
	}

	return models.ExitDecision{Kind: models.DecisionHold}
}

// ClosePosition closes every open leg with bounded retries. Legs that fill
// on one attempt stay closed; only the remainder is retried. When retries
// run out the controller moves to ABORTED and the position is left as-is
// for manual intervention.
func (c *ExitController) ClosePosition(ctx context.Context, exec broker.OrderExecutor, pos *models.OpenPosition) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxCloseRetries; attempt++ {
		closes, err := exec.CloseAll(ctx, pos)
		for _, lc := range closes {
			if lc.Closed {
				pos.MarkClosed(lc.Symbol, lc.ClosePrice, lc.ClosedAt)
			}
		}
		if pos.FullyClosed() {
			c.setState(ExitClosed)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("close reported success but %d legs remain open", len(pos.OpenLegs()))
		}
		lastErr = err

		if attempt < c.cfg.MaxCloseRetries {
			select {
			case <-ctx.Done():
				c.setState(ExitAborted)
				return errors.NewBrokerTimeoutError("close", attempt, ctx.Err())
			case <-c.cfg.Clock.After(c.cfg.RetryDelay):
			}
		}
	}

	c.setState(ExitAborted)
	return errors.NewBrokerTimeoutError("close", c.cfg.MaxCloseRetries, lastErr)
}

func (c *ExitController) setState(s ExitState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
