package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Leg is one instrument+side+quantity component of a multi-leg position.
// Immutable after creation.
type Leg struct {
	Underlying string
	Kind       InstrumentKind
	Expiry     time.Time
	Strike     float64 // zero for futures
	Side       OrderSide
	Quantity   int    // in lots
	Tier       string // offset tier the strike was derived from, empty for futures
}

// Symbol returns the NFO trading symbol for the leg,
// e.g. BANKNIFTY250930FUT or BANKNIFTY25093049900PE.
func (l Leg) Symbol() string {
	base := l.Underlying + l.Expiry.Format("060102")
	if l.Kind == InstrumentFuture {
		return base + "FUT"
	}
	return fmt.Sprintf("%s%d%s", base, int(l.Strike), l.Kind)
}

// Validate checks the structural invariants of a single leg.
func (l Leg) Validate() error {
	if l.Underlying == "" {
		return fmt.Errorf("leg has no underlying")
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("leg %s: quantity must be positive, got %d", l.Symbol(), l.Quantity)
	}
	if l.Side != OrderSideBuy && l.Side != OrderSideSell {
		return fmt.Errorf("leg %s: invalid side %q", l.Symbol(), l.Side)
	}
	switch l.Kind {
	case InstrumentFuture:
		if l.Strike != 0 {
			return fmt.Errorf("leg %s: futures leg must not carry a strike", l.Symbol())
		}
	case InstrumentCall, InstrumentPut:
		if l.Strike <= 0 {
			return fmt.Errorf("leg %s: option leg requires a positive strike", l.Symbol())
		}
	default:
		return fmt.Errorf("leg %s: invalid instrument kind %q", l.Symbol(), l.Kind)
	}
	if l.Expiry.IsZero() {
		return fmt.Errorf("leg %s: expiry not set", l.Symbol())
	}
	return nil
}

// PositionPlan describes the full target leg set for one strategy instance.
// The leg order is the entry sequencing order. Created once at build time and
// never mutated; a new plan is a new object.
type PositionPlan struct {
	Underlying     string
	Variant        string
	ReferencePrice float64
	ReferenceTime  time.Time
	Tiers          map[string]float64 // tier name -> offset percent used for derivation
	Legs           []Leg
}

// FutureLegs returns the number of futures legs in the plan.
func (p PositionPlan) FutureLegs() int {
	n := 0
	for _, l := range p.Legs {
		if l.Kind == InstrumentFuture {
			n++
		}
	}
	return n
}

// OptionLegs returns the number of option legs in the plan.
func (p PositionPlan) OptionLegs() int {
	return len(p.Legs) - p.FutureLegs()
}

// Strikes returns the distinct option strikes in the plan, ascending.
func (p PositionPlan) Strikes() []float64 {
	seen := make(map[float64]bool)
	var strikes []float64
	for _, l := range p.Legs {
		if l.Kind == InstrumentFuture || seen[l.Strike] {
			continue
		}
		seen[l.Strike] = true
		strikes = append(strikes, l.Strike)
	}
	sort.Float64s(strikes)
	return strikes
}

// String returns a compact one-line description of the plan.
func (p PositionPlan) String() string {
	parts := make([]string, 0, len(p.Legs))
	for _, l := range p.Legs {
		parts = append(parts, fmt.Sprintf("%s %dx %s", l.Side, l.Quantity, l.Symbol()))
	}
	return fmt.Sprintf("%s[ref=%.2f] %s", p.Variant, p.ReferencePrice, strings.Join(parts, ", "))
}

// OpenLeg pairs a planned leg with its fill details after entry.
type OpenLeg struct {
	Leg
	OrderID    string
	FillPrice  float64
	FilledAt   time.Time
	Closed     bool
	ClosePrice float64
	ClosedAt   time.Time
}

// OpenPosition is the live counterpart of a PositionPlan after entry.
// It is owned exclusively by the exit controller for the session lifetime.
type OpenPosition struct {
	SessionID  string
	Underlying string
	Variant    string
	LotSize    int
	EnteredAt  time.Time
	Legs       []OpenLeg
}

// OpenLegs returns the legs that are still open.
func (p *OpenPosition) OpenLegs() []OpenLeg {
	var open []OpenLeg
	for _, l := range p.Legs {
		if !l.Closed {
			open = append(open, l)
		}
	}
	return open
}

// MarkClosed records the close fill for the leg with the given symbol.
// Returns false if no open leg matches.
func (p *OpenPosition) MarkClosed(symbol string, price float64, at time.Time) bool {
	for i := range p.Legs {
		if p.Legs[i].Symbol() == symbol && !p.Legs[i].Closed {
			p.Legs[i].Closed = true
			p.Legs[i].ClosePrice = price
			p.Legs[i].ClosedAt = at
			return true
		}
	}
	return false
}

// FullyClosed reports whether every leg has been closed.
func (p *OpenPosition) FullyClosed() bool {
	for _, l := range p.Legs {
		if !l.Closed {
			return false
		}
	}
	return len(p.Legs) > 0
}

// RealizedPnL returns the realized P&L across closed legs.
func (p *OpenPosition) RealizedPnL() float64 {
	var total float64
	for _, l := range p.Legs {
		if !l.Closed {
			continue
		}
		diff := l.ClosePrice - l.FillPrice
		if l.Side == OrderSideSell {
			diff = -diff
		}
		total += diff * float64(l.Quantity*p.LotSize)
	}
	return total
}

// LegPnL holds the per-leg component of a P&L snapshot.
type LegPnL struct {
	Symbol     string
	Price      float64 // price used for marking, possibly held over
	Unrealized float64
	Stale      bool // price was held over from a previous tick
}

// PnLSnapshot is the mark-to-market view of an open position at one instant.
// Recomputed every tick, never mutated.
type PnLSnapshot struct {
	Timestamp        time.Time
	PerLeg           map[string]LegPnL
	Combined         float64
	PercentOfCapital float64
	StaleLegs        int
}

// DecisionKind enumerates exit decisions.
type DecisionKind string

const (
	DecisionHold       DecisionKind = "HOLD"
	DecisionProfitExit DecisionKind = "PROFIT_EXIT"
	DecisionForcedExit DecisionKind = "FORCED_EXIT"
	DecisionAbort      DecisionKind = "ABORT"
)

// ExitDecision is the per-tick verdict of the exit controller.
type ExitDecision struct {
	Kind   DecisionKind
	Reason string
}
