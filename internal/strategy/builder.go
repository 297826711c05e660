package strategy

import (
	"fmt"
	"time"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// legTemplate is one leg of a named variant before strikes are derived.
type legTemplate struct {
	Kind models.InstrumentKind
	Side models.OrderSide
	Tier string // empty for futures
	Lots int
}

// variants maps variant names to their leg templates. Template order is
// the entry sequencing order: the short future first, then the option legs
// from the core of the structure outward.
//
// The sandwich variant pairs a short future with a near-the-money long
// call and short put ("sausage") and wraps it in short strangles hedged
// by further-out wings ("bread"). Its tiers are sausage, bread and wing,
// configured as percent offsets like any other variant.
var variants = map[string][]legTemplate{
	"calendar_spread": {
		{Kind: models.InstrumentFuture, Side: models.OrderSideSell, Lots: 1},
		{Kind: models.InstrumentPut, Side: models.OrderSideBuy, Tier: "far", Lots: 1},
		{Kind: models.InstrumentPut, Side: models.OrderSideSell, Tier: "near", Lots: 1},
		{Kind: models.InstrumentPut, Side: models.OrderSideBuy, Tier: "mid", Lots: 1},
		{Kind: models.InstrumentCall, Side: models.OrderSideBuy, Tier: "near", Lots: 1},
		{Kind: models.InstrumentCall, Side: models.OrderSideSell, Tier: "mid", Lots: 2},
		{Kind: models.InstrumentCall, Side: models.OrderSideBuy, Tier: "far", Lots: 2},
	},
	"sandwich": {
		{Kind: models.InstrumentFuture, Side: models.OrderSideSell, Lots: 1},
		{Kind: models.InstrumentCall, Side: models.OrderSideBuy, Tier: "sausage", Lots: 1},
		{Kind: models.InstrumentPut, Side: models.OrderSideSell, Tier: "sausage", Lots: 1},
		{Kind: models.InstrumentCall, Side: models.OrderSideSell, Tier: "bread", Lots: 2},
		{Kind: models.InstrumentCall, Side: models.OrderSideBuy, Tier: "wing", Lots: 2},
		{Kind: models.InstrumentPut, Side: models.OrderSideSell, Tier: "bread", Lots: 2},
		{Kind: models.InstrumentPut, Side: models.OrderSideBuy, Tier: "wing", Lots: 2},
	},
}

// Variants returns the known variant names.
func Variants() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	return names
}

// PlanParams carries everything BuildPlan needs. All legs share one expiry,
// the next monthly expiry after the trading day.
type PlanParams struct {
	Underlying   string
	Variant      string
	Expiry       time.Time
	Reference    float64
	ReferenceAt  time.Time
	Tiers        map[string]float64
	RoundingUnit float64
}

// BuildPlan derives the full leg set for a variant from the reference price.
// It has no side effects: the same params always produce the same plan, and
// no orders are implied until the plan is handed to an executor.
func BuildPlan(p PlanParams) (models.PositionPlan, error) {
	template, ok := variants[p.Variant]
	if !ok {
		return models.PositionPlan{}, errors.NewConfigError("leg_variant",
			fmt.Sprintf("unknown variant %q", p.Variant))
	}
	if p.Underlying == "" {
		return models.PositionPlan{}, errors.NewConfigError("underlying", "must not be empty")
	}
	if p.Expiry.IsZero() {
		return models.PositionPlan{}, errors.NewConfigError("expiry", "expiry date not resolved")
	}
	if p.Reference <= 0 {
		return models.PositionPlan{}, errors.NewPriceError(p.Underlying, p.Reference,
			"reference price must be positive")
	}

	legs := make([]models.Leg, 0, len(template))
	for _, t := range template {
		leg := models.Leg{
			Underlying: p.Underlying,
			Kind:       t.Kind,
			Expiry:     p.Expiry,
			Side:       t.Side,
			Quantity:   t.Lots,
			Tier:       t.Tier,
		}
		if t.Kind != models.InstrumentFuture {
			offset, ok := p.Tiers[t.Tier]
			if !ok {
				return models.PositionPlan{}, errors.NewConfigError("strike_offset_tiers",
					fmt.Sprintf("variant %q needs tier %q", p.Variant, t.Tier))
			}
			strike, err := ComputeStrike(p.Reference, offset, p.RoundingUnit, t.Kind)
			if err != nil {
				return models.PositionPlan{}, err
			}
			leg.Strike = strike
		}
		legs = append(legs, leg)
	}

	plan := models.PositionPlan{
		Underlying:     p.Underlying,
		Variant:        p.Variant,
		ReferencePrice: p.Reference,
		ReferenceTime:  p.ReferenceAt,
		Tiers:          copyTiers(p.Tiers),
		Legs:           legs,
	}
	if err := validatePlan(plan); err != nil {
		return models.PositionPlan{}, err
	}
	return plan, nil
}

// validatePlan checks the structural invariants of a finished plan.
func validatePlan(p models.PositionPlan) error {
	if len(p.Legs) == 0 {
		return errors.NewConfigError("leg_variant", "plan has no legs")
	}
	if p.FutureLegs() != 1 {
		return errors.NewConfigError("leg_variant",
			fmt.Sprintf("plan must carry exactly one futures leg, got %d", p.FutureLegs()))
	}
	for _, l := range p.Legs {
		if err := l.Validate(); err != nil {
			return errors.NewConfigError("leg_variant", err.Error())
		}
	}
	return nil
}

func copyTiers(tiers map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(tiers))
	for k, v := range tiers {
		out[k] = v
	}
	return out
}
