// Package strategy implements the calendar-spread strategy: strike
// derivation, position planning, entry scheduling, P&L monitoring and
// exit control.
package strategy

import (
	"math"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
)

// OffsetDirection gives the side of the reference price a strike sits on.
// Puts ladder below the reference, calls above.
func OffsetDirection(kind models.InstrumentKind) float64 {
	if kind == models.InstrumentPut {
		return -1
	}
	return 1
}

// ComputeStrike derives the strike for an option leg from the reference
// price. The raw offset price is rounded to the nearest multiple of unit;
// an exact midpoint rounds away from the reference so the strike never
// lands closer than the offset asked for.
func ComputeStrike(reference, offsetPercent, unit float64, kind models.InstrumentKind) (float64, error) {
	if reference <= 0 {
		return 0, errors.NewPriceError("", reference, "reference price must be positive")
	}
	if unit <= 0 {
		return 0, errors.NewConfigError("rounding_unit", "must be positive")
	}
	if offsetPercent < 0 {
		return 0, errors.NewConfigError("strike_offset_tiers", "offset percent must not be negative")
	}

	raw := reference * (1 + OffsetDirection(kind)*offsetPercent/100)

	lower := math.Floor(raw/unit) * unit
	upper := lower + unit
	down := raw - lower
	up := upper - raw

	switch {
	case down < up:
		return lower, nil
	case up < down:
		return upper, nil
	case raw < reference:
		return lower, nil
	default:
		return upper, nil
	}
}
