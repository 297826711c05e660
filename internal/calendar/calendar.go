// Package calendar resolves NSE monthly expiry dates for Bank Nifty derivatives,
// including the exchange rule change from last-Thursday to last-Tuesday expiries
// and holiday adjustment.
package calendar

import (
	"time"

	"banknifty-trader/internal/errors"
)

// RuleRegime is the expiry-weekday convention in effect on a given date.
type RuleRegime string

const (
	RegimeLegacyThursday RuleRegime = "LEGACY_THURSDAY"
	RegimeRevisedTuesday RuleRegime = "REVISED_TUESDAY"
)

// DefaultCutover is the NSE rule-change date: September 2025 onwards the
// monthly expiry is the last Tuesday of the month.
var DefaultCutover = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

// TradingDate is a calendar date with market-session metadata.
type TradingDate struct {
	Date            time.Time
	IsTradingDay    bool
	IsMonthlyExpiry bool
}

// ExpiryInfo holds the resolved expiries for a query date. Derived fresh per
// query so a backtest spanning the rule change never sees a mixed result.
type ExpiryInfo struct {
	CurrentMonthExpiry TradingDate
	NextMonthExpiry    TradingDate
	Regime             RuleRegime
}

// HolidaySource supplies the set of non-trading dates.
type HolidaySource interface {
	IsHoliday(date time.Time) bool
}

// HolidaySet is a HolidaySource backed by an explicit date set.
type HolidaySet map[string]bool

// NewHolidaySet builds a HolidaySet from a list of dates.
func NewHolidaySet(dates []time.Time) HolidaySet {
	set := make(HolidaySet, len(dates))
	for _, d := range dates {
		set[d.Format("2006-01-02")] = true
	}
	return set
}

// IsHoliday reports whether the date is a market holiday.
func (h HolidaySet) IsHoliday(date time.Time) bool {
	return h[date.Format("2006-01-02")]
}

// Calendar resolves monthly expiry dates.
type Calendar struct {
	cutover  time.Time
	holidays HolidaySource
}

// New creates a calendar with the given rule-change cutover date and holiday
// source. A zero cutover falls back to DefaultCutover.
func New(cutover time.Time, holidays HolidaySource) *Calendar {
	if cutover.IsZero() {
		cutover = DefaultCutover
	}
	return &Calendar{cutover: cutover, holidays: holidays}
}

// Resolve returns the current-month and next-month expiry for the given date.
func (c *Calendar) Resolve(date time.Time) (ExpiryInfo, error) {
	if date.IsZero() {
		return ExpiryInfo{}, errors.NewCalendarError(date, "query date not set", nil)
	}
	if c.holidays == nil {
		return ExpiryInfo{}, errors.NewCalendarError(date, "holiday data missing", nil)
	}

	current, regime, err := c.MonthlyExpiry(date.Year(), date.Month())
	if err != nil {
		return ExpiryInfo{}, err
	}

	nextYear, nextMonth := date.Year(), date.Month()+1
	if nextMonth > time.December {
		nextYear, nextMonth = nextYear+1, time.January
	}
	next, _, err := c.MonthlyExpiry(nextYear, nextMonth)
	if err != nil {
		return ExpiryInfo{}, err
	}

	return ExpiryInfo{
		CurrentMonthExpiry: current,
		NextMonthExpiry:    next,
		Regime:             regime,
	}, nil
}

// MonthlyExpiry returns the expiry date for a given year and month.
//
// The regime is selected by the rule in effect on the expiry date itself, not
// on the query date: the month uses the revised Tuesday rule only when the
// last Tuesday of the month falls on or after the cutover. This keeps regime
// selection stable when a backtest spans the transition month.
func (c *Calendar) MonthlyExpiry(year int, month time.Month) (TradingDate, RuleRegime, error) {
	if c.holidays == nil {
		return TradingDate{}, "", errors.NewCalendarError(time.Time{}, "holiday data missing", nil)
	}

	tue := lastWeekday(year, month, time.Tuesday)
	regime := RegimeLegacyThursday
	expiry := lastWeekday(year, month, time.Thursday)
	if !tue.Before(c.cutover) {
		regime = RegimeRevisedTuesday
		expiry = tue
	}

	// Holiday shift: move to the preceding trading day.
	shifted := expiry
	for c.holidays.IsHoliday(shifted) || isWeekend(shifted) {
		shifted = shifted.AddDate(0, 0, -1)
		if shifted.Month() != expiry.Month() {
			return TradingDate{}, "", errors.NewCalendarError(expiry,
				"no trading day available before expiry in month", nil)
		}
	}

	return TradingDate{Date: shifted, IsTradingDay: true, IsMonthlyExpiry: true}, regime, nil
}

// IsExpiryDay reports whether the given date is the monthly expiry day.
func (c *Calendar) IsExpiryDay(date time.Time) (bool, error) {
	info, err := c.Resolve(date)
	if err != nil {
		return false, err
	}
	return sameDay(date, info.CurrentMonthExpiry.Date), nil
}

// ExpiriesForYear returns all twelve monthly expiry dates for a year.
func (c *Calendar) ExpiriesForYear(year int) ([]TradingDate, error) {
	expiries := make([]TradingDate, 0, 12)
	for month := time.January; month <= time.December; month++ {
		td, _, err := c.MonthlyExpiry(year, month)
		if err != nil {
			return nil, err
		}
		expiries = append(expiries, td)
	}
	return expiries, nil
}

// DaysToExpiry returns the number of days from date to the current-month expiry.
func (c *Calendar) DaysToExpiry(date time.Time) (int, error) {
	info, err := c.Resolve(date)
	if err != nil {
		return 0, err
	}
	return int(info.CurrentMonthExpiry.Date.Sub(truncateDay(date)).Hours() / 24), nil
}

// lastWeekday returns the last occurrence of a weekday in a month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	last := firstOfNext.AddDate(0, 0, -1)
	daysBack := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -daysBack)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func sameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
