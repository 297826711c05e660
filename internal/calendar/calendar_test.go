package calendar

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthlyExpiry_ThursdayRuleBeforeCutover(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))

	td, regime, err := cal.MonthlyExpiry(2025, time.August)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.August, 28), td.Date)
	assert.Equal(t, RegimeLegacyThursday, regime)

	td, regime, err = cal.MonthlyExpiry(2025, time.January)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 30), td.Date)
	assert.Equal(t, RegimeLegacyThursday, regime)
}

func TestMonthlyExpiry_TuesdayRuleFromCutover(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))

	td, regime, err := cal.MonthlyExpiry(2025, time.September)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.September, 30), td.Date)
	assert.Equal(t, RegimeRevisedTuesday, regime)

	td, regime, err = cal.MonthlyExpiry(2025, time.December)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.December, 30), td.Date)
	assert.Equal(t, RegimeRevisedTuesday, regime)
}

func TestMonthlyExpiry_HolidayShiftsToPrecedingTradingDay(t *testing.T) {
	// 2025-09-30 is the last Tuesday; declaring it a holiday shifts the
	// expiry back to Monday the 29th.
	holidays := NewHolidaySet([]time.Time{date(2025, time.September, 30)})
	cal := New(time.Time{}, holidays)

	td, _, err := cal.MonthlyExpiry(2025, time.September)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.September, 29), td.Date)
	assert.True(t, td.IsMonthlyExpiry)
}

func TestMonthlyExpiry_HolidayShiftSkipsWeekend(t *testing.T) {
	// Last Thursday of May 2025 is the 29th. With Thursday and Wednesday
	// both holidays, the expiry lands on Tuesday the 27th.
	holidays := NewHolidaySet([]time.Time{
		date(2025, time.May, 29),
		date(2025, time.May, 28),
	})
	cal := New(time.Time{}, holidays)

	td, _, err := cal.MonthlyExpiry(2025, time.May)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.May, 27), td.Date)
}

func TestResolve_NextMonthRollsYear(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))

	info, err := cal.Resolve(date(2025, time.December, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.December, 30), info.CurrentMonthExpiry.Date)
	assert.Equal(t, 2026, info.NextMonthExpiry.Date.Year())
	assert.Equal(t, time.January, info.NextMonthExpiry.Date.Month())
	assert.Equal(t, time.Tuesday, info.NextMonthExpiry.Date.Weekday())
}

func TestResolve_RegimeSelectedByExpiryDateNotQueryDate(t *testing.T) {
	// A query in late August 2025 still resolves August under the legacy
	// Thursday rule even though September is past the cutover.
	cal := New(time.Time{}, NewHolidaySet(nil))

	info, err := cal.Resolve(date(2025, time.August, 31))
	require.NoError(t, err)
	assert.Equal(t, RegimeLegacyThursday, info.Regime)
	assert.Equal(t, date(2025, time.August, 28), info.CurrentMonthExpiry.Date)
	// Next month already follows the revised rule.
	assert.Equal(t, time.Tuesday, info.NextMonthExpiry.Date.Weekday())
}

func TestResolve_Errors(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))
	_, err := cal.Resolve(time.Time{})
	assert.Error(t, err)

	noHolidays := New(time.Time{}, nil)
	_, err = noHolidays.Resolve(date(2025, time.August, 1))
	assert.Error(t, err)
}

func TestIsExpiryDay(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))

	ok, err := cal.IsExpiryDay(date(2025, time.August, 28))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cal.IsExpiryDay(date(2025, time.August, 15))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiriesForYear(t *testing.T) {
	cal := New(time.Time{}, NewHolidaySet(nil))

	expiries, err := cal.ExpiriesForYear(2025)
	require.NoError(t, err)
	require.Len(t, expiries, 12)
	for i := 1; i < len(expiries); i++ {
		assert.True(t, expiries[i].Date.After(expiries[i-1].Date))
	}
}

// Property: without holidays, every month before the cutover resolves to the
// last Thursday of the month, and every month from the cutover on resolves to
// the last Tuesday.
func TestProperty_ExpiryWeekdayFollowsRegime(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	cal := New(time.Time{}, NewHolidaySet(nil))

	properties.Property("expiry is last matching weekday of month", prop.ForAll(
		func(year int, monthNum int) bool {
			month := time.Month(monthNum)
			td, regime, err := cal.MonthlyExpiry(year, month)
			if err != nil {
				return false
			}

			wantWeekday := time.Thursday
			if regime == RegimeRevisedTuesday {
				wantWeekday = time.Tuesday
			}
			if td.Date.Weekday() != wantWeekday {
				return false
			}
			if td.Date.Month() != month || td.Date.Year() != year {
				return false
			}
			// Last occurrence: the same weekday seven days later is out of month.
			if td.Date.AddDate(0, 0, 7).Month() == month {
				return false
			}
			// Regime matches the rule in effect on the expiry date itself.
			if regime == RegimeRevisedTuesday && td.Date.Before(DefaultCutover) {
				return false
			}
			return true
		},
		gen.IntRange(2020, 2030),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
