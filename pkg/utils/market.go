// Package utils provides market-session helpers and retry primitives.
package utils

import (
	"time"

	"banknifty-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatusAt returns the NSE market status at the given instant.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}
	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return models.MarketOpen
	}
	return models.MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return GetMarketStatus() == models.MarketOpen
}

// NextMarketOpen returns the first market open at or after t, skipping
// weekends.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
