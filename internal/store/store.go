// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"banknifty-trader/internal/models"
	"banknifty-trader/internal/strategy"
)

// SessionFilter narrows session queries.
type SessionFilter struct {
	From    time.Time
	To      time.Time
	Outcome strategy.SessionOutcome // empty matches all
	Limit   int
}

// AbortAlert is a persisted manual-intervention alert. It survives process
// restarts so an aborted session is never silently forgotten.
type AbortAlert struct {
	ID           int64
	SessionID    string
	Reason       string
	RaisedAt     time.Time
	Acknowledged bool
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Sessions
	SaveSession(ctx context.Context, result *strategy.SessionResult) error
	GetSession(ctx context.Context, sessionID string) (*strategy.SessionResult, error)
	GetSessions(ctx context.Context, filter SessionFilter) ([]strategy.SessionResult, error)

	// P&L snapshots
	SaveSnapshot(ctx context.Context, sessionID string, snap models.PnLSnapshot) error
	GetSnapshots(ctx context.Context, sessionID string) ([]models.PnLSnapshot, error)

	// Abort alerts
	SaveAbortAlert(ctx context.Context, sessionID, reason string, at time.Time) error
	GetPendingAbortAlerts(ctx context.Context) ([]AbortAlert, error)
	AcknowledgeAbortAlert(ctx context.Context, alertID int64) error

	// Candles
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)

	Close() error
}
