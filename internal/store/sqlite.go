// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"banknifty-trader/internal/models"
	"banknifty-trader/internal/strategy"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Sessions table, one row per expiry-day run
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		day DATE NOT NULL,
		outcome TEXT NOT NULL,
		decision_kind TEXT,
		decision_reason TEXT,
		underlying TEXT NOT NULL,
		variant TEXT,
		reference_price REAL,
		lot_size INTEGER DEFAULT 0,
		final_pnl REAL,
		entered_at DATETIME,
		finished_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-leg fills and closes for a session
	CREATE TABLE IF NOT EXISTS session_legs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		expiry DATE NOT NULL,
		strike REAL NOT NULL,
		lots INTEGER NOT NULL,
		tier TEXT,
		order_id TEXT,
		fill_price REAL NOT NULL,
		filled_at DATETIME,
		closed INTEGER DEFAULT 0,
		close_price REAL,
		closed_at DATETIME,
		UNIQUE(session_id, symbol)
	);

	-- P&L snapshots recorded on every monitor tick
	CREATE TABLE IF NOT EXISTS pnl_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		combined REAL NOT NULL,
		percent_of_capital REAL NOT NULL,
		stale_legs INTEGER NOT NULL,
		per_leg TEXT NOT NULL
	);

	-- Abort alerts awaiting manual intervention
	CREATE TABLE IF NOT EXISTS abort_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		raised_at DATETIME NOT NULL,
		acknowledged INTEGER DEFAULT 0
	);

	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		UNIQUE(symbol, timeframe, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_day ON sessions(day);
	CREATE INDEX IF NOT EXISTS idx_legs_session ON session_legs(session_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON pnl_snapshots(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, timeframe, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession upserts a session and replaces its leg rows.
func (s *SQLiteStore) SaveSession(ctx context.Context, result *strategy.SessionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lotSize int
	if result.Position != nil {
		lotSize = result.Position.LotSize
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, day, outcome, decision_kind, decision_reason,
			underlying, variant, reference_price, lot_size, final_pnl, entered_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			decision_kind = excluded.decision_kind,
			decision_reason = excluded.decision_reason,
			reference_price = excluded.reference_price,
			lot_size = excluded.lot_size,
			final_pnl = excluded.final_pnl,
			entered_at = excluded.entered_at,
			finished_at = excluded.finished_at,
			updated_at = CURRENT_TIMESTAMP`,
		result.SessionID, result.Day.Format("2006-01-02"), string(result.Outcome),
		string(result.Decision.Kind), result.Decision.Reason,
		result.Plan.Underlying, result.Plan.Variant, result.Plan.ReferencePrice,
		lotSize, result.FinalPnL, nullTime(result.EnteredAt), nullTime(result.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if result.Position != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_legs WHERE session_id = ?`, result.SessionID); err != nil {
			return fmt.Errorf("failed to clear session legs: %w", err)
		}
		for _, leg := range result.Position.Legs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_legs (session_id, symbol, kind, side, expiry,
					strike, lots, tier, order_id, fill_price, filled_at,
					closed, close_price, closed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				result.SessionID, leg.Symbol(), string(leg.Kind), string(leg.Side),
				leg.Expiry.Format("2006-01-02"), leg.Strike, leg.Quantity, leg.Tier,
				leg.OrderID, leg.FillPrice, nullTime(leg.FilledAt),
				leg.Closed, leg.ClosePrice, nullTime(leg.ClosedAt))
			if err != nil {
				return fmt.Errorf("failed to save session leg %s: %w", leg.Symbol(), err)
			}
		}
	}

	return tx.Commit()
}

// GetSession loads one session with its legs.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*strategy.SessionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, day, outcome, decision_kind, decision_reason, underlying,
			variant, reference_price, lot_size, final_pnl, entered_at, finished_at
		FROM sessions WHERE id = ?`, sessionID)

	result, lotSize, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	legs, err := s.sessionLegs(ctx, result)
	if err != nil {
		return nil, err
	}
	if len(legs) > 0 {
		result.Position = &models.OpenPosition{
			SessionID:  result.SessionID,
			Underlying: result.Plan.Underlying,
			Variant:    result.Plan.Variant,
			LotSize:    lotSize,
			EnteredAt:  result.EnteredAt,
			Legs:       legs,
		}
	}
	return result, nil
}

// GetSessions lists sessions matching the filter, most recent first.
func (s *SQLiteStore) GetSessions(ctx context.Context, filter SessionFilter) ([]strategy.SessionResult, error) {
	query := `
		SELECT id, day, outcome, decision_kind, decision_reason, underlying,
			variant, reference_price, lot_size, final_pnl, entered_at, finished_at
		FROM sessions WHERE 1=1`
	var args []interface{}

	if !filter.From.IsZero() {
		query += " AND day >= ?"
		args = append(args, filter.From.Format("2006-01-02"))
	}
	if !filter.To.IsZero() {
		query += " AND day <= ?"
		args = append(args, filter.To.Format("2006-01-02"))
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	query += " ORDER BY day DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var results []strategy.SessionResult
	for rows.Next() {
		result, _, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*strategy.SessionResult, int, error) {
	var result strategy.SessionResult
	var day, outcome, kind string
	var reason, underlying, variant sql.NullString
	var refPrice, finalPnL sql.NullFloat64
	var lotSize sql.NullInt64
	var enteredAt, finishedAt sql.NullTime

	err := row.Scan(&result.SessionID, &day, &outcome, &kind, &reason,
		&underlying, &variant, &refPrice, &lotSize, &finalPnL, &enteredAt, &finishedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan session: %w", err)
	}

	result.Day, _ = time.Parse("2006-01-02", day)
	result.Outcome = strategy.SessionOutcome(outcome)
	result.Decision = models.ExitDecision{
		Kind:   models.DecisionKind(kind),
		Reason: reason.String,
	}
	result.Plan.Underlying = underlying.String
	result.Plan.Variant = variant.String
	result.Plan.ReferencePrice = refPrice.Float64
	result.FinalPnL = finalPnL.Float64
	result.EnteredAt = enteredAt.Time
	result.FinishedAt = finishedAt.Time
	return &result, int(lotSize.Int64), nil
}

func (s *SQLiteStore) sessionLegs(ctx context.Context, result *strategy.SessionResult) ([]models.OpenLeg, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, kind, side, expiry, strike, lots, tier, order_id,
			fill_price, filled_at, closed, close_price, closed_at
		FROM session_legs WHERE session_id = ? ORDER BY id`, result.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session legs: %w", err)
	}
	defer rows.Close()

	var legs []models.OpenLeg
	for rows.Next() {
		var leg models.OpenLeg
		var symbol, kind, side, expiry string
		var tier, orderID sql.NullString
		var filledAt, closedAt sql.NullTime
		var closePrice sql.NullFloat64

		err := rows.Scan(&symbol, &kind, &side, &expiry, &leg.Strike, &leg.Quantity,
			&tier, &orderID, &leg.FillPrice, &filledAt, &leg.Closed, &closePrice, &closedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session leg: %w", err)
		}

		leg.Underlying = result.Plan.Underlying
		leg.Kind = models.InstrumentKind(kind)
		leg.Side = models.OrderSide(side)
		leg.Expiry, _ = time.Parse("2006-01-02", expiry)
		leg.Tier = tier.String
		leg.OrderID = orderID.String
		leg.FilledAt = filledAt.Time
		leg.ClosePrice = closePrice.Float64
		leg.ClosedAt = closedAt.Time
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// SaveSnapshot records one monitor tick.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, sessionID string, snap models.PnLSnapshot) error {
	perLeg, err := json.Marshal(snap.PerLeg)
	if err != nil {
		return fmt.Errorf("failed to marshal per-leg snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (session_id, timestamp, combined, percent_of_capital, stale_legs, per_leg)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, snap.Timestamp, snap.Combined, snap.PercentOfCapital,
		snap.StaleLegs, string(perLeg))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshots returns the snapshots for a session in time order.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, sessionID string) ([]models.PnLSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, combined, percent_of_capital, stale_legs, per_leg
		FROM pnl_snapshots WHERE session_id = ? ORDER BY timestamp`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.PnLSnapshot
	for rows.Next() {
		var snap models.PnLSnapshot
		var perLeg string
		if err := rows.Scan(&snap.Timestamp, &snap.Combined, &snap.PercentOfCapital,
			&snap.StaleLegs, &perLeg); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(perLeg), &snap.PerLeg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal per-leg snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SaveAbortAlert persists a manual-intervention alert.
func (s *SQLiteStore) SaveAbortAlert(ctx context.Context, sessionID, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO abort_alerts (session_id, reason, raised_at) VALUES (?, ?, ?)`,
		sessionID, reason, at)
	if err != nil {
		return fmt.Errorf("failed to save abort alert: %w", err)
	}
	return nil
}

// GetPendingAbortAlerts returns unacknowledged alerts, oldest first.
func (s *SQLiteStore) GetPendingAbortAlerts(ctx context.Context) ([]AbortAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, reason, raised_at, acknowledged
		FROM abort_alerts WHERE acknowledged = 0 ORDER BY raised_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query abort alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AbortAlert
	for rows.Next() {
		var a AbortAlert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Reason, &a.RaisedAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan abort alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAbortAlert marks an alert as handled.
func (s *SQLiteStore) AcknowledgeAbortAlert(ctx context.Context, alertID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE abort_alerts SET acknowledged = 1 WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge abort alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("abort alert %d not found", alertID)
	}
	return nil
}

// SaveCandles stores historical candles, replacing duplicates.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to save candle: %w", err)
		}
	}
	return tx.Commit()
}

// GetCandles returns candles for a symbol within a time range.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
