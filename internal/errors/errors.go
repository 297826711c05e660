// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMarketClosed     = errors.New("market is closed")
	ErrOrderRejected    = errors.New("order rejected")
	ErrPriceStale       = errors.New("price is stale")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrNoOpenPosition   = errors.New("no open position")
	ErrSessionFinished  = errors.New("session already finished")
	ErrNotExpiryDay     = errors.New("not an expiry day")
	ErrDatabaseError    = errors.New("database error")
)

// CalendarError reports bad or missing calendar data. Fatal to the session:
// no trading happens on a day whose expiry cannot be resolved.
type CalendarError struct {
	Date    time.Time
	Message string
	Err     error
}

func (e *CalendarError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calendar error [%s]: %s: %v", e.Date.Format("2006-01-02"), e.Message, e.Err)
	}
	return fmt.Sprintf("calendar error [%s]: %s", e.Date.Format("2006-01-02"), e.Message)
}

func (e *CalendarError) Unwrap() error {
	return e.Err
}

// NewCalendarError creates a new CalendarError.
func NewCalendarError(date time.Time, message string, err error) *CalendarError {
	return &CalendarError{Date: date, Message: message, Err: err}
}

// PriceError reports a non-positive or missing reference price.
// Entry is aborted and retried on the next poll up to a deadline.
type PriceError struct {
	Symbol string
	Price  float64
	Reason string
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("price error [%s]: %s (price: %.2f)", e.Symbol, e.Reason, e.Price)
}

// NewPriceError creates a new PriceError.
func NewPriceError(symbol string, price float64, reason string) *PriceError {
	return &PriceError{Symbol: symbol, Price: price, Reason: reason}
}

// ConfigError reports a malformed leg variant or other startup configuration
// problem. Fatal at startup, before any order is placed.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %s", e.Field, e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// LegOutcome records the per-leg result of a multi-leg broker operation.
type LegOutcome struct {
	Symbol  string
	OK      bool
	OrderID string
	Price   float64
	Reason  string
}

// PartialFillError reports that some legs of an entry or exit did not fill.
// The caller must reconcile against the actual leg set, never the intended one.
type PartialFillError struct {
	Operation string // "entry" or "exit"
	Outcomes  []LegOutcome
}

func (e *PartialFillError) Error() string {
	filled, failed := 0, 0
	for _, o := range e.Outcomes {
		if o.OK {
			filled++
		} else {
			failed++
		}
	}
	return fmt.Sprintf("partial fill on %s: %d legs filled, %d failed", e.Operation, filled, failed)
}

// Failed returns the outcomes for legs that did not fill.
func (e *PartialFillError) Failed() []LegOutcome {
	var failed []LegOutcome
	for _, o := range e.Outcomes {
		if !o.OK {
			failed = append(failed, o)
		}
	}
	return failed
}

// NewPartialFillError creates a new PartialFillError.
func NewPartialFillError(operation string, outcomes []LegOutcome) *PartialFillError {
	return &PartialFillError{Operation: operation, Outcomes: outcomes}
}

// BrokerTimeoutError reports a transport-level broker failure. Retried with
// bounded attempts, then escalated (ABORTED for exits, skip for entries).
type BrokerTimeoutError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *BrokerTimeoutError) Error() string {
	return fmt.Sprintf("broker timeout [%s] after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *BrokerTimeoutError) Unwrap() error {
	return e.Err
}

// NewBrokerTimeoutError creates a new BrokerTimeoutError.
func NewBrokerTimeoutError(operation string, attempts int, err error) *BrokerTimeoutError {
	return &BrokerTimeoutError{Operation: operation, Attempts: attempts, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
