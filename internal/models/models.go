// Package models provides domain models for the strategy engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// InstrumentKind represents the kind of derivative instrument.
type InstrumentKind string

const (
	InstrumentFuture InstrumentKind = "FUT"
	InstrumentCall   InstrumentKind = "CE"
	InstrumentPut    InstrumentKind = "PE"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Quote represents a market quote.
type Quote struct {
	Symbol    string
	LTP       float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

// Tick represents real-time market data for a subscribed instrument.
type Tick struct {
	Symbol    string
	LTP       float64
	Timestamp time.Time
}

// Order represents a single broker order.
type Order struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int // in units, not lots
	Price        float64
	Validity     string // DAY, IOC
	Tag          string
	Status       string
	FilledQty    int
	AveragePrice float64
	PlacedAt     time.Time
}
