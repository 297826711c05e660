package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
	"banknifty-trader/pkg/utils"
)

// ZerodhaExecutor implements OrderExecutor and PriceSource against the
// Zerodha Kite Connect API. A circuit breaker guards the transport so a
// flapping broker API fails fast instead of stalling the monitor loop.
type ZerodhaExecutor struct {
	client   *kiteconnect.Client
	breaker  *gobreaker.CircuitBreaker
	product  models.ProductType
	retryCfg utils.RetryConfig

	fillPollInterval time.Duration
	fillTimeout      time.Duration

	authenticated bool
}

// ZerodhaConfig holds configuration for the Zerodha executor.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	Product     models.ProductType
	FillTimeout time.Duration
}

// NewZerodhaExecutor creates a Zerodha-backed executor.
func NewZerodhaExecutor(cfg ZerodhaConfig) *ZerodhaExecutor {
	client := kiteconnect.New(cfg.APIKey)
	authenticated := false
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
		authenticated = true
	}

	product := cfg.Product
	if product == "" {
		product = models.ProductNRML
	}
	fillTimeout := cfg.FillTimeout
	if fillTimeout == 0 {
		fillTimeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kite",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	retryCfg := utils.DefaultRetryConfig()
	retryCfg.MaxDelay = 2 * time.Second

	return &ZerodhaExecutor{
		client:           client,
		breaker:          breaker,
		product:          product,
		retryCfg:         retryCfg,
		fillPollInterval: 500 * time.Millisecond,
		fillTimeout:      fillTimeout,
		authenticated:    authenticated,
	}
}

// IsAuthenticated reports whether an access token is set.
func (z *ZerodhaExecutor) IsAuthenticated() bool {
	return z.authenticated
}

// LatestPrice fetches the last traded price for an NFO symbol.
func (z *ZerodhaExecutor) LatestPrice(ctx context.Context, symbol string) (models.Quote, error) {
	if !z.authenticated {
		return models.Quote{}, errors.ErrNotAuthenticated
	}

	// Quote reads are idempotent, so transient transport failures are
	// retried with backoff before giving up. Order placement is not.
	key := string(models.NFO) + ":" + symbol
	res, err := utils.RetryWithResult(ctx, z.retryCfg, func() (interface{}, error) {
		return z.breaker.Execute(func() (interface{}, error) {
			return z.client.GetLTP(key)
		})
	})
	if err != nil {
		return models.Quote{}, errors.Wrapf(errors.ErrPriceUnavailable, "fetching LTP for %s: %v", symbol, err)
	}

	ltp := res.(kiteconnect.QuoteLTP)
	q, ok := ltp[key]
	if !ok || q.LastPrice <= 0 {
		return models.Quote{}, errors.Wrapf(errors.ErrPriceUnavailable, "no LTP for %s", symbol)
	}

	return models.Quote{Symbol: symbol, LTP: q.LastPrice, Timestamp: time.Now()}, nil
}

// PlaceMultiLeg opens every leg of the plan in its entry sequencing order.
// Legs are placed sequentially so a rejected leg never reorders the rest.
func (z *ZerodhaExecutor) PlaceMultiLeg(ctx context.Context, plan models.PositionPlan, lotSize int) ([]LegFill, error) {
	if !z.authenticated {
		return nil, errors.ErrNotAuthenticated
	}

	fills := make([]LegFill, 0, len(plan.Legs))
	var outcomes []errors.LegOutcome
	failed := 0

	for _, leg := range plan.Legs {
		fill := z.placeLeg(ctx, leg.Symbol(), leg.Side, leg.Quantity*lotSize, "entry")
		fills = append(fills, fill)
		outcomes = append(outcomes, errors.LegOutcome{
			Symbol: fill.Symbol, OK: fill.Filled, OrderID: fill.OrderID,
			Price: fill.FillPrice, Reason: fill.Reason,
		})
		if !fill.Filled {
			failed++
		}
	}

	if failed == len(plan.Legs) {
		return fills, errors.NewBrokerTimeoutError("entry", 1,
			fmt.Errorf("no legs filled: %s", fills[0].Reason))
	}
	if failed > 0 {
		return fills, errors.NewPartialFillError("entry", outcomes)
	}
	return fills, nil
}

// CloseAll closes every still-open leg with opposite-side market orders.
func (z *ZerodhaExecutor) CloseAll(ctx context.Context, pos *models.OpenPosition) ([]LegClose, error) {
	if !z.authenticated {
		return nil, errors.ErrNotAuthenticated
	}

	open := pos.OpenLegs()
	closes := make([]LegClose, 0, len(open))
	var outcomes []errors.LegOutcome
	failed := 0

	for _, leg := range open {
		fill := z.placeLeg(ctx, leg.Symbol(), leg.Side.Opposite(), leg.Quantity*pos.LotSize, "exit")
		lc := LegClose{
			Symbol: fill.Symbol, Closed: fill.Filled,
			ClosePrice: fill.FillPrice, ClosedAt: fill.FilledAt, Reason: fill.Reason,
		}
		closes = append(closes, lc)
		outcomes = append(outcomes, errors.LegOutcome{
			Symbol: lc.Symbol, OK: lc.Closed, Price: lc.ClosePrice, Reason: lc.Reason,
		})
		if !lc.Closed {
			failed++
		}
	}

	if failed > 0 {
		return closes, errors.NewPartialFillError("exit", outcomes)
	}
	return closes, nil
}

// placeLeg places one market order and waits for its fill.
func (z *ZerodhaExecutor) placeLeg(ctx context.Context, symbol string, side models.OrderSide, qty int, tag string) LegFill {
	params := kiteconnect.OrderParams{
		Exchange:        string(models.NFO),
		Tradingsymbol:   symbol,
		TransactionType: string(side),
		OrderType:       string(models.OrderTypeMarket),
		Product:         string(z.product),
		Quantity:        qty,
		Validity:        "DAY",
		Tag:             tag,
	}

	res, err := z.breaker.Execute(func() (interface{}, error) {
		return z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	})
	if err != nil {
		return LegFill{Symbol: symbol, Reason: fmt.Sprintf("place failed: %v", err)}
	}

	orderID := res.(kiteconnect.OrderResponse).OrderID
	fillPrice, filledAt, err := z.waitForFill(ctx, orderID)
	if err != nil {
		return LegFill{Symbol: symbol, OrderID: orderID, Reason: err.Error()}
	}

	return LegFill{
		Symbol: symbol, OrderID: orderID, Filled: true,
		FillPrice: fillPrice, FilledAt: filledAt,
	}
}

// waitForFill polls the order history until the order completes or the fill
// timeout expires.
func (z *ZerodhaExecutor) waitForFill(ctx context.Context, orderID string) (float64, time.Time, error) {
	deadline := time.Now().Add(z.fillTimeout)

	for {
		history, err := z.client.GetOrderHistory(orderID)
		if err == nil {
			for _, o := range history {
				switch o.Status {
				case "COMPLETE":
					return o.AveragePrice, time.Now(), nil
				case "REJECTED", "CANCELLED":
					return 0, time.Time{}, errors.Wrapf(errors.ErrOrderRejected,
						"order %s %s: %s", orderID, o.Status, o.StatusMessage)
				}
			}
		}

		if time.Now().After(deadline) {
			return 0, time.Time{}, errors.NewBrokerTimeoutError("fill", 1,
				fmt.Errorf("order %s not filled within %s", orderID, z.fillTimeout))
		}

		select {
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		case <-time.After(z.fillPollInterval):
		}
	}
}
