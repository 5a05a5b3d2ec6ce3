// Package marketdata resolves current equity quotes. Quotes come from Yahoo
// Finance through finance-go, with a short-lived Redis cache in front so the
// engine and the API do not hammer the quote endpoint.
package marketdata

import (
	"context"
	"fmt"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/portfolio-engine/internal/circuitbreaker"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/retry"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// QuoteCache caches resolved prices. Satisfied by storage.StateCache.
type QuoteCache interface {
	GetPrice(ctx context.Context, symbol string, dest interface{}) (bool, error)
	SetPrice(ctx context.Context, symbol string, price interface{}) error
}

// Client fetches market prices with cache-aside lookups. Provider calls are
// retried with backoff and guarded by a circuit breaker so a quote outage
// degrades to cost-basis valuation instead of stalling every cycle.
type Client struct {
	cache    QuoteCache
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
	logger   *logging.Logger
}

// NewClient creates a new market data client. The cache is optional.
func NewClient(cache QuoteCache, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{
		cache:    cache,
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("quote-provider")),
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

// Price resolves the current price for one symbol. A missing or zero quote
// reports ok=false; callers decide whether that skips an order or falls back
// to cost-basis valuation.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if c.cache != nil {
		var cached string
		hit, err := c.cache.GetPrice(ctx, symbol, &cached)
		if err != nil {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("price cache read failed")
		} else if hit {
			if price, err := decimal.NewFromString(cached); err == nil {
				return price, true
			}
		}
	}

	q, err := c.fetchQuote(ctx, symbol)
	if err != nil || q == nil {
		c.logger.WithField("symbol", symbol).Warn("no quote available")
		return decimal.Zero, false
	}

	price := valuation.MoneyFromFloat(q.RegularMarketPrice)
	if price.Sign() <= 0 {
		return decimal.Zero, false
	}

	if c.cache != nil {
		if err := c.cache.SetPrice(ctx, symbol, price.String()); err != nil {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("price cache write failed")
		}
	}

	return price, true
}

// fetchQuote calls the provider with retry and circuit breaker protection
func (c *Client) fetchQuote(ctx context.Context, symbol string) (*finance.Quote, error) {
	var q *finance.Quote
	err := c.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			res, err := quote.Get(symbol)
			if err != nil {
				return fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
			}
			q = res
			return nil
		})
	})
	return q, err
}

// Prices resolves prices for a set of symbols. Symbols without a usable
// quote are absent from the result; the lookup itself never fails the batch.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		if price, ok := c.Price(ctx, symbol); ok {
			prices[symbol] = price
		}
	}
	return prices, nil
}
