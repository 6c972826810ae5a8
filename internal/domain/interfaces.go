package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateTick is a single rate observation pushed by a streaming feed
type RateTick struct {
	Exchange string          `json:"exchange"`
	Pair     CurrencyPair    `json:"pair"`
	Rate     decimal.Decimal `json:"rate"`
}

// RateFetcher defines how a single exchange rate is obtained on demand
type RateFetcher interface {
	// Supports reports whether rates of exchange can be fetched at all
	Supports(exchange string) bool
	FetchRate(ctx context.Context, exchange string, pair CurrencyPair) (decimal.Decimal, error)
}

// RateRepository defines how last-known rates are persisted
type RateRepository interface {
	// SaveRates upserts a batch of rates in one transaction
	SaveRates(ticks []RateTick) error
	LoadRates() ([]RateTick, error)
}
