package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/infra"

	"github.com/shopspring/decimal"
)

// rateResponse is the JSON body expected from a rate endpoint: {"rate": "123.45"}.
// The rate may be a JSON string or number.
type rateResponse struct {
	Rate *decimal.Decimal `json:"rate"`
}

// HTTPFeed fetches rates from per-exchange URL templates, on demand or by polling.
// Templates may use {exchange}, {pair}, {base} and {quote}.
type HTTPFeed struct {
	templates  map[string]string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollTargets returns the pairs to poll per exchange. It is called on every
// round so the set can follow rule reloads.
type PollTargets func() map[string][]domain.CurrencyPair

// NewHTTPFeed creates a feed for the given exchange -> URL template map
func NewHTTPFeed(templates map[string]string, timeout time.Duration) *HTTPFeed {
	normalized := make(map[string]string, len(templates))
	for exchange, tmpl := range templates {
		normalized[strings.ToLower(exchange)] = tmpl
	}
	return &HTTPFeed{
		templates: normalized,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default().With("module", "http_feed"),
	}
}

// Supports reports whether a template is configured for exchange.
func (f *HTTPFeed) Supports(exchange string) bool {
	_, ok := f.templates[strings.ToLower(exchange)]
	return ok
}

// FetchRate fetches the current rate of pair on exchange, retrying retriable failures
// with exponential backoff.
func (f *HTTPFeed) FetchRate(ctx context.Context, exchange string, pair domain.CurrencyPair) (decimal.Decimal, error) {
	exchange = strings.ToLower(exchange)
	tmpl, ok := f.templates[exchange]
	if !ok {
		return decimal.Zero, domain.NewFatalFeedError(exchange, pair, "lookup", domain.ErrFeedUnavailable)
	}
	url := expandTemplate(tmpl, exchange, pair)

	var lastErr error
	for i := 0; i < f.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1x, 2x, 4x
			delay := f.retryDelay << uint(i-1)
			f.logger.Debug("Retrying rate fetch",
				slog.String("exchange", exchange), slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		rate, err := f.doFetch(ctx, exchange, pair, url)
		if err == nil {
			return rate, nil
		}
		lastErr = err
		f.logger.Warn("Rate fetch attempt failed",
			slog.String("exchange", exchange),
			slog.String("pair", pair.String()),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if !domain.IsRetriable(err) {
			break
		}
	}
	return decimal.Zero, lastErr
}

func (f *HTTPFeed) doFetch(ctx context.Context, exchange string, pair domain.CurrencyPair, url string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, domain.NewFatalFeedError(exchange, pair, "request", err)
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, domain.NewFeedError(exchange, pair, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return decimal.Zero, domain.NewFeedError(exchange, pair, "fetch", statusErr)
		}
		return decimal.Zero, domain.NewFatalFeedError(exchange, pair, "fetch", statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, domain.NewFeedError(exchange, pair, "read", err)
	}

	var data rateResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return decimal.Zero, domain.NewFatalFeedError(exchange, pair, "decode", err)
	}
	if data.Rate == nil {
		return decimal.Zero, domain.NewFatalFeedError(exchange, pair, "decode", domain.ErrRateNotFound)
	}
	return *data.Rate, nil
}

// StartPolling fetches every target once right away and then on each interval,
// passing the rates to onTick until ctx is done or StopPolling is called.
// Exchanges without a template are skipped.
func (f *HTTPFeed) StartPolling(ctx context.Context, interval time.Duration, targets PollTargets, onTick func(domain.RateTick)) {
	ctx, f.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	f.poll(ctx, targets, onTick)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("Rate polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				f.logger.Info("Rate polling stopped")
				return
			case <-ticker.C:
				f.poll(ctx, targets, onTick)
			}
		}
	}()
}

// StopPolling stops the polling loop and waits for it to exit
func (f *HTTPFeed) StopPolling() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func (f *HTTPFeed) poll(ctx context.Context, targets PollTargets, onTick func(domain.RateTick)) {
	for exchange, pairs := range targets() {
		if !f.Supports(exchange) {
			continue
		}
		for _, pair := range pairs {
			rate, err := f.FetchRate(ctx, exchange, pair)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Continue anyway - will retry on next tick
				f.logger.Warn("Polled rate fetch failed", slog.Any("error", err))
				continue
			}
			onTick(domain.RateTick{Exchange: strings.ToLower(exchange), Pair: pair, Rate: rate})
		}
	}
}

func expandTemplate(tmpl, exchange string, pair domain.CurrencyPair) string {
	return strings.NewReplacer(
		"{exchange}", exchange,
		"{pair}", pair.String(),
		"{base}", pair.Base,
		"{quote}", pair.Quote,
	).Replace(tmpl)
}
