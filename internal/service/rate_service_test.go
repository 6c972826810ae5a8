package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/infra"
	"rate_rules/internal/rules"

	"github.com/shopspring/decimal"
)

const testRules = `
X_USD = kraken(X_BTC) * kraken(BTC_USD);
BTC_EUR = bitstamp(BTC_EUR) * 1.01;
`

type fakeFetcher struct {
	mu        sync.Mutex
	rates     map[string]decimal.Decimal
	calls     map[string]int
	exchanges map[string]bool // nil supports every exchange
}

func newFakeFetcher(rates map[string]string) *fakeFetcher {
	f := &fakeFetcher{rates: make(map[string]decimal.Decimal), calls: make(map[string]int)}
	for k, v := range rates {
		f.rates[k] = decimal.RequireFromString(v)
	}
	return f
}

func (f *fakeFetcher) Supports(exchange string) bool {
	return f.exchanges == nil || f.exchanges[exchange]
}

func (f *fakeFetcher) FetchRate(ctx context.Context, exchange string, pair domain.CurrencyPair) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	k := exchange + "(" + pair.String() + ")"
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[k]++
	rate, ok := f.rates[k]
	if !ok {
		return decimal.Zero, domain.ErrRateNotFound
	}
	return rate, nil
}

func (f *fakeFetcher) callCount(k string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k]
}

type fakeRepo struct {
	mu      sync.Mutex
	saved   []domain.RateTick
	batches int
}

func (r *fakeRepo) SaveRates(ticks []domain.RateTick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	r.saved = append(r.saved, ticks...)
	return nil
}

func (r *fakeRepo) LoadRates() ([]domain.RateTick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RateTick(nil), r.saved...), nil
}

func newTestService(t *testing.T, fetcher domain.RateFetcher, repo domain.RateRepository, metrics *infra.Metrics) *RateService {
	t.Helper()
	rs, err := rules.Parse(testRules)
	if err != nil {
		t.Fatalf("failed to parse rules: %v", err)
	}
	return NewRateService(rs, fetcher, repo, metrics)
}

func metricsBody(m *infra.Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestRateService_Quote(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{
		"kraken(DOGE_BTC)": "0.5",
		"kraken(BTC_USD)":  "100",
	})
	repo := &fakeRepo{}
	metrics := infra.NewMetrics()
	svc := newTestService(t, fetcher, repo, metrics)

	snap, err := svc.Quote(context.Background(), domain.NewCurrencyPair("DOGE", "USD"))
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if snap.Rule != "kraken(DOGE_BTC) * kraken(BTC_USD)" {
		t.Errorf("Rule = %q", snap.Rule)
	}
	if snap.Resolved != "0.5 * 100" {
		t.Errorf("Resolved = %q", snap.Resolved)
	}
	if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("Value = %v, want 50", snap.Value)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("unexpected errors: %v", snap.Errors)
	}
	if len(repo.saved) != 2 || repo.batches != 1 {
		t.Errorf("expected 2 rates saved in one batch, got %d in %d", len(repo.saved), repo.batches)
	}
	if body := metricsBody(metrics); !strings.Contains(body, `rate_evaluations_total{result="resolved"} 1`) {
		t.Errorf("evaluation not recorded:\n%s", body)
	}
}

func TestRateService_QuoteRefreshesRestoredRates(t *testing.T) {
	btcEUR := domain.NewCurrencyPair("BTC", "EUR")
	repo := &fakeRepo{}
	repo.SaveRates([]domain.RateTick{{Exchange: "bitstamp", Pair: btcEUR, Rate: decimal.NewFromInt(10)}})
	fetcher := newFakeFetcher(map[string]string{"bitstamp(BTC_EUR)": "20000"})
	svc := newTestService(t, fetcher, repo, nil)

	if err := svc.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	snap, err := svc.Quote(context.Background(), btcEUR)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if n := fetcher.callCount("bitstamp(BTC_EUR)"); n != 1 {
		t.Errorf("restored rate should still be fetched, got %d calls", n)
	}
	if snap.Resolved != "20000 * 1.01" {
		t.Errorf("Resolved = %q", snap.Resolved)
	}
	if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(20200)) {
		t.Errorf("Value = %v, want 20200", snap.Value)
	}
	if last := repo.saved[len(repo.saved)-1]; !last.Rate.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("fresh rate should be persisted, got %+v", last)
	}
}

func TestRateService_QuoteFallsBackToKnownRates(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{"kraken(DOGE_BTC)": "0.5"})
	svc := newTestService(t, fetcher, nil, nil)
	svc.SetRate("kraken", domain.NewCurrencyPair("BTC", "USD"), decimal.NewFromInt(100))

	snap, err := svc.Quote(context.Background(), domain.NewCurrencyPair("DOGE", "USD"))
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if n := fetcher.callCount("kraken(BTC_USD)"); n != 1 {
		t.Errorf("known rate should be fetched first, got %d calls", n)
	}
	if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Value = %v, want 50 from the known BTC_USD rate", snap.Value)
	}
}

func TestRateService_QuoteSkipsUnsupportedExchanges(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.exchanges = map[string]bool{"kraken": true}
	metrics := infra.NewMetrics()
	svc := newTestService(t, fetcher, nil, metrics)
	btcEUR := domain.NewCurrencyPair("BTC", "EUR")

	snap, err := svc.Quote(context.Background(), btcEUR)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if n := fetcher.callCount("bitstamp(BTC_EUR)"); n != 0 {
		t.Errorf("bitstamp has no feed and should not be fetched, got %d calls", n)
	}
	if snap.Resolved != "ERR_RATE_UNAVAILABLE(bitstamp, BTC_EUR) * 1.01" {
		t.Errorf("Resolved = %q", snap.Resolved)
	}
	if body := metricsBody(metrics); strings.Contains(body, "rate_feed_errors_total{") {
		t.Errorf("no feed error expected for an exchange without a feed:\n%s", body)
	}

	svc.SetRate("bitstamp", btcEUR, decimal.NewFromInt(100))
	snap, _ = svc.Quote(context.Background(), btcEUR)
	if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(101)) {
		t.Errorf("Value = %v, want 101 from the known rate", snap.Value)
	}
}

func TestRateService_QuoteFetchFailure(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{"kraken(BTC_USD)": "100"})
	metrics := infra.NewMetrics()
	svc := newTestService(t, fetcher, nil, metrics)

	snap, err := svc.Quote(context.Background(), domain.NewCurrencyPair("DOGE", "USD"))
	if err != nil {
		t.Fatalf("fetch failures should not fail the quote: %v", err)
	}
	if snap.Value != nil {
		t.Errorf("Value should be unset, got %v", snap.Value)
	}
	if snap.Resolved != "ERR_RATE_UNAVAILABLE(kraken, DOGE_BTC) * 100" {
		t.Errorf("Resolved = %q", snap.Resolved)
	}
	if len(snap.Errors) != 1 || snap.Errors[0] != rules.RateUnavailable {
		t.Errorf("Errors = %v", snap.Errors)
	}
	if body := metricsBody(metrics); !strings.Contains(body, `rate_feed_errors_total{exchange="kraken"} 1`) {
		t.Errorf("feed error not recorded:\n%s", body)
	}
}

func TestRateService_QuoteCanceled(t *testing.T) {
	svc := newTestService(t, newFakeFetcher(nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Quote(ctx, domain.NewCurrencyPair("DOGE", "USD"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRateService_QuoteWithoutFetcher(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	svc.SetRate("Bitstamp", domain.NewCurrencyPair("BTC", "EUR"), decimal.NewFromInt(200))

	snap, err := svc.Quote(context.Background(), domain.NewCurrencyPair("BTC", "EUR"))
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(202)) {
		t.Errorf("Value = %v, want 202", snap.Value)
	}

	snap, _ = svc.Quote(context.Background(), domain.NewCurrencyPair("EUR", "JPY"))
	if snap.Rule != "ERR_NO_RULE_MATCH(EUR_JPY)" {
		t.Errorf("Rule = %q", snap.Rule)
	}
}

func TestRateService_WatchAndApply(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	dogeUSD := domain.NewCurrencyPair("DOGE", "USD")

	snap := svc.Watch(dogeUSD)
	if snap.Value != nil {
		t.Fatal("fresh watch should be unresolved")
	}
	if len(snap.Dependencies) != 2 {
		t.Errorf("expected 2 dependencies, got %v", snap.Dependencies)
	}

	updated := svc.Apply(domain.RateTick{Exchange: "KRAKEN", Pair: domain.NewCurrencyPair("DOGE", "BTC"), Rate: decimal.RequireFromString("0.5")})
	if len(updated) != 1 || updated[0].Value != nil {
		t.Fatalf("expected one unresolved update, got %+v", updated)
	}

	updated = svc.Apply(domain.RateTick{Exchange: "kraken", Pair: domain.NewCurrencyPair("BTC", "USD"), Rate: decimal.NewFromInt(100)})
	if len(updated) != 1 || updated[0].Value == nil || !updated[0].Value.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected resolved update, got %+v", updated)
	}

	if updated := svc.Apply(domain.RateTick{Exchange: "kraken", Pair: domain.NewCurrencyPair("ETH", "USD"), Rate: decimal.NewFromInt(1)}); len(updated) != 0 {
		t.Errorf("unrelated tick should not update, got %+v", updated)
	}

	all := svc.GetAllData()
	if len(all) != 1 || all[0].Pair != dogeUSD {
		t.Errorf("GetAllData = %+v", all)
	}
}

func TestRateService_Dependencies(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	svc.Watch(domain.NewCurrencyPair("DOGE", "USD"))
	svc.Watch(domain.NewCurrencyPair("LTC", "USD"))
	svc.Watch(domain.NewCurrencyPair("BTC", "EUR"))

	deps := svc.Dependencies()
	var got []string
	for _, d := range deps {
		got = append(got, d.String())
	}
	want := "bitstamp(BTC_EUR),kraken(BTC_USD),kraken(DOGE_BTC),kraken(LTC_BTC)"
	if strings.Join(got, ",") != want {
		t.Errorf("Dependencies = %v, want %s", got, want)
	}
}

func TestRateService_TickProcessor(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	svc.Watch(domain.NewCurrencyPair("BTC", "EUR"))

	updates := make(chan Snapshot, 1)
	svc.OnUpdate(func(snap Snapshot) {
		updates <- snap
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartTickProcessor(ctx)

	svc.GetTickChan() <- domain.RateTick{Exchange: "bitstamp", Pair: domain.NewCurrencyPair("BTC", "EUR"), Rate: decimal.NewFromInt(100)}

	select {
	case snap := <-updates:
		if snap.Value == nil || !snap.Value.Equal(decimal.NewFromInt(101)) {
			t.Errorf("Value = %v, want 101", snap.Value)
		}
		if snap.Resolved != "100 * 1.01" {
			t.Errorf("Resolved = %q", snap.Resolved)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for update")
	}
}

func TestRateService_ReplaceRuleSet(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	btcEUR := domain.NewCurrencyPair("BTC", "EUR")
	svc.Watch(btcEUR)
	svc.Apply(domain.RateTick{Exchange: "bitstamp", Pair: btcEUR, Rate: decimal.NewFromInt(100)})

	rs, err := rules.Parse("BTC_EUR = bitstamp(BTC_EUR) * 2;")
	if err != nil {
		t.Fatalf("failed to parse rules: %v", err)
	}
	svc.ReplaceRuleSet(rs)

	all := svc.GetAllData()
	if len(all) != 1 || all[0].Value == nil || !all[0].Value.Equal(decimal.NewFromInt(200)) {
		t.Errorf("watched evaluation should be rebuilt from known rates, got %+v", all)
	}
}

func TestRateService_Restore(t *testing.T) {
	repo := &fakeRepo{}
	repo.SaveRates([]domain.RateTick{{Exchange: "bitstamp", Pair: domain.NewCurrencyPair("BTC", "EUR"), Rate: decimal.NewFromInt(10)}})
	svc := newTestService(t, nil, repo, nil)

	if err := svc.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	snap := svc.Watch(domain.NewCurrencyPair("BTC", "EUR"))
	if snap.Value == nil || !snap.Value.Equal(decimal.RequireFromString("10.1")) {
		t.Errorf("Value = %v, want 10.1", snap.Value)
	}
}

func BenchmarkRateService_Apply(b *testing.B) {
	rs, err := rules.Parse(testRules)
	if err != nil {
		b.Fatal(err)
	}
	svc := NewRateService(rs, nil, nil, nil)
	svc.Watch(domain.NewCurrencyPair("DOGE", "USD"))
	tick := domain.RateTick{Exchange: "kraken", Pair: domain.NewCurrencyPair("BTC", "USD"), Rate: decimal.NewFromInt(100)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Apply(tick)
	}
}
