package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/infra"
	"rate_rules/internal/rules"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 8

// Snapshot is a read-only view of an evaluation at one point in time
type Snapshot struct {
	Pair         domain.CurrencyPair
	Rule         string
	Resolved     string
	Value        *decimal.Decimal
	Errors       []rules.ErrorKind
	Dependencies []rules.ExchangeRate
}

func snapshotOf(ev *rules.Evaluation) Snapshot {
	snap := Snapshot{
		Pair:         ev.Pair,
		Rule:         ev.ToString(false),
		Resolved:     ev.ToString(true),
		Errors:       ev.Errors(),
		Dependencies: ev.ExchangeRates.Dependencies(),
	}
	if ev.Value != nil {
		v := *ev.Value
		snap.Value = &v
	}
	return snap
}

// RateService resolves currency pairs through a rule set and keeps watched
// evaluations current as rates arrive.
type RateService struct {
	mu      sync.RWMutex
	ruleSet *rules.RuleSet
	known   map[rules.ExchangeRate]decimal.Decimal
	watched map[domain.CurrencyPair]*rules.Evaluation

	fetcher        domain.RateFetcher
	repo           domain.RateRepository
	metrics        *infra.Metrics
	maxConcurrency int

	tickChan chan domain.RateTick
	onUpdate func(Snapshot)
	logger   *slog.Logger
}

// NewRateService creates a service for rs. fetcher, repo and metrics may be nil.
func NewRateService(rs *rules.RuleSet, fetcher domain.RateFetcher, repo domain.RateRepository, metrics *infra.Metrics) *RateService {
	return &RateService{
		ruleSet:        rs,
		known:          make(map[rules.ExchangeRate]decimal.Decimal),
		watched:        make(map[domain.CurrencyPair]*rules.Evaluation),
		fetcher:        fetcher,
		repo:           repo,
		metrics:        metrics,
		maxConcurrency: defaultMaxConcurrency,
		tickChan:       make(chan domain.RateTick, 1000), // 버스트 대응을 위한 충분한 버퍼
		logger:         slog.Default().With("module", "rate_service"),
	}
}

// SetMaxConcurrency bounds the number of parallel fetches per quote
func (s *RateService) SetMaxConcurrency(n int) {
	if n <= 0 {
		n = defaultMaxConcurrency
	}
	s.mu.Lock()
	s.maxConcurrency = n
	s.mu.Unlock()
}

// OnUpdate registers a callback for watched evaluations changed by the tick processor.
// Set it before StartTickProcessor.
func (s *RateService) OnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// ReplaceRuleSet swaps the active rule set and rebuilds every watched evaluation
// from the known rates.
func (s *RateService) ReplaceRuleSet(rs *rules.RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ruleSet = rs
	for pair := range s.watched {
		s.watched[pair] = s.buildLocked(pair)
	}
	s.logger.Info("Rule set replaced", slog.Int("statements", len(rs.Statements)), slog.Int("watched", len(s.watched)))
}

// Restore loads the last known rates from the repository.
func (s *RateService) Restore() error {
	if s.repo == nil {
		return nil
	}
	ticks, err := s.repo.LoadRates()
	if err != nil {
		return fmt.Errorf("failed to restore rates: %w", err)
	}

	s.mu.Lock()
	for _, tick := range ticks {
		s.known[rules.ExchangeRate{Exchange: strings.ToLower(tick.Exchange), Pair: tick.Pair}] = tick.Rate
	}
	s.mu.Unlock()

	s.logger.Info("Rates restored", slog.Int("count", len(ticks)))
	return nil
}

// SetRate records a rate without fetching, e.g. from the command line.
func (s *RateService) SetRate(exchange string, pair domain.CurrencyPair, rate decimal.Decimal) {
	s.Apply(domain.RateTick{Exchange: exchange, Pair: pair, Rate: rate})
}

// Quote resolves pair. Every dependency on an exchange the fetcher supports is
// fetched concurrently; known rates stand in for the ones that cannot be fetched.
// Rates that are neither fetched nor known stay unavailable in the result; only
// context cancellation is reported as an error.
func (s *RateService) Quote(ctx context.Context, pair domain.CurrencyPair) (Snapshot, error) {
	start := time.Now()

	s.mu.RLock()
	ev := s.buildLocked(pair)
	limit := s.maxConcurrency
	s.mu.RUnlock()

	if s.fetcher != nil {
		var (
			fetchedMu sync.Mutex
			fetched   []domain.RateTick
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		for _, dep := range ev.ExchangeRates.Dependencies() {
			if !s.fetcher.Supports(dep.Exchange) {
				continue
			}
			dep := dep
			g.Go(func() error {
				rate, err := s.fetcher.FetchRate(gctx, dep.Exchange, dep.Pair)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					s.logger.Warn("Rate fetch failed",
						slog.String("exchange", dep.Exchange),
						slog.String("pair", dep.Pair.String()),
						slog.Any("error", err))
					if s.metrics != nil {
						s.metrics.RecordFeedError(dep.Exchange)
					}
					return nil
				}

				fetchedMu.Lock()
				fetched = append(fetched, domain.RateTick{Exchange: dep.Exchange, Pair: dep.Pair, Rate: rate})
				fetchedMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Snapshot{}, err
		}

		for _, tick := range fetched {
			ev.ExchangeRates.SetRate(tick.Exchange, tick.Pair, tick.Rate)
		}
		s.remember(fetched)
	}

	resolved := ev.Reevaluate()
	if s.metrics != nil {
		s.metrics.RecordEvaluation(resolved, time.Since(start))
	}

	snap := snapshotOf(ev)
	s.logger.Debug("Quote evaluated",
		slog.String("pair", pair.String()),
		slog.String("rule", snap.Rule),
		slog.Bool("resolved", resolved))
	return snap, nil
}

// remember stores fetched rates for later quotes and persists them as one batch.
func (s *RateService) remember(ticks []domain.RateTick) {
	if len(ticks) == 0 {
		return
	}
	sort.Slice(ticks, func(i, j int) bool {
		if ticks[i].Exchange != ticks[j].Exchange {
			return ticks[i].Exchange < ticks[j].Exchange
		}
		return ticks[i].Pair.String() < ticks[j].Pair.String()
	})

	s.mu.Lock()
	for _, tick := range ticks {
		s.known[rules.ExchangeRate{Exchange: tick.Exchange, Pair: tick.Pair}] = tick.Rate
	}
	s.mu.Unlock()

	if s.metrics != nil {
		for _, tick := range ticks {
			s.metrics.RecordRate(tick.Exchange)
		}
	}
	if s.repo != nil {
		if err := s.repo.SaveRates(ticks); err != nil {
			s.logger.Error("Failed to save rates", slog.Int("count", len(ticks)), slog.Any("error", err))
		}
	}
}

// Watch registers pair for streaming updates and returns its current state.
func (s *RateService) Watch(pair domain.CurrencyPair) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.watched[pair]
	if !ok {
		ev = s.buildLocked(pair)
		s.watched[pair] = ev
	}
	return snapshotOf(ev)
}

// Dependencies returns the exchange rates the watched evaluations depend on
func (s *RateService) Dependencies() []rules.ExchangeRate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[rules.ExchangeRate]bool)
	var out []rules.ExchangeRate
	for _, ev := range s.watched {
		for _, dep := range ev.ExchangeRates.Dependencies() {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// GetAllData returns every watched evaluation sorted by pair
func (s *RateService) GetAllData() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Snapshot, 0, len(s.watched))
	for _, ev := range s.watched {
		result = append(result, snapshotOf(ev))
	}

	// Sort by pair for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Pair.String() < result[j].Pair.String()
	})
	return result
}

// Apply records a rate and re-evaluates the watched evaluations depending on it.
// It returns the snapshots that changed.
func (s *RateService) Apply(tick domain.RateTick) []Snapshot {
	dep := rules.ExchangeRate{Exchange: strings.ToLower(tick.Exchange), Pair: tick.Pair}

	s.mu.Lock()
	s.known[dep] = tick.Rate

	var updated []Snapshot
	for _, ev := range s.watched {
		if !dependsOn(ev, dep) {
			continue
		}
		start := time.Now()
		ev.ExchangeRates.SetRate(dep.Exchange, dep.Pair, tick.Rate)
		resolved := ev.Reevaluate()
		if s.metrics != nil {
			s.metrics.RecordEvaluation(resolved, time.Since(start))
		}
		updated = append(updated, snapshotOf(ev))
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRate(dep.Exchange)
	}
	sort.Slice(updated, func(i, j int) bool {
		return updated[i].Pair.String() < updated[j].Pair.String()
	})
	return updated
}

// GetTickChan returns the channel for incoming rate ticks
func (s *RateService) GetTickChan() chan domain.RateTick {
	return s.tickChan
}

// StartTickProcessor starts a background goroutine to apply ticks from the channel
func (s *RateService) StartTickProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-s.tickChan:
				updated := s.Apply(tick)

				s.mu.RLock()
				onUpdate := s.onUpdate
				s.mu.RUnlock()
				if onUpdate == nil {
					continue
				}
				for _, snap := range updated {
					onUpdate(snap)
				}
			}
		}
	}()
}

// buildLocked creates an evaluation seeded with the known rates.
// Must be called with lock held
func (s *RateService) buildLocked(pair domain.CurrencyPair) *rules.Evaluation {
	ev := s.ruleSet.GetRuleFor(pair)
	seeded := false
	for _, dep := range ev.ExchangeRates.Dependencies() {
		if rate, ok := s.known[dep]; ok {
			ev.ExchangeRates.SetRate(dep.Exchange, dep.Pair, rate)
			seeded = true
		}
	}
	if seeded {
		ev.Reevaluate()
	}
	return ev
}

func dependsOn(ev *rules.Evaluation, dep rules.ExchangeRate) bool {
	for _, d := range ev.ExchangeRates.Dependencies() {
		if d == dep {
			return true
		}
	}
	return false
}
