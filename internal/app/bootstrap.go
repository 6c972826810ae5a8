package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"rate_rules/internal/domain"
	"rate_rules/internal/infra"
	"rate_rules/internal/infra/feed"
	"rate_rules/internal/infra/storage"
	"rate_rules/internal/rules"
	"rate_rules/internal/service"
)

// DefaultConfigPath is read when no --config flag is given
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Feed    *feed.HTTPFeed
	Service *service.RateService

	// RulesFile overrides rules.file from the config when set
	RulesFile string

	// Offline disables on-demand HTTP fetches
	Offline bool

	streams []*feed.StreamFeed
	polling bool
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization. A missing file at the
// default config path falls back to built-in defaults.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	if b.RulesFile != "" {
		cfg.Rules.File = b.RulesFile
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("Bootstrapping rate rules", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	// 4. Load Rules
	rs, err := b.loadRuleSet()
	if err != nil {
		return err
	}
	slog.Info("Rule set loaded", slog.Int("statements", len(rs.Statements)))

	// 5. Wire feeds and the service
	b.Metrics = infra.NewMetrics()
	b.Feed = feed.NewHTTPFeed(cfg.Feeds.HTTP, time.Duration(cfg.Feeds.TimeoutSec)*time.Second)

	var fetcher domain.RateFetcher
	if len(cfg.Feeds.HTTP) > 0 && !b.Offline {
		fetcher = b.Feed
	}
	b.Service = service.NewRateService(rs, fetcher, b.Storage, b.Metrics)
	b.Service.SetMaxConcurrency(cfg.Feeds.MaxConcurrency)
	if err := b.Service.Restore(); err != nil {
		slog.Warn("Failed to restore rates", slog.Any("error", err))
	}

	return nil
}

func loadConfig(path string) (*infra.Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	cfg, err := infra.LoadConfig(path)
	if errors.Is(err, domain.ErrConfigNotFound) && !explicit {
		return infra.DefaultConfig(), nil
	}
	return cfg, err
}

// loadRuleSet reads the rule file, or the stored rule set named in the config,
// and applies the configured multiplier and nesting limit.
func (b *Bootstrap) loadRuleSet() (*rules.RuleSet, error) {
	cfg := b.Config

	var rs *rules.RuleSet
	switch {
	case cfg.Rules.File != "":
		loaded, err := LoadRulesFile(cfg.Rules.File)
		if err != nil {
			return nil, err
		}
		rs = loaded
	case cfg.Rules.Stored != "":
		loaded, err := b.Storage.LoadRuleSet(cfg.Rules.Stored)
		if err != nil {
			return nil, err
		}
		rs = loaded
	default:
		slog.Warn("No rules configured, every pair will report ERR_NO_RULE_MATCH")
		rs = rules.NewRuleSet()
	}

	// a stored multiplier only yields to an explicit config value
	if cfg.Rules.GlobalMultiplier != nil {
		rs.GlobalMultiplier = *cfg.Rules.GlobalMultiplier
	}
	if cfg.Rules.MaxNesting > 0 {
		rs.MaxNesting = cfg.Rules.MaxNesting
	}
	return rs, nil
}

// LoadRulesFile reads and parses a rule file.
func LoadRulesFile(path string) (*rules.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	rs, err := rules.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// ReloadRules reads the rule set again and swaps it into the service.
// Watched pairs are rebuilt from the rates already known.
func (b *Bootstrap) ReloadRules() error {
	rs, err := b.loadRuleSet()
	if err != nil {
		return err
	}
	b.Service.ReplaceRuleSet(rs)
	return nil
}

// StartFeeds starts the tick processor, connects one StreamFeed per configured
// websocket exchange and polls the remaining HTTP exchanges. Each feed covers
// the rates the watched evaluations depend on.
func (b *Bootstrap) StartFeeds(ctx context.Context) {
	b.Service.StartTickProcessor(ctx)

	ticks := b.Service.GetTickChan()
	push := func(tick domain.RateTick) {
		select {
		case ticks <- tick:
		case <-ctx.Done():
		}
	}

	// TODO: resubscribe streams when ReloadRules changes the dependencies
	byExchange := b.dependenciesByExchange()
	streamed := make(map[string]bool)
	for exchange, url := range b.Config.Feeds.WebSocket {
		exchange = strings.ToLower(exchange)
		streamed[exchange] = true
		pairs := byExchange[exchange]
		if len(pairs) == 0 {
			continue
		}
		stream := feed.NewStreamFeed(exchange, url, pairs, push, b.Metrics)
		if err := stream.Connect(ctx); err != nil {
			slog.Error("Failed to connect stream", slog.String("exchange", exchange), slog.Any("error", err))
			continue
		}
		b.streams = append(b.streams, stream)
		slog.Info("Stream started", slog.String("exchange", exchange), slog.Int("pairs", len(pairs)))
	}

	if b.Offline || len(b.Config.Feeds.HTTP) == 0 {
		return
	}
	interval := time.Duration(b.Config.Feeds.PollIntervalSec) * time.Second
	b.Feed.StartPolling(ctx, interval, func() map[string][]domain.CurrencyPair {
		polled := b.dependenciesByExchange()
		for exchange := range streamed {
			delete(polled, exchange)
		}
		return polled
	}, push)
	b.polling = true
	slog.Info("Rate polling started", slog.Duration("interval", interval))
}

func (b *Bootstrap) dependenciesByExchange() map[string][]domain.CurrencyPair {
	byExchange := make(map[string][]domain.CurrencyPair)
	for _, dep := range b.Service.Dependencies() {
		byExchange[dep.Exchange] = append(byExchange[dep.Exchange], dep.Pair)
	}
	return byExchange
}

// Shutdown stops the feeds and closes storage
func (b *Bootstrap) Shutdown() {
	if b.polling {
		b.Feed.StopPolling()
		b.polling = false
	}
	for _, stream := range b.streams {
		stream.Disconnect()
	}
	b.streams = nil
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
