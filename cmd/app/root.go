package main

import (
	"fmt"
	"io"
	"strings"

	"rate_rules/internal/app"
	"rate_rules/internal/domain"
	"rate_rules/internal/service"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	rulesFile  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "rates",
		Short: "Resolve currency pairs through exchange rate rules",
		Long: `rates evaluates currency pairs against a rule file such as

  // everything priced in BTC first
  X_X = X_BTC * BTC_X;
  BTC_X = kraken(BTC_X) * 1.01;

Rates are fetched from the HTTP feeds configured in the config file,
streamed over websocket feeds, or given on the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./"+app.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.rulesFile, "rules", "", "rule file, overrides rules.file from the config")

	root.AddCommand(
		newCheckCmd(),
		newQuoteCmd(opts),
		newWatchCmd(opts),
		newSaveCmd(opts),
		newListCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

// bootstrap initializes the application for commands that need storage or feeds.
func (o *rootOptions) bootstrap(offline bool) (*app.Bootstrap, error) {
	b := app.NewBootstrap()
	b.RulesFile = o.rulesFile
	b.Offline = offline
	if err := b.Initialize(o.configFile); err != nil {
		b.Shutdown()
		return nil, err
	}
	return b, nil
}

func parsePairs(args []string) ([]domain.CurrencyPair, error) {
	pairs := make([]domain.CurrencyPair, 0, len(args))
	for _, arg := range args {
		p, err := domain.ParseCurrencyPair(arg)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// parseRateFlag reads "exchange:PAIR=value", e.g. kraken:BTC_USD=64000.5
func parseRateFlag(s string) (domain.RateTick, error) {
	exchange, rest, ok := strings.Cut(s, ":")
	if !ok || exchange == "" {
		return domain.RateTick{}, fmt.Errorf("invalid rate %q: expected exchange:PAIR=value", s)
	}
	pairText, value, ok := strings.Cut(rest, "=")
	if !ok {
		return domain.RateTick{}, fmt.Errorf("invalid rate %q: expected exchange:PAIR=value", s)
	}
	pair, err := domain.ParseCurrencyPair(pairText)
	if err != nil {
		return domain.RateTick{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return domain.RateTick{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return domain.RateTick{Exchange: strings.ToLower(exchange), Pair: pair, Rate: rate}, nil
}

func printSnapshot(w io.Writer, snap service.Snapshot) {
	fmt.Fprintln(w, snap.Pair.String())
	fmt.Fprintf(w, "  rule:     %s\n", snap.Rule)
	fmt.Fprintf(w, "  resolved: %s\n", snap.Resolved)
	if snap.Value != nil {
		fmt.Fprintf(w, "  value:    %s\n", snap.Value.String())
		return
	}
	kinds := make([]string, len(snap.Errors))
	for i, k := range snap.Errors {
		kinds[i] = k.String()
	}
	fmt.Fprintf(w, "  errors:   %s\n", strings.Join(kinds, ", "))
}
