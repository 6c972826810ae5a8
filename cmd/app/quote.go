package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newQuoteCmd(root *rootOptions) *cobra.Command {
	var (
		rates   []string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "quote <pair>...",
		Short: "Resolve pairs once",
		Long: `Resolves each pair through the rule set. Rates given with --rate are
used first, the rest are fetched from the configured HTTP feeds unless
--offline is set.`,
		Example: `  rates quote BTC_USD --rules rules.txt --rate kraken:BTC_USD=64000 --offline`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parsePairs(args)
			if err != nil {
				return err
			}

			b, err := root.bootstrap(offline)
			if err != nil {
				return err
			}
			defer b.Shutdown()

			for _, r := range rates {
				tick, err := parseRateFlag(r)
				if err != nil {
					return err
				}
				b.Service.SetRate(tick.Exchange, tick.Pair, tick.Rate)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			for i, pair := range pairs {
				snap, err := b.Service.Quote(ctx, pair)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				printSnapshot(out, snap)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&rates, "rate", nil, "known rate as exchange:PAIR=value (repeatable)")
	cmd.Flags().BoolVar(&offline, "offline", false, "do not fetch rates over HTTP")
	return cmd
}
