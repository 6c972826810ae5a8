package main

import (
	"fmt"

	"rate_rules/internal/app"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file> [pair...]",
		Short: "Validate a rule file and print its canonical form",
		Long: `Parses the rule file and prints it in canonical form. For every pair
given, the flattened rule and the exchange rates it needs are shown.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := app.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			pairs, err := parsePairs(args[1:])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rs.String())
			for _, pair := range pairs {
				ev := rs.GetRuleFor(pair)
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%s = %s\n", pair, ev.String())
				if deps := ev.ExchangeRates.String(); deps != "" {
					fmt.Fprintf(out, "  needs: %s\n", deps)
				}
			}
			return nil
		},
	}
}
