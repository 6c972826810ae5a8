package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSaveCmd(root *rootOptions) *cobra.Command {
	var multiplier string

	cmd := &cobra.Command{
		Use:   "save <name> <file>",
		Short: "Store a rule file in the database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := decimal.NewFromString(multiplier)
			if err != nil {
				return fmt.Errorf("invalid multiplier %q: %w", multiplier, err)
			}
			text, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			b, err := root.bootstrap(true)
			if err != nil {
				return err
			}
			defer b.Shutdown()

			if err := b.Storage.SaveRuleSet(args[0], string(text), m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&multiplier, "multiplier", "1", "global multiplier stored with the rule set")
	return cmd
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rule sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := root.bootstrap(true)
			if err != nil {
				return err
			}
			defer b.Shutdown()

			records, err := b.Storage.ListRuleSets()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMULTIPLIER\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.GlobalMultiplier, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored rule set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := root.bootstrap(true)
			if err != nil {
				return err
			}
			defer b.Shutdown()

			if err := b.Storage.DeleteRuleSet(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
