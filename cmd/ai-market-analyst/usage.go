package main

import (
	"fmt"
	"strings"

	"ai-market-analyst/internal/cli"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var flagUsageDays int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Token usage and cost",
}

var usageDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Usage per day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, err := application.Usage.DailyUsage(cmd.Context(), flagUsageDays)
		if err != nil {
			return err
		}
		if len(days) == 0 {
			fmt.Println("No usage recorded.")
			return nil
		}
		rows := make([][]string, 0, len(days))
		for _, d := range days {
			rows = append(rows, []string{
				d.Date,
				cli.FormatTokens(d.TotalPrompt),
				cli.FormatTokens(d.TotalCompletion),
				cli.FormatTokens(d.TotalExecution),
				cli.FormatCost(d.Cost),
			})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   fmt.Sprintf("USAGE  Last %dd", flagUsageDays),
			Headers: []string{"Date", "Prompt", "Completion", "Calls", "Cost"},
			Rows:    rows,
		}))
		return nil
	},
}

var usageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old usage records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		affected, err := application.Usage.Cleanup(cmd.Context(), flagUsageDays)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully removed %d old usage records.\n", affected)
		return nil
	},
}

var usagePricesCmd = &cobra.Command{
	Use:   "price <model>",
	Short: "Show the price applied to a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		p, prefix := application.Ledger.Prices().Lookup(args[0])
		if prefix == "" {
			prefix = "default tier"
		}
		fmt.Printf("%s -> %s: $%s prompt, $%s completion per 1M tokens\n",
			args[0], prefix, p.PromptPerMTok.String(), p.CompletionPerMTok.String())
		return nil
	},
}

// parseAmount accepts thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func init() {
	usageCmd.PersistentFlags().IntVar(&flagUsageDays, "days", 30, "Time window in days")
	usageCmd.AddCommand(usageDailyCmd, usageCleanupCmd, usagePricesCmd)
	rootCmd.AddCommand(usageCmd)
}
