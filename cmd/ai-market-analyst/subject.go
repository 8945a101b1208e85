package main

import (
	"fmt"
	"time"

	"ai-market-analyst/internal/cli"
	"ai-market-analyst/internal/fx"
	"ai-market-analyst/internal/memory"
	"ai-market-analyst/internal/prompts"

	"github.com/spf13/cobra"
)

var symbolCmd = &cobra.Command{
	Use:   "symbol <ticker>",
	Short: "Correct a ticker and resolve its currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := application.PrepareSubject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rate := "unavailable"
		if s.ToReference.Available() {
			rate = fmt.Sprintf("%s (%s)", s.ToReference.Value.Decimal.String(), s.ToReference.Source)
		}
		fmt.Print(cli.RenderKV("SUBJECT", [][2]string{
			{"Input", s.Original},
			{"Symbol", s.Symbol()},
			{"Corrected", fmt.Sprint(s.WasCorrected)},
			{"Known listing", fmt.Sprint(s.IsKnownValid)},
			{"Company", s.CompanyName},
			{"Exchange", s.Exchange},
			{"Currency", s.Currency},
			{fmt.Sprintf("1 %s in %s", s.Currency, s.Reference), rate},
		}))
		return nil
	},
}

var (
	flagAgentDate   string
	flagAgentCross  bool
	flagAgentMemory int
)

var agentCmd = &cobra.Command{
	Use:   "agent <prompt-key> <ticker>",
	Short: "Run a single agent prompt for a ticker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := application.PrepareSubject(ctx, args[1])
		if err != nil {
			return err
		}
		if flagAgentDate == "" {
			flagAgentDate = time.Now().Format("2006-01-02")
		}

		data := prompts.Data{
			Subject:     s.Symbol(),
			CompanyName: s.CompanyName,
			Currency:    s.Currency,
			TradeDate:   flagAgentDate,
		}
		if role, ok := memoryRoleFor(args[0]); ok && flagAgentMemory > 0 {
			data.PastMemory, err = application.RecallContext(ctx, s.Symbol(), role, s.Symbol()+" "+flagAgentDate, flagAgentMemory)
			if err != nil {
				return err
			}
		}

		res, err := application.RunAgent(ctx, args[0], data)
		if err != nil {
			return err
		}
		fmt.Println(res.Text)
		fmt.Println()
		fmt.Printf("%s  prompt %s (%s)  %s tokens\n", res.Meta.AgentName, res.PromptVersion, res.PromptOrigin,
			cli.FormatTokens(res.Meta.Usage.PromptTokens+res.Meta.Usage.CompletionTokens))

		if flagAgentCross {
			cc, err := application.CrossValidate(ctx, args[0], data, res)
			if err != nil {
				return err
			}
			if cc == nil {
				fmt.Println("cross-validation is disabled")
				return nil
			}
			fmt.Printf("cross-validation: %s vs %s, agree=%v\n", cli.RenderDecision(cc.Primary), cli.RenderDecision(cc.Secondary), cc.Agree)
		}
		return nil
	},
}

// memoryRoleFor maps the prompts that read past lessons to their memory role.
func memoryRoleFor(key string) (string, bool) {
	role, ok := map[string]string{
		"bull_researcher":  memory.RoleBull,
		"bear_researcher":  memory.RoleBear,
		"trader":           memory.RoleTrader,
		"research_manager": memory.RoleInvestJudge,
		"risk_manager":     memory.RoleRiskManager,
	}[key]
	return role, ok
}

var flagFxNoFallback bool

var fxCmd = &cobra.Command{
	Use:   "fx",
	Short: "Currency rates and conversion",
}

var fxRateCmd = &cobra.Command{
	Use:   "rate <from> <to>",
	Short: "Resolve the rate that converts one unit of <from> into <to>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate := application.FX.GetFxRate(cmd.Context(), args[0], args[1], !flagFxNoFallback)
		if !rate.Available() {
			return fmt.Errorf("no rate for %s/%s", args[0], args[1])
		}
		fmt.Printf("%s/%s = %s (%s)\n", args[0], args[1], rate.Value.Decimal.String(), rate.Source)
		return nil
	},
}

var fxConvertCmd = &cobra.Command{
	Use:   "convert <amount> <currency>",
	Short: "Convert an amount into the reference currency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		out := application.FX.NormalizeToReference(cmd.Context(), amount, args[1])
		if !out.Valid {
			return fmt.Errorf("cannot convert %s to %s", args[1], application.FX.Reference())
		}
		fmt.Printf("%s = %s\n", fx.Format(amount, args[1]), fx.Format(out.Decimal, application.FX.Reference()))
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVar(&flagAgentDate, "date", "", "Trade date (default today)")
	agentCmd.Flags().BoolVar(&flagAgentCross, "cross-validate", false, "Repeat the call on the cross-validation provider")
	agentCmd.Flags().IntVar(&flagAgentMemory, "memories", 2, "Past lessons to include for memory-backed roles")

	fxRateCmd.Flags().BoolVar(&flagFxNoFallback, "no-fallback", false, "Fail instead of using the static table")
	fxCmd.AddCommand(fxRateCmd, fxConvertCmd)

	rootCmd.AddCommand(symbolCmd, agentCmd, fxCmd)
}
