package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"ai-market-analyst/internal/cli"
	"ai-market-analyst/internal/metrics"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Configuration, component and process health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := application
		h := metrics.GetSysHealth(cfg.DataDir)

		fmt.Print(cli.RenderKV("STATUS", [][2]string{
			{"Agents", cli.YesNo(a.QuickThink != nil)},
			{"Quick / deep model", cfg.QuickThinkModel + " / " + cfg.DeepThinkModel},
			{"Cross-validation", cli.YesNo(a.CrossValidation != nil)},
			{"Memory", cli.YesNo(a.Memory.Enabled())},
			{"Notifications", cli.YesNo(a.Notifier != nil)},
			{"Rate limit", fmt.Sprintf("%d/min, %.1f slots free", a.Limiter.RPM(), a.Limiter.Available())},
			{"Reference currency", a.FX.Reference()},
			{"Symbols", a.Symbols.Size()},
			{"Session", a.Ledger.SessionID()},
			{"Data dir", fmt.Sprintf("%s in %d files, %d reports", h.DataDiskSize, h.DataFiles, h.Artifacts)},
			{"Memory use", fmt.Sprintf("%s alloc, %s sys, %d GCs, %d goroutines", h.Alloc, h.Sys, h.NumGC, h.Goroutines)},
		}))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch-prompts",
	Short: "Reload prompt documents from PROMPTS_DIR until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.PromptsDir == "" {
			return fmt.Errorf("PROMPTS_DIR is not set")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := application.WatchPrompts(ctx, cfg.PromptsDir); err != nil {
			return err
		}
		fmt.Printf("Watching %s, press Ctrl+C to stop.\n", cfg.PromptsDir)
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, watchCmd)
}
