package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ai-market-analyst/internal/app"
	"ai-market-analyst/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg         *config.Config
	application *app.App
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "ai-market-analyst",
	Short: "Support tooling for the multi-agent trading analysis",
	Long:  "Symbol correction, currency conversion, agent memory, usage accounting, prompts and decision reports for the trading agents.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if flagQuiet {
			log.SetOutput(io.Discard)
		}
		var err error
		cfg, err = config.NewFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		application, err = app.Bootstrap(cmd.Context(), cfg)
		return err
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if application == nil {
			return nil
		}
		return application.Close()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress log output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if application != nil {
			application.Close()
		}
		os.Exit(1)
	}
}
