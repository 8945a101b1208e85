package main

import (
	"encoding/json"
	"fmt"
	"os"

	"ai-market-analyst/internal/cli"
	"ai-market-analyst/internal/report"

	"github.com/spf13/cobra"
)

var (
	flagReportHTML  string
	flagReportWidth int
	flagReportKeep  int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Decision reports",
}

var reportBuildCmd = &cobra.Command{
	Use:   "build <state.json>",
	Short: "Turn a finished debate state into a report, store its lessons and notify",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read state file: %w", err)
		}
		var state report.DebateState
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to decode state file %s: %w", args[0], err)
		}

		ctx := cmd.Context()
		subject, err := application.PrepareSubject(ctx, state.Subject)
		if err != nil {
			return err
		}
		state.Subject = subject.Symbol()

		out, err := application.CompleteDebate(ctx, subject, state)
		if err != nil {
			return err
		}
		if err := printReport(out.Report); err != nil {
			return err
		}
		if out.ArtifactPath != "" {
			fmt.Printf("Saved to %s (%d lessons stored)\n", out.ArtifactPath, out.Remembered)
		}
		return nil
	},
}

var reportLatestCmd = &cobra.Command{
	Use:   "latest <subject>",
	Short: "Show the newest stored report of a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := application.Results.Latest(args[0])
		if err != nil {
			return err
		}
		if a == nil {
			fmt.Printf("No reports for %s.\n", args[0])
			return nil
		}
		return printReport(a.Report)
	},
}

var reportPruneCmd = &cobra.Command{
	Use:   "prune <subject>",
	Short: "Remove all but the newest reports of a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		n, err := application.Results.RemoveStaleVersions(args[0], flagReportKeep)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d reports.\n", n)
		return nil
	},
}

func printReport(r report.Report) error {
	fmt.Printf("%s %s\n", r.Subject, cli.RenderDecision(r.Decision))

	out, err := report.RenderTerminal(r.Markdown, flagReportWidth)
	if err != nil {
		return err
	}
	fmt.Print(out)

	if flagReportHTML != "" {
		html, err := report.RenderHTML(r.Markdown)
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagReportHTML, []byte(html), 0644); err != nil {
			return fmt.Errorf("failed to write html report: %w", err)
		}
	}
	return nil
}

func init() {
	reportCmd.PersistentFlags().StringVar(&flagReportHTML, "html", "", "Also write the report as HTML to this file")
	reportCmd.PersistentFlags().IntVar(&flagReportWidth, "width", 100, "Terminal word wrap")
	reportPruneCmd.Flags().IntVar(&flagReportKeep, "keep", 5, "Reports to keep")

	reportCmd.AddCommand(reportBuildCmd, reportLatestCmd, reportPruneCmd)
	rootCmd.AddCommand(reportCmd)
}
