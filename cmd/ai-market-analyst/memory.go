package main

import (
	"fmt"
	"strings"

	"ai-market-analyst/internal/cli"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and prune agent memories",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List memory namespaces",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !application.Memory.Enabled() {
			fmt.Println("Memory is disabled.")
			return nil
		}
		st, err := application.Memory.Stats(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(st.Collections))
		for _, c := range st.Collections {
			rows = append(rows, []string{c.Name, c.Subject, c.Role, humanize.Comma(int64(c.Count)), humanize.Time(c.CreatedAt)})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   fmt.Sprintf("%d memories in %d namespaces", st.TotalDocuments, len(st.Collections)),
			Headers: []string{"Namespace", "Subject", "Role", "Documents", "Created"},
			Rows:    rows,
		}))
		return nil
	},
}

var flagMemoryN int

var memoryQueryCmd = &cobra.Command{
	Use:   "query <subject> <role> <situation...>",
	Short: "Show the past lessons closest to a situation",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := application.RecallContext(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "), flagMemoryN)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var (
	flagMemorySubject string
	flagMemoryDays    int
	flagMemoryAll     bool
)

type clearScope int

const (
	clearSubject clearScope = iota
	clearOlder
	clearEverything
)

// memoryClearScope picks what `memory clear` removes. Wiping every
// namespace has to be asked for with --all.
func memoryClearScope(subject string, daysSet, all bool) (clearScope, error) {
	switch {
	case subject != "":
		return clearSubject, nil
	case daysSet:
		return clearOlder, nil
	case all:
		return clearEverything, nil
	}
	return 0, fmt.Errorf("nothing to clear: pass --subject, --days or --all")
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete memories of one subject, older than N days, or all of them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		scope, err := memoryClearScope(flagMemorySubject, cmd.Flags().Changed("days"), flagMemoryAll)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var n int
		switch scope {
		case clearSubject:
			n, err = application.Memory.DeleteSubject(ctx, flagMemorySubject)
		case clearOlder:
			n, err = application.Memory.PruneAll(ctx, flagMemoryDays)
		case clearEverything:
			n, err = application.Memory.ClearAll(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d memories.\n", n)
		return nil
	},
}

func init() {
	memoryQueryCmd.Flags().IntVarP(&flagMemoryN, "limit", "n", 2, "Number of matches")
	memoryClearCmd.Flags().StringVar(&flagMemorySubject, "subject", "", "Only this subject")
	memoryClearCmd.Flags().IntVar(&flagMemoryDays, "days", 30, "Keep memories of the last N days")
	memoryClearCmd.Flags().BoolVar(&flagMemoryAll, "all", false, "Delete every memory of every subject")
	memoryClearCmd.MarkFlagsMutuallyExclusive("subject", "days", "all")

	memoryCmd.AddCommand(memoryStatsCmd, memoryQueryCmd, memoryClearCmd)
	rootCmd.AddCommand(memoryCmd)
}
