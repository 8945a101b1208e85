package main

import (
	"fmt"

	"ai-market-analyst/internal/cli"
	"ai-market-analyst/internal/prompts"

	"github.com/spf13/cobra"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Agent prompts and their overrides",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts with their effective version and origin",
	RunE: func(_ *cobra.Command, _ []string) error {
		var rows [][]string
		for _, p := range application.Prompts.List() {
			rows = append(rows, []string{p.Key, p.DisplayName, p.Category, p.Version, p.Origin.String(), prompts.EnvVar(p.Key)})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Key", "Name", "Category", "Version", "Origin", "Override"},
			Rows:    rows,
		}))
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print the effective instructions of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		p, err := application.Prompts.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%s)\n\n%s\n", p.Key, p.Version, p.Origin, p.Instructions)
		return nil
	},
}

var promptsExportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write every effective prompt as an editable YAML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		n, err := application.Prompts.ExportAll(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d prompts to %s\n", n, args[0])
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd, promptsShowCmd, promptsExportCmd)
	rootCmd.AddCommand(promptsCmd)
}
