package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/urlcrawl/internal/ledger"
)

func newStatusCmd() *cobra.Command {
	var (
		site string
		todo int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize ledger progress over the candidate URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c := appInstance.Crawler()
			summary, err := c.Summary()
			if err != nil {
				return fmt.Errorf("summarize ledger: %w", err)
			}
			out := cmd.OutOrStdout()
			printSummary(out, summary)
			if todo <= 0 {
				return nil
			}
			targets, err := c.Todo(site)
			if err != nil {
				return fmt.Errorf("list todo: %w", err)
			}
			if len(targets) > todo {
				targets = targets[:todo]
			}
			for _, t := range targets {
				fmt.Fprintf(out, "  [%s] %s\n", t.Group, t.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "restrict the todo listing to one descriptor")
	cmd.Flags().IntVar(&todo, "todo", 0, "also print up to N URLs still to fetch")
	return cmd
}

func printSummary(w io.Writer, s ledger.Summary) {
	fmt.Fprintf(w, "total %d, completed %d, failed %d, pending %d\n", s.Total, s.Completed, s.Failed, s.Pending)
	fmt.Fprintf(w, "remaining %d (%.1f%% done)\n", s.Remaining, s.ProgressPercent)
}
