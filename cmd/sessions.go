package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/urlcrawl/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune crawl sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsCleanupCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := appInstance.Crawler().ListSessions()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newSessionsCleanupCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove all but the newest sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must be >= 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := appInstance.Crawler().CleanupSessions(keep)
			if err != nil {
				return fmt.Errorf("cleanup sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d session(s)\n", len(removed))
			printSessions(cmd.OutOrStdout(), removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of sessions to keep")
	return cmd
}

func printSessions(w io.Writer, sessions []session.Session) {
	for _, s := range sessions {
		marker := ""
		if s.Active {
			marker = " (active)"
		}
		fmt.Fprintf(w, "%s  %s  %s%s\n", s.ID, s.StartedAt.Format(time.RFC3339), s.Root, marker)
	}
}
