package main

import (
	"fmt"
	"io"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newFollowUpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "followups",
		Aliases: []string{"fu"},
		Short:   "Inspect and run post-submission status checks",
	}
	cmd.AddCommand(newFollowUpsListCmd())
	cmd.AddCommand(newFollowUpsRunDueCmd())
	cmd.AddCommand(newFollowUpsCheckCmd())
	return cmd
}

func newFollowUpsListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List follow-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			items, err := a.Backend.ListFollowUps(cmd.Context(), models.FollowUpStatus(status), limit)
			if err != nil {
				return err
			}
			renderFollowUps(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only follow-ups with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum follow-ups to show")
	return cmd
}

func renderFollowUps(w io.Writer, items []models.FollowUp) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Status", "Checks", "Next Check", "Portal Status", "Review"})
	for _, fu := range items {
		next := "-"
		if fu.NextCheckAt != nil {
			next = fu.NextCheckAt.Format(time.RFC3339)
		} else if !fu.AutoCheck && !fu.Status.Terminal() {
			next = "parked"
		}
		review := ""
		if fu.NeedsReview {
			review = "needs review"
		}
		t.AppendRow(table.Row{
			fu.ID.String()[:8],
			fu.Status,
			fmt.Sprintf("%d/%d", fu.ChecksPerformed, fu.MaxChecks),
			next,
			fu.LastStatusFound,
			review,
		})
	}
	t.Render()
}

func newFollowUpsRunDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Check every follow-up whose next check time has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			start := time.Now()
			s, err := a.FollowUps.RunDue(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "due=%d checked=%d failed=%d exhausted=%d terminal=%d (%s)\n",
				s.Due, s.Checked, s.Failed, s.Exhausted, s.Terminal, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newFollowUpsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <follow-up-id>",
		Short: "Run one manual status check now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid follow-up id: %w", err)
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.FollowUps.CheckNow(cmd.Context(), id, models.CheckTypeManual)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %q classified %s (%d/%d checks)\n",
				res.FollowUp.ID, res.Check.StatusFound, res.Check.Classification, res.FollowUp.ChecksPerformed, res.FollowUp.MaxChecks)
			if res.Exhausted {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schedule exhausted; flagged for review")
			}
			return nil
		},
	}
}
