package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the submission audit ledger",
	}
	cmd.AddCommand(newAuditListCmd())
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditVerifyChainCmd())
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

type auditFlags struct {
	submission string
	portal     string
	status     string
	from       string
	to         string
	limit      int
}

func (f *auditFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.submission, "submission", "", "Only entries for this submission id")
	cmd.Flags().StringVar(&f.portal, "portal", "", "Only entries for this portal")
	cmd.Flags().StringVar(&f.status, "status", "", "Only entries with this status (CONFIRMED, PENDING, FAILED)")
	cmd.Flags().StringVar(&f.from, "from", "", "Earliest timestamp, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "Latest timestamp, RFC3339 or YYYY-MM-DD")
}

func (f auditFlags) filter() (models.AuditFilter, error) {
	out := models.AuditFilter{Portal: f.portal, Status: f.status, Limit: f.limit}
	if f.submission != "" {
		id, err := uuid.Parse(f.submission)
		if err != nil {
			return out, fmt.Errorf("invalid --submission: %w", err)
		}
		out.SubmissionID = &id
	}
	var err error
	if out.From, err = parseFlagTime("from", f.from); err != nil {
		return out, err
	}
	if out.To, err = parseFlagTime("to", f.to); err != nil {
		return out, err
	}
	return out, nil
}

func parseFlagTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, raw)
}

func newAuditListCmd() *cobra.Command {
	var flags auditFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.Vault.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			renderAudit(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func renderAudit(w io.Writer, entries []models.AuditLogEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Seq", "Timestamp", "Submission", "Portal", "Action", "Status", "Receipt", "Hash"})
	for _, e := range entries {
		hash := e.ConfirmationHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		t.AppendRow(table.Row{e.Seq, e.Timestamp.Format(time.RFC3339), e.SubmissionRef, e.Portal, e.Action, e.Status, e.ReceiptID, hash})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(entries)})
	t.Render()
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <entry-id>",
		Short: "Recompute and check the confirmation hash of one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entry id: %w", err)
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			verdict, err := a.Vault.Verify(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s): %s\n", verdictLabel(verdict.Valid), verdict.EntryID, verdict.HashAlg, verdict.Message)
			return verdict.Err()
		},
	}
}

func newAuditVerifyChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain",
		Short: "Walk the whole ledger and check every hash and link",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Vault.VerifyChain(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries: %s\n", verdictLabel(report.Valid), report.Entries, report.Message)
			if !report.Valid {
				return fmt.Errorf("%w: %s", audit.ErrIntegrityFailure, report.Message)
			}
			return nil
		},
	}
}

func verdictLabel(valid bool) string {
	if valid {
		return "OK"
	}
	return "FAIL"
}

func newAuditExportCmd() *cobra.Command {
	var flags auditFlags
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compliance snapshot of the ledger as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.Vault.Export(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap); err != nil {
				return err
			}
			if !snap.Trusted {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: snapshot contains entries that failed verification\n")
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write (default stdout)")
	return cmd
}
