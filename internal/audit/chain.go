package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

// ChainReport summarises a full ledger walk.
type ChainReport struct {
	Entries  int        `json:"entries"`
	Valid    bool       `json:"valid"`
	FirstBad *uuid.UUID `json:"first_bad,omitempty"`
	Message  string     `json:"message"`
}

// VerifyChain walks the whole ledger in sequence order, checking each digest,
// sequence continuity and the prev_hash links.
func (v *Vault) VerifyChain(ctx context.Context) (ChainReport, error) {
	entries, err := v.store.ListAudit(ctx, models.AuditFilter{})
	if err != nil {
		return ChainReport{}, fmt.Errorf("list ledger: %w", err)
	}

	report := ChainReport{Entries: len(entries), Valid: true, Message: "ledger verified"}
	prevHash := ""
	for i, e := range entries {
		fail := ""
		switch {
		case e.Seq != int64(i+1):
			fail = fmt.Sprintf("sequence gap: expected %d, found %d", i+1, e.Seq)
		case e.PrevHash != prevHash:
			fail = fmt.Sprintf("entry %d does not link to its predecessor", e.Seq)
		default:
			if verdict := v.check(e); !verdict.Valid {
				fail = fmt.Sprintf("entry %d: %s", e.Seq, verdict.Message)
			}
		}
		if fail != "" {
			id := e.ID
			report.Valid = false
			report.FirstBad = &id
			report.Message = fail
			return report, nil
		}
		prevHash = e.ConfirmationHash
	}
	return report, nil
}

// ExportedEntry echoes a stored entry with its verification result. The
// stored confirmation hash is never recomputed into the output.
type ExportedEntry struct {
	models.AuditLogEntry
	Verified bool   `json:"verified"`
	Message  string `json:"verification_message"`
}

// Snapshot is an immutable compliance extract.
type Snapshot struct {
	ExportedAt time.Time       `json:"exported_at"`
	Count      int             `json:"count"`
	Trusted    bool            `json:"trusted"`
	Entries    []ExportedEntry `json:"entries"`
}

// Export returns every entry matching filter. Entries that fail verification
// are included but flagged, and the snapshot loses its trusted claim.
func (v *Vault) Export(ctx context.Context, filter models.AuditFilter) (Snapshot, error) {
	entries, err := v.store.ListAudit(ctx, filter)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list ledger: %w", err)
	}
	snap := Snapshot{
		ExportedAt: v.now().UTC(),
		Count:      len(entries),
		Trusted:    true,
		Entries:    make([]ExportedEntry, 0, len(entries)),
	}
	for _, e := range entries {
		verdict := v.check(e)
		if !verdict.Valid {
			snap.Trusted = false
		}
		snap.Entries = append(snap.Entries, ExportedEntry{
			AuditLogEntry: e.Clone(),
			Verified:      verdict.Valid,
			Message:       verdict.Message,
		})
	}
	return snap, nil
}

// List returns stored entries without verification.
func (v *Vault) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, error) {
	return v.store.ListAudit(ctx, filter)
}
