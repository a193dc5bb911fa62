package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/david/govcapture/internal/approval"
	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/metrics"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

// runRecord is the audit payload describing one submission attempt.
type runRecord struct {
	DryRun             bool     `json:"dry_run"`
	Actor              string   `json:"actor"`
	DurationMS         int64    `json:"duration_ms"`
	ReceiptID          string   `json:"receipt_id,omitempty"`
	ConfirmationNumber string   `json:"confirmation_number,omitempty"`
	PortalStatus       string   `json:"portal_status,omitempty"`
	EvidenceURLs       []string `json:"evidence_urls,omitempty"`
	Steps              []string `json:"steps,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type SubmitResult struct {
	Submission models.Submission    `json:"submission"`
	Receipt    collab.Receipt       `json:"receipt"`
	AuditEntry models.AuditLogEntry `json:"audit_entry"`
	FollowUp   *models.FollowUp     `json:"follow_up,omitempty"`
	DryRun     bool                 `json:"dry_run"`
}

// Submit files a fully approved submission through portal automation. The
// submission lock is held for the whole attempt so approvals and a second
// submit cannot interleave with it. A dry run validates through the portal,
// writes a DRY_RUN ledger entry and changes nothing else.
func (e *Engine) Submit(ctx context.Context, id uuid.UUID, actor string, dryRun bool) (SubmitResult, error) {
	unlock := e.locks.Lock(subKey(id))
	defer unlock()

	sub, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return SubmitResult{}, err
	}
	if sub.Closed() {
		return SubmitResult{}, fmt.Errorf("%w: status is %s", ErrSubmissionClosed, sub.Status)
	}
	if err := approval.CanSubmit(sub); err != nil {
		return SubmitResult{}, err
	}
	if sub.Stage != models.StageReview {
		return SubmitResult{}, fmt.Errorf("%w: submit requires review, submission is in %s", ErrInvalidTransition, sub.Stage)
	}
	if e.opts.Portal == nil {
		return SubmitResult{}, collab.Wrap("portal_automation", "submit", fmt.Errorf("no portal automation configured"))
	}
	opp, err := e.store.GetOpportunity(ctx, sub.OpportunityID)
	if err != nil {
		return SubmitResult{}, err
	}

	start := e.opts.Now()
	var receipt collab.Receipt
	callErr := collab.Call(ctx, e.opts.Timeout, "portal_automation", "submit", func(ctx context.Context) error {
		var subErr error
		receipt, subErr = e.opts.Portal.Submit(ctx, collab.SubmitRequest{Submission: sub, Opportunity: opp, DryRun: dryRun})
		return subErr
	})
	run := runRecord{
		DryRun:             dryRun,
		Actor:              actor,
		DurationMS:         e.opts.Now().Sub(start).Milliseconds(),
		ReceiptID:          receipt.ReceiptID,
		ConfirmationNumber: receipt.ConfirmationNumber,
		PortalStatus:       receipt.Status,
		EvidenceURLs:       receipt.EvidenceURLs,
		Steps:              receipt.Steps,
	}
	action := audit.ActionSubmit
	if dryRun {
		action = audit.ActionDryRun
	}

	if callErr != nil {
		run.Error = callErr.Error()
		metrics.ExternalFailures.WithLabelValues("portal_automation").Inc()
		log.Printf("[pipeline] portal submit failed for submission %s (dry_run=%t): %v", id, dryRun, callErr)
		if _, err := e.appendRun(ctx, sub, action, models.AuditStatusFailed, run); err != nil {
			log.Printf("[pipeline] audit append failed for submission %s: %v", id, err)
		}
		if _, err := e.mutateLocked(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
			s.Notices = append(s.Notices, models.Notice{Kind: "submit_failed", Message: callErr.Error(), At: e.opts.Now().UTC()})
			return nil, nil, nil
		}); err != nil {
			log.Printf("[pipeline] could not record notice on %s: %v", id, err)
		}
		return SubmitResult{}, callErr
	}

	if dryRun {
		status := receipt.Status
		if status == "" {
			status = models.AuditStatusPending
		}
		entry, err := e.appendRun(ctx, sub, action, status, run)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Submission: sub, Receipt: receipt, AuditEntry: entry, DryRun: true}, nil
	}

	// The portal has the filing now, so the ledger records it before any
	// local state changes.
	entry, appendErr := e.appendRun(ctx, sub, action, models.AuditStatusConfirmed, run)
	if appendErr != nil {
		log.Printf("[pipeline] CRITICAL: audit append failed for submitted %s (receipt %s): %v", id, receipt.ReceiptID, appendErr)
	}

	saved, err := e.mutateLocked(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		ev, err := step(s, models.StageSubmitted, actor, false, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		s.ReceiptID = receipt.ReceiptID
		return []models.StageEvent{ev}, nil, nil
	})
	if err != nil {
		log.Printf("[pipeline] CRITICAL: submission %s accepted by portal (receipt %s) but state save failed: %v", id, receipt.ReceiptID, err)
		msg := fmt.Sprintf("portal accepted filing with receipt %s but the submission could not be updated: %v", receipt.ReceiptID, err)
		if _, nerr := e.mutateLocked(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
			s.Notices = append(s.Notices, models.Notice{Kind: "reconcile_required", Message: msg, At: e.opts.Now().UTC()})
			return nil, nil, nil
		}); nerr != nil {
			log.Printf("[pipeline] could not record notice on %s: %v", id, nerr)
		}
		return SubmitResult{Submission: sub, Receipt: receipt, AuditEntry: entry}, err
	}
	sub = saved

	result := SubmitResult{Submission: sub, Receipt: receipt, AuditEntry: entry}
	if appendErr != nil {
		return result, appendErr
	}

	if err := e.store.SetOpportunityStatus(ctx, sub.OpportunityID, models.OpportunitySubmitted, ""); err != nil {
		log.Printf("[pipeline] failed to mark opportunity %s submitted: %v", sub.OpportunityID, err)
	}

	if e.opts.FollowUps == nil {
		return result, nil
	}
	baseline := receipt.Status
	if baseline == "" {
		baseline = "submitted"
	}
	fu, err := e.opts.FollowUps.Register(ctx, sub, baseline)
	if err != nil {
		log.Printf("[pipeline] follow-up registration failed for %s: %v", id, err)
		return result, nil
	}
	result.FollowUp = &fu

	tracked, err := e.mutateLocked(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		ev, err := step(s, models.StageTracking, actor, true, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		return []models.StageEvent{ev}, nil, nil
	})
	if err != nil {
		log.Printf("[pipeline] failed to move %s to tracking: %v", id, err)
		return result, nil
	}
	result.Submission = tracked
	return result, nil
}

func (e *Engine) appendRun(ctx context.Context, sub models.Submission, action, status string, run runRecord) (models.AuditLogEntry, error) {
	if e.vault == nil {
		return models.AuditLogEntry{}, fmt.Errorf("no audit vault configured")
	}
	return e.vault.Append(ctx, audit.Record{
		SubmissionID:  sub.ID,
		SubmissionRef: sub.Title,
		Portal:        sub.Portal,
		Action:        action,
		Status:        status,
		ReceiptID:     run.ReceiptID,
		Payload:       run,
	})
}
