package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

var now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newSubmission() *models.Submission {
	return &models.Submission{
		ID:             uuid.New(),
		Stage:          models.StageReview,
		Status:         models.SubmissionPendingApproval,
		ApprovalStatus: models.ApprovalPending,
		Gates:          NewGates(),
		Tasks:          models.DefaultTasks(),
	}
}

func TestApproveInOrder(t *testing.T) {
	sub := newSubmission()
	want := []models.ApprovalStatus{models.ApprovalLegalApproved, models.ApprovalFinanceApproved, models.ApprovalComplete}
	for i, gate := range []models.Gate{models.GateLegal, models.GateFinance, models.GateExecutive} {
		step, err := Approve(sub, gate, "officer@example.com", now)
		if err != nil {
			t.Fatalf("approve %s: %v", gate, err)
		}
		if sub.ApprovalStatus != want[i] {
			t.Fatalf("after %s expected %s, got %s", gate, want[i], sub.ApprovalStatus)
		}
		if step.Gate != gate.String() || step.Actor != "officer@example.com" || !step.At.Equal(now) {
			t.Fatalf("unexpected step record %+v", step)
		}
	}
	if sub.Status != models.SubmissionApproved {
		t.Fatalf("expected approved status, got %s", sub.Status)
	}
	for _, task := range sub.Tasks {
		if task.Locked && !task.Completed {
			t.Fatalf("locked task %q should be completed", task.Title)
		}
	}
	if err := CanSubmit(*sub); err != nil {
		t.Fatalf("expected submit allowed: %v", err)
	}
}

func TestApproveFinanceBeforeLegalIsOutOfOrder(t *testing.T) {
	sub := newSubmission()
	before := *sub
	if _, err := Approve(sub, models.GateFinance, "cfo", now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if sub.ApprovalStatus != before.ApprovalStatus || sub.Gates != before.Gates {
		t.Fatal("failed approval must not modify the submission")
	}
	if _, err := Approve(sub, models.GateExecutive, "ceo", now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for executive, got %v", err)
	}
}

func TestApproveTwiceIsOutOfOrder(t *testing.T) {
	sub := newSubmission()
	if _, err := Approve(sub, models.GateLegal, "counsel", now); err != nil {
		t.Fatal(err)
	}
	if _, err := Approve(sub, models.GateLegal, "counsel", now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\t\n"} {
		sub := newSubmission()
		if _, err := Reject(sub, models.GateLegal, reason, "counsel", now); !errors.Is(err, ErrReasonRequired) {
			t.Fatalf("reason %q: expected ErrReasonRequired, got %v", reason, err)
		}
		if sub.ApprovalStatus != models.ApprovalPending {
			t.Fatalf("reason %q: status changed to %s", reason, sub.ApprovalStatus)
		}
	}
}

func TestRejectWithReason(t *testing.T) {
	for _, gate := range []models.Gate{models.GateLegal, models.GateFinance, models.GateExecutive} {
		sub := newSubmission()
		step, err := Reject(sub, gate, "budget too low", "cfo", now)
		if err != nil {
			t.Fatalf("reject %s: %v", gate, err)
		}
		if sub.ApprovalStatus != models.ApprovalRejected || sub.Status != models.SubmissionRejected {
			t.Fatalf("unexpected state %s/%s", sub.ApprovalStatus, sub.Status)
		}
		if step.Reason != "budget too low" || step.Outcome != models.DecisionRejected {
			t.Fatalf("unexpected step %+v", step)
		}
	}
}

func TestRejectedMustReopenBeforeRetry(t *testing.T) {
	sub := newSubmission()
	if _, err := Approve(sub, models.GateLegal, "counsel", now); err != nil {
		t.Fatal(err)
	}
	if _, err := Reject(sub, models.GateFinance, "pricing unclear", "cfo", now); err != nil {
		t.Fatal(err)
	}
	if _, err := Approve(sub, models.GateFinance, "cfo", now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder while rejected, got %v", err)
	}

	if err := Reopen(sub); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if sub.Status != models.SubmissionDraft || sub.ApprovalStatus != models.ApprovalPending {
		t.Fatalf("unexpected reopened state %s/%s", sub.Status, sub.ApprovalStatus)
	}
	for _, task := range sub.Tasks {
		if task.Locked && task.Completed {
			t.Fatalf("locked task %q should be reset", task.Title)
		}
	}
	if _, err := Approve(sub, models.GateLegal, "counsel", now); err != nil {
		t.Fatalf("legal approval after reopen: %v", err)
	}
}

func TestReopenRequiresRejection(t *testing.T) {
	if err := Reopen(newSubmission()); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestCanSubmitOnlyWhenComplete(t *testing.T) {
	statuses := []models.ApprovalStatus{
		models.ApprovalPending,
		models.ApprovalLegalApproved,
		models.ApprovalFinanceApproved,
		models.ApprovalRejected,
	}
	for _, st := range statuses {
		if err := CanSubmit(models.Submission{ApprovalStatus: st}); !errors.Is(err, ErrApprovalIncomplete) {
			t.Fatalf("status %s: expected ErrApprovalIncomplete, got %v", st, err)
		}
	}
	if err := CanSubmit(models.Submission{ApprovalStatus: models.ApprovalComplete}); err != nil {
		t.Fatalf("complete should submit: %v", err)
	}
}

func TestClosedSubmissionRejectsDecisions(t *testing.T) {
	sub := newSubmission()
	sub.Status = models.SubmissionCancelled
	if _, err := Approve(sub, models.GateLegal, "counsel", now); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("expected ErrSubmissionClosed, got %v", err)
	}
	if _, err := Reject(sub, models.GateLegal, "late", "counsel", now); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("expected ErrSubmissionClosed, got %v", err)
	}
}
