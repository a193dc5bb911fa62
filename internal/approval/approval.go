// Package approval implements the sequential legal -> finance -> executive
// sign-off that gates submission.
package approval

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

var (
	ErrOutOfOrder         = errors.New("approval step out of order")
	ErrReasonRequired     = errors.New("rejection reason required")
	ErrApprovalIncomplete = errors.New("approval incomplete")
	ErrSubmissionClosed   = errors.New("submission is closed")
)

// NextGate returns the first gate that is not yet approved. ok is false once
// every gate is approved.
func NextGate(gates [models.GateCount]models.GateOutcome) (models.Gate, bool) {
	for i := range gates {
		if gates[i].Decision != models.DecisionApproved {
			return models.Gate(i), true
		}
	}
	return models.GateCount, false
}

// StatusFor derives approval_status from the gate array.
func StatusFor(gates [models.GateCount]models.GateOutcome) models.ApprovalStatus {
	approved := 0
	for _, g := range gates {
		switch g.Decision {
		case models.DecisionRejected:
			return models.ApprovalRejected
		case models.DecisionApproved:
			approved++
		}
	}
	switch approved {
	case 0:
		return models.ApprovalPending
	case 1:
		return models.ApprovalLegalApproved
	case 2:
		return models.ApprovalFinanceApproved
	}
	return models.ApprovalComplete
}

// NewGates returns a gate array with every gate pending.
func NewGates() [models.GateCount]models.GateOutcome {
	var gates [models.GateCount]models.GateOutcome
	for i := range gates {
		gates[i] = models.GateOutcome{Decision: models.DecisionPending}
	}
	return gates
}

// Approve records actor's approval of gate. Nothing is modified on error.
func Approve(sub *models.Submission, gate models.Gate, actor string, now time.Time) (models.ApprovalStep, error) {
	if sub.Closed() {
		return models.ApprovalStep{}, fmt.Errorf("%w: status is %s", ErrSubmissionClosed, sub.Status)
	}
	if gate < 0 || gate >= models.GateCount {
		return models.ApprovalStep{}, fmt.Errorf("%w: unknown gate", ErrOutOfOrder)
	}
	if sub.ApprovalStatus == models.ApprovalRejected {
		return models.ApprovalStep{}, fmt.Errorf("%w: submission was rejected and must re-enter draft first", ErrOutOfOrder)
	}
	next, ok := NextGate(sub.Gates)
	if !ok {
		return models.ApprovalStep{}, fmt.Errorf("%w: all gates already approved", ErrOutOfOrder)
	}
	if gate != next {
		return models.ApprovalStep{}, fmt.Errorf("%w: %s is still pending, cannot approve %s", ErrOutOfOrder, next, gate)
	}

	at := now.UTC()
	sub.Gates[gate] = models.GateOutcome{Decision: models.DecisionApproved, Actor: actor, At: &at}
	sub.ApprovalStatus = StatusFor(sub.Gates)
	if sub.ApprovalStatus == models.ApprovalComplete {
		sub.Status = models.SubmissionApproved
	}
	completeGateTask(sub, gate, actor, at)

	return models.ApprovalStep{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Gate:         gate.String(),
		Outcome:      models.DecisionApproved,
		Actor:        actor,
		At:           at,
	}, nil
}

// Reject halts progression at gate. The caller is responsible for moving the
// pipeline stage back to drafting.
func Reject(sub *models.Submission, gate models.Gate, reason, actor string, now time.Time) (models.ApprovalStep, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.ApprovalStep{}, ErrReasonRequired
	}
	if sub.Closed() {
		return models.ApprovalStep{}, fmt.Errorf("%w: status is %s", ErrSubmissionClosed, sub.Status)
	}
	if gate < 0 || gate >= models.GateCount {
		return models.ApprovalStep{}, fmt.Errorf("%w: unknown gate", ErrOutOfOrder)
	}
	switch sub.ApprovalStatus {
	case models.ApprovalRejected:
		return models.ApprovalStep{}, fmt.Errorf("%w: submission is already rejected", ErrOutOfOrder)
	case models.ApprovalComplete:
		return models.ApprovalStep{}, fmt.Errorf("%w: approval is already complete", ErrOutOfOrder)
	}
	if sub.Gates[gate].Decision == models.DecisionApproved {
		return models.ApprovalStep{}, fmt.Errorf("%w: %s is already approved", ErrOutOfOrder, gate)
	}

	at := now.UTC()
	sub.Gates[gate] = models.GateOutcome{Decision: models.DecisionRejected, Actor: actor, At: &at, Reason: reason}
	sub.ApprovalStatus = models.ApprovalRejected
	sub.Status = models.SubmissionRejected

	return models.ApprovalStep{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Gate:         gate.String(),
		Outcome:      models.DecisionRejected,
		Actor:        actor,
		Reason:       reason,
		At:           at,
	}, nil
}

// Reopen returns a rejected submission to draft with every gate pending again.
func Reopen(sub *models.Submission) error {
	if sub.ApprovalStatus != models.ApprovalRejected {
		return fmt.Errorf("%w: only rejected submissions can be reopened", ErrOutOfOrder)
	}
	sub.Gates = NewGates()
	sub.ApprovalStatus = models.ApprovalPending
	sub.Status = models.SubmissionDraft
	for i := range sub.Tasks {
		if sub.Tasks[i].Locked {
			sub.Tasks[i].Completed = false
			sub.Tasks[i].CompletedBy = ""
			sub.Tasks[i].CompletedAt = nil
		}
	}
	return nil
}

// CanSubmit fails with ErrApprovalIncomplete unless every gate is approved.
func CanSubmit(sub models.Submission) error {
	if sub.ApprovalStatus != models.ApprovalComplete {
		return fmt.Errorf("%w: approval status is %s", ErrApprovalIncomplete, sub.ApprovalStatus)
	}
	return nil
}

func completeGateTask(sub *models.Submission, gate models.Gate, actor string, at time.Time) {
	title := models.GateTaskTitle(gate)
	for i := range sub.Tasks {
		if sub.Tasks[i].Locked && sub.Tasks[i].Title == title {
			sub.Tasks[i].Completed = true
			sub.Tasks[i].CompletedBy = actor
			sub.Tasks[i].CompletedAt = &at
		}
	}
}
