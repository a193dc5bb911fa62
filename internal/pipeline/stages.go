package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/david/govcapture/internal/approval"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrSubmissionClosed  = approval.ErrSubmissionClosed
	ErrTaskLocked        = errors.New("task is controlled by the approval workflow")
	ErrTaskNotFound      = errors.New("task not found")
)

var successor = map[models.Stage]models.Stage{
	models.StageDiscovered: models.StageQualified,
	models.StageQualified:  models.StageDrafting,
	models.StageDrafting:   models.StageReview,
	models.StageReview:     models.StageSubmitted,
	models.StageSubmitted:  models.StageTracking,
}

var stageOrder = map[models.Stage]int{
	models.StageDiscovered: 0,
	models.StageQualified:  1,
	models.StageDrafting:   2,
	models.StageReview:     3,
	models.StageSubmitted:  4,
	models.StageTracking:   5,
}

// Next returns the immediate forward successor of s.
func Next(s models.Stage) (models.Stage, bool) {
	n, ok := successor[s]
	return n, ok
}

// ValidTransition reports whether to is the immediate successor of from. The
// review -> drafting bounce is not a transition; only a rejection performs it.
func ValidTransition(from, to models.Stage) bool {
	n, ok := successor[from]
	return ok && n == to
}

// Before reports whether a comes strictly earlier in the pipeline than b.
func Before(a, b models.Stage) bool {
	return stageOrder[a] < stageOrder[b]
}

// step moves sub exactly one stage forward and returns the history record.
// sub is only modified on success.
func step(sub *models.Submission, to models.Stage, actor string, automated bool, now time.Time) (models.StageEvent, error) {
	if sub.Status == models.SubmissionCancelled {
		return models.StageEvent{}, fmt.Errorf("%w: submission is cancelled", ErrSubmissionClosed)
	}
	if !ValidTransition(sub.Stage, to) {
		return models.StageEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Stage, to)
	}

	switch to {
	case models.StageDrafting:
		if sub.Status != models.SubmissionRejected {
			sub.Status = models.SubmissionDraft
		}
	case models.StageReview:
		// Returning to review after a rejection restarts every gate.
		if sub.ApprovalStatus == models.ApprovalRejected {
			if err := approval.Reopen(sub); err != nil {
				return models.StageEvent{}, err
			}
		}
		if sub.ApprovalStatus == models.ApprovalComplete {
			sub.Status = models.SubmissionApproved
		} else {
			sub.Status = models.SubmissionPendingApproval
		}
	case models.StageSubmitted:
		at := now.UTC()
		sub.Status = models.SubmissionSubmitted
		sub.SubmittedAt = &at
	}

	from := sub.Stage
	sub.Stage = to
	return stageEvent(sub.ID, from, to, actor, automated, now), nil
}

func stageEvent(subID uuid.UUID, from, to models.Stage, actor string, automated bool, now time.Time) models.StageEvent {
	return models.StageEvent{
		ID:           uuid.New(),
		SubmissionID: subID,
		From:         from,
		To:           to,
		Actor:        actor,
		Automated:    automated,
		At:           now.UTC(),
	}
}
