// Package collab declares the narrow interfaces through which the capture
// engine reaches external systems: AI qualification, proposal generation,
// portal automation and portal status lookups.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/david/govcapture/internal/models"
)

// ErrExternal matches every failure returned by a collaborator call.
var ErrExternal = errors.New("external collaborator error")

// ExternalError records which collaborator failed and why. The owning entity
// is left unchanged whenever one of these is returned.
type ExternalError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Collaborator, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func (e *ExternalError) Is(target error) bool { return target == ErrExternal }

// Wrap converts err into an *ExternalError; nil stays nil.
func Wrap(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Collaborator: collaborator, Op: op, Err: err}
}

type Qualifier interface {
	Qualify(ctx context.Context, opp models.Opportunity) (models.Scores, error)
}

// Proposal is the artifact produced by proposal generation, keyed by section.
type Proposal struct {
	Sections map[string]string
}

type ProposalGenerator interface {
	Generate(ctx context.Context, opp models.Opportunity, sub models.Submission) (Proposal, error)
}

type SubmitRequest struct {
	Submission  models.Submission
	Opportunity models.Opportunity
	DryRun      bool
}

// Receipt is what a portal hands back after a filing.
type Receipt struct {
	ReceiptID          string
	ConfirmationNumber string
	Status             string
	EvidenceURLs       []string
	Steps              []string
}

type PortalAutomation interface {
	Submit(ctx context.Context, req SubmitRequest) (Receipt, error)
}

// PortalStatus is the raw finding of a status lookup.
type PortalStatus struct {
	Status   string
	Analysis string
	Source   string
}

type StatusLookup interface {
	CheckStatus(ctx context.Context, sub models.Submission, opp models.Opportunity) (PortalStatus, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Call runs fn under a timeout and wraps any failure, including the timeout
// itself, as an external error.
func Call(ctx context.Context, timeout time.Duration, collaborator, op string, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return Wrap(collaborator, op, fn(ctx))
}
