// Package pipeline owns the submission stage machine. It evaluates the
// autonomy policy when scores change, gates submission behind the approval
// workflow and hands submitted work to the follow-up scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/david/govcapture/internal/approval"
	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/lockset"
	"github.com/david/govcapture/internal/metrics"
	"github.com/david/govcapture/internal/models"
	"github.com/david/govcapture/internal/worker"
	"github.com/google/uuid"
)

type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (models.Opportunity, error)
	UpdateOpportunityScores(ctx context.Context, id uuid.UUID, s models.Scores) (models.Opportunity, error)
	SetOpportunityStatus(ctx context.Context, id uuid.UUID, status models.OpportunityStatus, reason string) error

	CreateSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent) error
	GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error)
	ActiveSubmission(ctx context.Context, opportunityID uuid.UUID) (models.Submission, error)
	SaveSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent, steps []models.ApprovalStep) error
}

// ConfigSource yields the autonomy config snapshot current at call time.
type ConfigSource interface {
	Current() autonomy.Snapshot
}

// FollowUpRegistrar creates the follow-up for a newly submitted submission.
type FollowUpRegistrar interface {
	Register(ctx context.Context, sub models.Submission, baseline string) (models.FollowUp, error)
}

type Options struct {
	Qualifier collab.Qualifier
	Generator collab.ProposalGenerator
	Portal    collab.PortalAutomation
	FollowUps FollowUpRegistrar
	// Jobs runs policy-triggered generation in the background. When nil,
	// generation runs inline with the scoring call.
	Jobs         *worker.Pool
	DefaultOwner string
	Timeout      time.Duration
	Now          func() time.Time
}

type Engine struct {
	store  Store
	vault  *audit.Vault
	config ConfigSource
	locks  *lockset.Set
	opts   Options
}

func New(store Store, vault *audit.Vault, config ConfigSource, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Engine{store: store, vault: vault, config: config, locks: lockset.New(), opts: opts}
}

func subKey(id uuid.UUID) string { return "sub:" + id.String() }

func oppKey(id uuid.UUID) string { return "opp:" + id.String() }

type mutation func(sub *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error)

// mutate serializes fn against every other change to the same submission.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, fn mutation) (models.Submission, error) {
	unlock := e.locks.Lock(subKey(id))
	defer unlock()
	return e.mutateLocked(ctx, id, fn)
}

// mutateLocked applies fn to a copy and persists it. A failing fn leaves the
// stored submission untouched. The caller must hold the submission lock.
func (e *Engine) mutateLocked(ctx context.Context, id uuid.UUID, fn mutation) (models.Submission, error) {
	current, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	work := current.Clone()
	events, steps, err := fn(&work)
	if err != nil {
		return current, err
	}
	if err := e.store.SaveSubmission(ctx, &work, events, steps); err != nil {
		return current, fmt.Errorf("save submission %s: %w", id, err)
	}
	for _, ev := range events {
		metrics.StageTransitions.WithLabelValues(string(ev.To), trigger(ev.Automated)).Inc()
	}
	for _, st := range steps {
		metrics.ApprovalDecisions.WithLabelValues(st.Gate, string(st.Outcome)).Inc()
	}
	return work, nil
}

func trigger(automated bool) string {
	if automated {
		return "automation"
	}
	return "user"
}

func (e *Engine) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	return e.store.GetSubmission(ctx, id)
}

// Advance moves a submission one stage forward on behalf of actor. Entering
// submitted is only possible through Submit.
func (e *Engine) Advance(ctx context.Context, id uuid.UUID, target models.Stage, actor string) (models.Submission, error) {
	if target == models.StageSubmitted {
		return models.Submission{}, fmt.Errorf("%w: submitted is reached through submit", ErrInvalidTransition)
	}
	return e.mutate(ctx, id, func(sub *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		ev, err := step(sub, target, actor, false, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		return []models.StageEvent{ev}, nil, nil
	})
}

// advanceTo walks sub forward one logged step at a time until it reaches
// target. Stages already at or past target are left alone.
func advanceTo(sub *models.Submission, target models.Stage, actor string, automated bool, now time.Time) ([]models.StageEvent, error) {
	var events []models.StageEvent
	for Before(sub.Stage, target) {
		next, _ := Next(sub.Stage)
		ev, err := step(sub, next, actor, automated, now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// ensureSubmission returns the opportunity's active submission, creating one
// at discovered when there is none. The caller must hold the opportunity lock.
func (e *Engine) ensureSubmission(ctx context.Context, opp models.Opportunity, owner string, automated bool) (models.Submission, bool, error) {
	existing, err := e.store.ActiveSubmission(ctx, opp.ID)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return models.Submission{}, false, err
	}

	if owner == "" {
		owner = e.opts.DefaultOwner
	}
	now := e.opts.Now()
	sub := models.Submission{
		ID:             uuid.New(),
		OpportunityID:  opp.ID,
		OwnerID:        owner,
		Title:          opp.Title,
		Portal:         opp.PortalName(),
		DueDate:        opp.DueDate,
		Stage:          models.StageDiscovered,
		Status:         models.SubmissionDraft,
		ApprovalStatus: models.ApprovalPending,
		Gates:          approval.NewGates(),
		Tasks:          models.DefaultTasks(),
	}
	created := stageEvent(sub.ID, "", models.StageDiscovered, owner, automated, now)
	if err := e.store.CreateSubmission(ctx, &sub, []models.StageEvent{created}); err != nil {
		return models.Submission{}, false, fmt.Errorf("create submission for %s: %w", opp.ID, err)
	}
	log.Printf("[pipeline] created submission %s for opportunity %s (owner %q)", sub.ID, opp.ID, owner)
	return sub, true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// Outcome reports what a scoring event caused.
type Outcome struct {
	Decision         autonomy.Decision  `json:"decision"`
	ConfigVersion    int64              `json:"config_version"`
	Submission       *models.Submission `json:"submission,omitempty"`
	Created          bool               `json:"created"`
	GenerationQueued bool               `json:"generation_queued"`
	GenerationError  string             `json:"generation_error,omitempty"`
}

// OnScoreUpdated evaluates the autonomy policy for an opportunity whose fit
// score was just written. It never auto-submits.
func (e *Engine) OnScoreUpdated(ctx context.Context, opportunityID uuid.UUID, actor string) (Outcome, error) {
	opp, err := e.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return Outcome{}, err
	}
	snap := e.config.Current()
	dec := autonomy.Decide(opp.FitScore, opp.EstimatedValue, snap.Config)
	out := Outcome{Decision: dec, ConfigVersion: snap.Version}
	log.Printf("[pipeline] opportunity %s: %s (%s, config v%d)", opp.ID, dec.Action, dec.Reason, snap.Version)

	if !dec.Drafts() {
		return out, nil
	}

	sub, created, err := e.draft(ctx, opp.ID, actor, true)
	if errors.Is(err, errOpportunityClosed) {
		log.Printf("[pipeline] opportunity %s: skipping automation: %v", opp.ID, err)
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Submission, out.Created = &sub, created

	if dec.Action != autonomy.ActionDraftAndGenerate || sub.Stage != models.StageDrafting {
		return out, nil
	}

	if e.opts.Jobs != nil {
		subID := sub.ID
		err := e.opts.Jobs.Go("generate "+subID.String(), func(ctx context.Context) error {
			_, err := e.generateAndReview(ctx, subID, actor, true)
			return err
		})
		if err == nil {
			out.GenerationQueued = true
			return out, nil
		}
		log.Printf("[pipeline] job pool unavailable (%v); generating inline", err)
	}

	updated, err := e.generateAndReview(ctx, sub.ID, actor, true)
	if err != nil {
		out.GenerationError = err.Error()
	}
	out.Submission = &updated
	return out, nil
}

// errOpportunityClosed marks an opportunity that no longer accepts pursuit.
var errOpportunityClosed = fmt.Errorf("%w: opportunity is closed", ErrInvalidTransition)

// openOpportunity reads the opportunity under its lock. Disqualified
// opportunities are closed to everyone; submitted ones only to automation.
func (e *Engine) openOpportunity(ctx context.Context, id uuid.UUID, automated bool) (models.Opportunity, error) {
	opp, err := e.store.GetOpportunity(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	if opp.Status == models.OpportunityDisqualified || (automated && opp.Status == models.OpportunitySubmitted) {
		return opp, fmt.Errorf("%w (%s)", errOpportunityClosed, opp.Status)
	}
	return opp, nil
}

// draft ensures an active submission exists and brings it to drafting.
func (e *Engine) draft(ctx context.Context, opportunityID uuid.UUID, actor string, automated bool) (models.Submission, bool, error) {
	unlockOpp := e.locks.Lock(oppKey(opportunityID))
	defer unlockOpp()

	opp, err := e.openOpportunity(ctx, opportunityID, automated)
	if err != nil {
		return models.Submission{}, false, err
	}
	sub, created, err := e.ensureSubmission(ctx, opp, actor, automated)
	if err != nil {
		return models.Submission{}, false, err
	}
	if Before(sub.Stage, models.StageDrafting) {
		sub, err = e.mutate(ctx, sub.ID, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
			events, err := advanceTo(s, models.StageDrafting, actor, automated, e.opts.Now())
			return events, nil, err
		})
		if err != nil {
			return models.Submission{}, created, err
		}
	}
	if opp.Status == models.OpportunityNew || opp.Status == models.OpportunityReviewing {
		if err := e.store.SetOpportunityStatus(ctx, opp.ID, models.OpportunityQualified, ""); err != nil {
			log.Printf("[pipeline] failed to mark opportunity %s qualified: %v", opp.ID, err)
		}
	}
	return sub, created, nil
}

// generateAndReview runs proposal generation for a drafting submission and
// advances it to review. On failure the submission stays in drafting with a
// notice and the collaborator error is returned.
func (e *Engine) generateAndReview(ctx context.Context, id uuid.UUID, actor string, automated bool) (models.Submission, error) {
	sub, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Stage != models.StageDrafting {
		return sub, nil
	}
	if e.opts.Generator == nil {
		return sub, collab.Wrap("proposal_generator", "generate", errors.New("no proposal generator configured"))
	}
	opp, err := e.store.GetOpportunity(ctx, sub.OpportunityID)
	if err != nil {
		return sub, err
	}

	var proposal collab.Proposal
	err = collab.Call(ctx, e.opts.Timeout, "proposal_generator", "generate", func(ctx context.Context) error {
		var genErr error
		proposal, genErr = e.opts.Generator.Generate(ctx, opp, sub)
		return genErr
	})
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("proposal_generator").Inc()
		log.Printf("[pipeline] proposal generation failed for submission %s: %v", id, err)
		if _, nerr := e.addNotice(ctx, id, "generation_failed", err.Error()); nerr != nil {
			log.Printf("[pipeline] could not record notice on %s: %v", id, nerr)
		}
		return sub, err
	}

	return e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		if s.Stage != models.StageDrafting {
			// Someone moved it while we were generating; keep their state.
			return nil, nil, nil
		}
		s.ProposalSections = proposal.Sections
		ev, err := step(s, models.StageReview, actor, automated, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		return []models.StageEvent{ev}, nil, nil
	})
}

func (e *Engine) addNotice(ctx context.Context, id uuid.UUID, kind, message string) (models.Submission, error) {
	return e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		s.Notices = append(s.Notices, models.Notice{Kind: kind, Message: message, At: e.opts.Now().UTC()})
		return nil, nil, nil
	})
}

// RecordScores writes qualification results and evaluates the policy.
func (e *Engine) RecordScores(ctx context.Context, opportunityID uuid.UUID, scores models.Scores, actor string) (Outcome, error) {
	if _, err := e.store.UpdateOpportunityScores(ctx, opportunityID, scores); err != nil {
		return Outcome{}, err
	}
	return e.OnScoreUpdated(ctx, opportunityID, actor)
}

// Qualify asks the AI qualifier to score an opportunity. A qualifier failure
// changes nothing.
func (e *Engine) Qualify(ctx context.Context, opportunityID uuid.UUID, actor string) (Outcome, error) {
	if e.opts.Qualifier == nil {
		return Outcome{}, collab.Wrap("qualifier", "qualify", errors.New("no qualifier configured"))
	}
	opp, err := e.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return Outcome{}, err
	}
	var scores models.Scores
	err = collab.Call(ctx, e.opts.Timeout, "qualifier", "qualify", func(ctx context.Context) error {
		var qErr error
		scores, qErr = e.opts.Qualifier.Qualify(ctx, opp)
		return qErr
	})
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("qualifier").Inc()
		log.Printf("[pipeline] qualification failed for opportunity %s: %v", opportunityID, err)
		return Outcome{}, err
	}
	return e.RecordScores(ctx, opportunityID, scores, actor)
}

// Pursue is the manual start of a pursuit: it creates the active submission
// if needed and marks it qualified.
func (e *Engine) Pursue(ctx context.Context, opportunityID uuid.UUID, actor string) (models.Submission, error) {
	unlockOpp := e.locks.Lock(oppKey(opportunityID))
	defer unlockOpp()

	opp, err := e.openOpportunity(ctx, opportunityID, false)
	if err != nil {
		return models.Submission{}, err
	}
	sub, _, err := e.ensureSubmission(ctx, opp, actor, false)
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Stage != models.StageDiscovered {
		return sub, nil
	}
	return e.mutate(ctx, sub.ID, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		ev, err := step(s, models.StageQualified, actor, false, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		return []models.StageEvent{ev}, nil, nil
	})
}

// QuickPursue drafts and generates a proposal in one user action, stopping at
// review for approval.
func (e *Engine) QuickPursue(ctx context.Context, opportunityID uuid.UUID, actor string) (models.Submission, error) {
	sub, _, err := e.draft(ctx, opportunityID, actor, false)
	if err != nil {
		return models.Submission{}, err
	}
	return e.generateAndReview(ctx, sub.ID, actor, false)
}

// Generate runs proposal generation on demand for a drafting submission.
func (e *Engine) Generate(ctx context.Context, id uuid.UUID, actor string) (models.Submission, error) {
	sub, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Stage != models.StageDrafting {
		return sub, fmt.Errorf("%w: generation requires drafting, submission is in %s", ErrInvalidTransition, sub.Stage)
	}
	return e.generateAndReview(ctx, id, actor, false)
}

func (e *Engine) Approve(ctx context.Context, id uuid.UUID, gateName, actor string) (models.Submission, models.ApprovalStep, error) {
	gate, ok := models.ParseGate(gateName)
	if !ok {
		return models.Submission{}, models.ApprovalStep{}, fmt.Errorf("%w: unknown gate %q", approval.ErrOutOfOrder, gateName)
	}
	var rec models.ApprovalStep
	sub, err := e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		st, err := approval.Approve(s, gate, actor, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		rec = st
		return nil, []models.ApprovalStep{st}, nil
	})
	if err != nil {
		return sub, models.ApprovalStep{}, err
	}
	log.Printf("[pipeline] submission %s: %s approved by %s (%s)", id, gate, actor, sub.ApprovalStatus)
	return sub, rec, nil
}

// Reject records a rejection and bounces a submission in review back to
// drafting.
func (e *Engine) Reject(ctx context.Context, id uuid.UUID, gateName, reason, actor string) (models.Submission, models.ApprovalStep, error) {
	if strings.TrimSpace(reason) == "" {
		return models.Submission{}, models.ApprovalStep{}, approval.ErrReasonRequired
	}
	gate, ok := models.ParseGate(gateName)
	if !ok {
		return models.Submission{}, models.ApprovalStep{}, fmt.Errorf("%w: unknown gate %q", approval.ErrOutOfOrder, gateName)
	}
	var rec models.ApprovalStep
	sub, err := e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		st, err := approval.Reject(s, gate, reason, actor, e.opts.Now())
		if err != nil {
			return nil, nil, err
		}
		rec = st
		var events []models.StageEvent
		if s.Stage == models.StageReview {
			s.Stage = models.StageDrafting
			events = append(events, stageEvent(s.ID, models.StageReview, models.StageDrafting, actor, false, e.opts.Now()))
		}
		return events, []models.ApprovalStep{st}, nil
	})
	if err != nil {
		return sub, models.ApprovalStep{}, err
	}
	log.Printf("[pipeline] submission %s: %s rejected by %s: %s", id, gate, actor, rec.Reason)
	return sub, rec, nil
}

// Reopen returns a rejected submission to draft so its gates can be retried.
func (e *Engine) Reopen(ctx context.Context, id uuid.UUID, actor string) (models.Submission, error) {
	return e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		return nil, nil, approval.Reopen(s)
	})
}

// Cancel withdraws an unsubmitted submission.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (models.Submission, error) {
	return e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		if s.Closed() {
			return nil, nil, fmt.Errorf("%w: status is %s", ErrSubmissionClosed, s.Status)
		}
		s.Status = models.SubmissionCancelled
		msg := "cancelled by " + actor
		if reason = strings.TrimSpace(reason); reason != "" {
			msg += ": " + reason
		}
		s.Notices = append(s.Notices, models.Notice{Kind: "cancelled", Message: msg, At: e.opts.Now().UTC()})
		return nil, nil, nil
	})
}

// Disqualify marks the opportunity disqualified and cancels its active
// submission unless that submission was already filed.
func (e *Engine) Disqualify(ctx context.Context, opportunityID uuid.UUID, reason, actor string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return approval.ErrReasonRequired
	}
	unlockOpp := e.locks.Lock(oppKey(opportunityID))
	defer unlockOpp()

	if err := e.store.SetOpportunityStatus(ctx, opportunityID, models.OpportunityDisqualified, reason); err != nil {
		return err
	}
	sub, err := e.store.ActiveSubmission(ctx, opportunityID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if sub.Closed() {
		return nil
	}
	_, err = e.Cancel(ctx, sub.ID, "opportunity disqualified: "+reason, actor)
	return err
}

// UpdateTask toggles a user-managed checklist task.
func (e *Engine) UpdateTask(ctx context.Context, id, taskID uuid.UUID, completed bool, actor string) (models.Submission, error) {
	return e.mutate(ctx, id, func(s *models.Submission) ([]models.StageEvent, []models.ApprovalStep, error) {
		for i := range s.Tasks {
			t := &s.Tasks[i]
			if t.ID != taskID {
				continue
			}
			if t.Locked {
				return nil, nil, fmt.Errorf("%w: %s", ErrTaskLocked, t.Title)
			}
			t.Completed = completed
			if completed {
				at := e.opts.Now().UTC()
				t.CompletedBy, t.CompletedAt = actor, &at
			} else {
				t.CompletedBy, t.CompletedAt = "", nil
			}
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	})
}
