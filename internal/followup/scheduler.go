// Package followup re-polls portals for the status of submitted proposals on
// a bounded fixed-cadence schedule and classifies what it finds.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/lockset"
	"github.com/david/govcapture/internal/metrics"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultIntervalHours = 24
	DefaultMaxChecks     = 30
)

var (
	ErrScheduleExhausted = errors.New("follow-up schedule exhausted")
	ErrFollowUpClosed    = errors.New("follow-up is closed")
	ErrInvalidSettings   = errors.New("invalid follow-up settings")
)

type Store interface {
	CreateFollowUp(ctx context.Context, fu *models.FollowUp) error
	GetFollowUp(ctx context.Context, id uuid.UUID) (models.FollowUp, error)
	FollowUpForSubmission(ctx context.Context, submissionID uuid.UUID) (models.FollowUp, error)
	SaveFollowUp(ctx context.Context, fu *models.FollowUp, check *models.Check) error
	DueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.FollowUp, error)
	FollowUpChecks(ctx context.Context, followUpID uuid.UUID) ([]models.Check, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (models.Opportunity, error)
}

type Options struct {
	IntervalHours int
	MaxChecks     int
	Workers       int
	BatchSize     int
	Timeout       time.Duration
	Now           func() time.Time
}

type Scheduler struct {
	store    Store
	lookup   collab.StatusLookup
	vault    *audit.Vault
	notifier collab.Notifier
	locks    *lockset.Set
	opts     Options
}

func NewScheduler(store Store, lookup collab.StatusLookup, vault *audit.Vault, notifier collab.Notifier, opts Options) *Scheduler {
	if opts.IntervalHours <= 0 {
		opts.IntervalHours = DefaultIntervalHours
	}
	if opts.MaxChecks <= 0 {
		opts.MaxChecks = DefaultMaxChecks
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{store: store, lookup: lookup, vault: vault, notifier: notifier, locks: lockset.New(), opts: opts}
}

// ScheduleNext returns when fu should next be checked automatically, or nil
// when it is parked, finished or out of checks.
func ScheduleNext(fu models.FollowUp, now time.Time) *time.Time {
	if !fu.AutoCheck || fu.Status.Terminal() || fu.ChecksPerformed >= fu.MaxChecks {
		return nil
	}
	hours := fu.CheckIntervalHours
	if hours <= 0 {
		hours = DefaultIntervalHours
	}
	next := now.UTC().Add(time.Duration(hours) * time.Hour)
	return &next
}

// Register creates the follow-up for a submitted submission. Registering the
// same submission twice returns the existing follow-up.
func (s *Scheduler) Register(ctx context.Context, sub models.Submission, baseline string) (models.FollowUp, error) {
	unlock := s.locks.Lock("sub:" + sub.ID.String())
	defer unlock()

	existing, err := s.store.FollowUpForSubmission(ctx, sub.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return models.FollowUp{}, err
	}

	fu := models.FollowUp{
		ID:                 uuid.New(),
		SubmissionID:       sub.ID,
		OpportunityID:      sub.OpportunityID,
		CheckType:          models.CheckTypeAutomated,
		Status:             models.FollowUpPending,
		AutoCheck:          true,
		MaxChecks:          s.opts.MaxChecks,
		CheckIntervalHours: s.opts.IntervalHours,
		LastStatusFound:    baseline,
		AssignedTo:         sub.OwnerID,
	}
	fu.NextCheckAt = ScheduleNext(fu, s.opts.Now())
	if err := s.store.CreateFollowUp(ctx, &fu); err != nil {
		return models.FollowUp{}, fmt.Errorf("create follow-up for %s: %w", sub.ID, err)
	}
	log.Printf("[followup] registered %s for submission %s, first check at %s", fu.ID, sub.ID, fu.NextCheckAt.Format(time.RFC3339))
	return fu, nil
}

func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (models.FollowUp, error) {
	return s.store.GetFollowUp(ctx, id)
}

func (s *Scheduler) Checks(ctx context.Context, id uuid.UUID) ([]models.Check, error) {
	return s.store.FollowUpChecks(ctx, id)
}

// Result is the outcome of one CheckNow.
type Result struct {
	FollowUp  models.FollowUp `json:"follow_up"`
	Check     models.Check    `json:"check"`
	Exhausted bool            `json:"schedule_exhausted"`
}

// CheckNow performs one status lookup. Every successful lookup appends
// exactly one Check and increments checks_performed by one. A failed lookup
// changes neither status nor counters; only next_check_at moves on to the
// next cadence slot.
//
// Checks of the same follow-up run one at a time, but the follow-up itself
// is only locked around reads and writes, not across the lookup. Cancel and
// settings changes that land during a lookup win: the result is applied to
// the follow-up as it is after the lookup, or dropped when it has closed.
func (s *Scheduler) CheckNow(ctx context.Context, id uuid.UUID, checkType string) (Result, error) {
	unlockCheck := s.locks.Lock("check:" + id.String())
	defer unlockCheck()

	fu, sub, opp, err := s.prepareCheck(ctx, id)
	if err != nil {
		return Result{FollowUp: fu, Exhausted: errors.Is(err, ErrScheduleExhausted)}, err
	}

	var found collab.PortalStatus
	lookupErr := collab.Call(ctx, s.opts.Timeout, "status_lookup", "check_status", func(ctx context.Context) error {
		var lErr error
		found, lErr = s.lookup.CheckStatus(ctx, sub, opp)
		return lErr
	})
	now := s.opts.Now().UTC()

	unlock := s.locks.Lock("fu:" + id.String())
	fu, err = s.checkable(ctx, id)
	if lookupErr != nil {
		defer unlock()
		metrics.ExternalFailures.WithLabelValues("status_lookup").Inc()
		log.Printf("[followup] status lookup failed for %s (submission %s): %v", id, sub.ID, lookupErr)
		if err == nil {
			fu.NextCheckAt = ScheduleNext(fu, now)
			if err := s.store.SaveFollowUp(ctx, &fu, nil); err != nil {
				log.Printf("[followup] could not reschedule %s: %v", fu.ID, err)
			}
		}
		return Result{FollowUp: fu}, lookupErr
	}
	if err != nil {
		unlock()
		log.Printf("[followup] dropping lookup result for %s: %v", id, err)
		return Result{FollowUp: fu, Exhausted: errors.Is(err, ErrScheduleExhausted)}, err
	}

	previous := fu.LastStatusFound
	classification := Classify(previous, found.Status)
	if checkType == "" {
		checkType = models.CheckTypeManual
	}
	check := models.Check{
		ID:              uuid.New(),
		FollowUpID:      fu.ID,
		CheckType:       checkType,
		CheckedAt:       now,
		StatusFound:     found.Status,
		ChangesDetected: normalize(found.Status) != "" && normalize(found.Status) != normalize(previous),
		Classification:  classification,
		AIAnalysis:      found.Analysis,
	}

	fu.ChecksPerformed++
	fu.LastCheckedAt = &now
	fu.Status = classification
	if normalize(found.Status) != "" {
		fu.LastStatusFound = found.Status
	}
	exhausted := !classification.Terminal() && fu.ChecksPerformed >= fu.MaxChecks
	if exhausted {
		fu.NeedsReview = true
	}
	fu.NextCheckAt = ScheduleNext(fu, now)

	err = s.store.SaveFollowUp(ctx, &fu, &check)
	unlock()
	if err != nil {
		return Result{}, fmt.Errorf("save follow-up %s: %w", fu.ID, err)
	}
	metrics.FollowUpChecks.WithLabelValues(string(classification)).Inc()
	log.Printf("[followup] %s check %d/%d: %q -> %s", fu.ID, fu.ChecksPerformed, fu.MaxChecks, found.Status, classification)

	s.record(ctx, sub, fu, check, found.Source)
	s.notifyOutcome(ctx, sub, fu, check, exhausted)

	return Result{FollowUp: fu, Check: check, Exhausted: exhausted}, nil
}

// prepareCheck loads what a lookup needs under the follow-up lock.
func (s *Scheduler) prepareCheck(ctx context.Context, id uuid.UUID) (models.FollowUp, models.Submission, models.Opportunity, error) {
	unlock := s.locks.Lock("fu:" + id.String())
	defer unlock()

	fu, err := s.checkable(ctx, id)
	if err != nil {
		return fu, models.Submission{}, models.Opportunity{}, err
	}
	if s.lookup == nil {
		return fu, models.Submission{}, models.Opportunity{}, collab.Wrap("status_lookup", "check_status", errors.New("no status lookup configured"))
	}
	sub, err := s.store.GetSubmission(ctx, fu.SubmissionID)
	if err != nil {
		return fu, models.Submission{}, models.Opportunity{}, err
	}
	opp, err := s.store.GetOpportunity(ctx, fu.OpportunityID)
	if err != nil {
		return fu, sub, models.Opportunity{}, err
	}
	return fu, sub, opp, nil
}

// checkable reads the follow-up and refuses closed or exhausted ones. The
// caller must hold the follow-up lock.
func (s *Scheduler) checkable(ctx context.Context, id uuid.UUID) (models.FollowUp, error) {
	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return models.FollowUp{}, err
	}
	if fu.Status.Terminal() {
		return fu, fmt.Errorf("%w: status is %s", ErrFollowUpClosed, fu.Status)
	}
	if fu.ChecksPerformed >= fu.MaxChecks {
		return fu, fmt.Errorf("%w: %d of %d checks used", ErrScheduleExhausted, fu.ChecksPerformed, fu.MaxChecks)
	}
	return fu, nil
}

func (s *Scheduler) record(ctx context.Context, sub models.Submission, fu models.FollowUp, check models.Check, source string) {
	if s.vault == nil {
		return
	}
	_, err := s.vault.Append(ctx, audit.Record{
		SubmissionID:  sub.ID,
		SubmissionRef: sub.Title,
		Portal:        sub.Portal,
		Action:        audit.ActionStatusCheck,
		Status:        models.AuditStatusConfirmed,
		ReceiptID:     sub.ReceiptID,
		Payload: map[string]any{
			"follow_up_id":     fu.ID,
			"check_id":         check.ID,
			"check_number":     fu.ChecksPerformed,
			"status_found":     check.StatusFound,
			"classification":   check.Classification,
			"changes_detected": check.ChangesDetected,
			"source":           source,
		},
	})
	if err != nil {
		log.Printf("[followup] audit append failed for check %s: %v", check.ID, err)
	}
}

func (s *Scheduler) notifyOutcome(ctx context.Context, sub models.Submission, fu models.FollowUp, check models.Check, exhausted bool) {
	if s.notifier == nil {
		return
	}
	var n *models.Notification
	switch {
	case check.Classification == models.FollowUpAwarded:
		n = &models.Notification{Title: "Contract awarded: " + sub.Title, Type: "award", Priority: "high"}
	case check.Classification.Terminal():
		n = &models.Notification{Title: fmt.Sprintf("Submission %s: %s", check.Classification, sub.Title), Type: "status_change", Priority: "high"}
	case check.ChangesDetected && check.Classification == models.FollowUpUpdated:
		n = &models.Notification{Title: "Status update: " + sub.Title, Type: "status_change", Priority: "normal"}
	}
	if n != nil {
		n.Body = fmt.Sprintf("Portal now reports %q.", check.StatusFound)
		s.send(ctx, fu, *n)
	}
	if exhausted {
		s.send(ctx, fu, models.Notification{
			Title:    "Follow-up needs review: " + sub.Title,
			Body:     fmt.Sprintf("All %d scheduled checks ran without a final outcome. Last status: %q.", fu.MaxChecks, fu.LastStatusFound),
			Type:     "schedule_exhausted",
			Priority: "high",
		})
	}
}

func (s *Scheduler) send(ctx context.Context, fu models.FollowUp, n models.Notification) {
	n.UserID = fu.AssignedTo
	n.EntityType = "follow_up"
	n.EntityID = fu.ID
	n.CreatedAt = s.opts.Now().UTC()
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("[followup] notification for %s failed: %v", fu.ID, err)
	}
}

// Cancel stops all future checks. History is kept.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (models.FollowUp, error) {
	unlock := s.locks.Lock("fu:" + id.String())
	defer unlock()

	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return models.FollowUp{}, err
	}
	if fu.Status == models.FollowUpCancelled {
		return fu, nil
	}
	if fu.Status.Terminal() {
		return fu, fmt.Errorf("%w: status is %s", ErrFollowUpClosed, fu.Status)
	}
	fu.Status = models.FollowUpCancelled
	fu.NextCheckAt = nil
	if err := s.store.SaveFollowUp(ctx, &fu, nil); err != nil {
		return models.FollowUp{}, err
	}
	log.Printf("[followup] %s cancelled", fu.ID)
	return fu, nil
}

// Settings is a partial update; nil fields are left as they are.
type Settings struct {
	AutoCheck          *bool   `json:"auto_check"`
	CheckIntervalHours *int    `json:"check_interval_hours"`
	MaxChecks          *int    `json:"max_checks"`
	AssignedTo         *string `json:"assigned_to"`
}

func (s *Scheduler) UpdateSettings(ctx context.Context, id uuid.UUID, in Settings) (models.FollowUp, error) {
	unlock := s.locks.Lock("fu:" + id.String())
	defer unlock()

	fu, err := s.store.GetFollowUp(ctx, id)
	if err != nil {
		return models.FollowUp{}, err
	}
	if fu.Status.Terminal() {
		return fu, fmt.Errorf("%w: status is %s", ErrFollowUpClosed, fu.Status)
	}
	if in.CheckIntervalHours != nil {
		if *in.CheckIntervalHours < 1 || *in.CheckIntervalHours > 24*30 {
			return fu, fmt.Errorf("%w: check_interval_hours must be between 1 and 720", ErrInvalidSettings)
		}
		fu.CheckIntervalHours = *in.CheckIntervalHours
	}
	if in.MaxChecks != nil {
		if *in.MaxChecks < 1 || *in.MaxChecks < fu.ChecksPerformed {
			return fu, fmt.Errorf("%w: max_checks must be at least 1 and not below checks already performed (%d)", ErrInvalidSettings, fu.ChecksPerformed)
		}
		fu.MaxChecks = *in.MaxChecks
		if fu.ChecksPerformed < fu.MaxChecks {
			fu.NeedsReview = false
		}
	}
	if in.AutoCheck != nil {
		fu.AutoCheck = *in.AutoCheck
	}
	if in.AssignedTo != nil {
		fu.AssignedTo = *in.AssignedTo
	}
	fu.NextCheckAt = ScheduleNext(fu, s.opts.Now())
	if err := s.store.SaveFollowUp(ctx, &fu, nil); err != nil {
		return models.FollowUp{}, err
	}
	return fu, nil
}

// RunSummary counts what one RunDue pass did.
type RunSummary struct {
	Due       int `json:"due"`
	Checked   int `json:"checked"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Terminal  int `json:"terminal"`
}

// RunDue checks every follow-up whose next_check_at has passed, with at most
// Workers lookups in flight. Individual failures are logged and counted.
func (s *Scheduler) RunDue(ctx context.Context) (RunSummary, error) {
	due, err := s.store.DueFollowUps(ctx, s.opts.Now(), s.opts.BatchSize)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list due follow-ups: %w", err)
	}
	summary := RunSummary{Due: len(due)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, fu := range due {
		id := fu.ID
		g.Go(func() error {
			res, err := s.CheckNow(gctx, id, models.CheckTypeAutomated)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
			default:
				summary.Checked++
				if res.Exhausted {
					summary.Exhausted++
				}
				if res.FollowUp.Status.Terminal() {
					summary.Terminal++
				}
			}
			return nil
		})
	}
	err = g.Wait()
	return summary, err
}

// Start runs RunDue every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	log.Printf("[followup] scheduler started (tick %s, %d workers)", tick, s.opts.Workers)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[followup] scheduler stopped")
			return
		case <-ticker.C:
			summary, err := s.RunDue(ctx)
			if err != nil {
				log.Printf("[followup] run failed: %v", err)
				continue
			}
			if summary.Due > 0 {
				log.Printf("[followup] run: due=%d checked=%d failed=%d exhausted=%d terminal=%d",
					summary.Due, summary.Checked, summary.Failed, summary.Exhausted, summary.Terminal)
			}
		}
	}
}
