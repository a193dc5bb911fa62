package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/david/govcapture/internal/approval"
	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/followup"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

type fakeGenerator struct {
	err   error
	calls atomic.Int32
}

func (g *fakeGenerator) Generate(ctx context.Context, opp models.Opportunity, sub models.Submission) (collab.Proposal, error) {
	g.calls.Add(1)
	if g.err != nil {
		return collab.Proposal{}, g.err
	}
	return collab.Proposal{Sections: map[string]string{"executive_summary": "We deliver " + opp.Title}}, nil
}

type fakePortal struct {
	err   error
	calls atomic.Int32
}

func (p *fakePortal) Submit(ctx context.Context, req collab.SubmitRequest) (collab.Receipt, error) {
	p.calls.Add(1)
	if p.err != nil {
		return collab.Receipt{}, p.err
	}
	if req.DryRun {
		return collab.Receipt{Status: "VALIDATED", Steps: []string{"login", "validate"}}, nil
	}
	return collab.Receipt{ReceiptID: "RCPT-1", ConfirmationNumber: "C-42", Status: "Submitted", Steps: []string{"login", "upload", "submit"}}, nil
}

type harness struct {
	store  *db.MemoryStore
	vault  *audit.Vault
	config *autonomy.Manager
	gen    *fakeGenerator
	portal *fakePortal
	engine *Engine
}

var testConfig = autonomy.Config{Mode: autonomy.ModeAutonomous, FitThreshold: 70, AutoThreshold: 85, MaxAutoValue: 500000}

func newHarness(t *testing.T, cfg autonomy.Config) *harness {
	t.Helper()
	h := &harness{
		store:  db.NewMemoryStore(),
		config: autonomy.NewManager(nil, cfg),
		gen:    &fakeGenerator{},
		portal: &fakePortal{},
	}
	h.vault = audit.NewVault(h.store, []byte("test-key"))
	sched := followup.NewScheduler(h.store, nil, h.vault, h.store, followup.Options{})
	h.engine = New(h.store, h.vault, h.config, Options{
		Generator:    h.gen,
		Portal:       h.portal,
		FollowUps:    sched,
		DefaultOwner: "capture-team",
	})
	return h
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}

func (h *harness) opportunity(t *testing.T, fit *int, value *float64) models.Opportunity {
	t.Helper()
	opp := models.Opportunity{Title: "Cloud migration", Source: "sam", FitScore: fit, EstimatedValue: value}
	if err := h.store.InsertOpportunity(context.Background(), &opp); err != nil {
		t.Fatal(err)
	}
	return opp
}

// inReview drives a fresh opportunity through autonomous drafting and
// generation.
func (h *harness) inReview(t *testing.T) models.Submission {
	t.Helper()
	opp := h.opportunity(t, intPtr(90), floatPtr(300000))
	out, err := h.engine.OnScoreUpdated(context.Background(), opp.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if out.Submission == nil || out.Submission.Stage != models.StageReview {
		t.Fatalf("expected submission in review, got %+v", out)
	}
	return *out.Submission
}

func (h *harness) approveAll(t *testing.T, id uuid.UUID) models.Submission {
	t.Helper()
	var sub models.Submission
	for _, gate := range []string{"legal_review", "finance_review", "executive_approval"} {
		var err error
		sub, _, err = h.engine.Approve(context.Background(), id, gate, "approver")
		if err != nil {
			t.Fatalf("approve %s: %v", gate, err)
		}
	}
	return sub
}

func TestAutonomyOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		cfg       autonomy.Config
		fit       *int
		value     *float64
		action    autonomy.Action
		wantStage models.Stage
	}{
		{"autonomous within limits", testConfig, intPtr(90), floatPtr(300000), autonomy.ActionDraftAndGenerate, models.StageReview},
		{"autonomous over value", testConfig, intPtr(90), floatPtr(900000), autonomy.ActionDraft, models.StageDrafting},
		{"autonomous below auto threshold", testConfig, intPtr(80), floatPtr(1000), autonomy.ActionDraft, models.StageDrafting},
		{"autonomous below fit", testConfig, intPtr(60), floatPtr(1000), autonomy.ActionNone, ""},
		{"supervised drafts", autonomy.Config{Mode: autonomy.ModeSupervised, FitThreshold: 70, AutoThreshold: 85, MaxAutoValue: 500000}, intPtr(95), floatPtr(1000), autonomy.ActionDraft, models.StageDrafting},
		{"supervised below fit", autonomy.Config{Mode: autonomy.ModeSupervised, FitThreshold: 70, AutoThreshold: 85, MaxAutoValue: 500000}, intPtr(60), nil, autonomy.ActionNone, ""},
		{"manual never acts", autonomy.Config{Mode: autonomy.ModeManual, FitThreshold: 70, AutoThreshold: 85, MaxAutoValue: 500000}, intPtr(99), floatPtr(1000), autonomy.ActionNone, ""},
		{"missing score defers", testConfig, nil, floatPtr(1000), autonomy.ActionDefer, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			opp := h.opportunity(t, tt.fit, tt.value)
			out, err := h.engine.OnScoreUpdated(context.Background(), opp.ID, "system")
			if err != nil {
				t.Fatal(err)
			}
			if out.Decision.Action != tt.action {
				t.Fatalf("expected %s, got %s (%s)", tt.action, out.Decision.Action, out.Decision.Reason)
			}
			active, err := h.store.ActiveSubmission(context.Background(), opp.ID)
			if tt.wantStage == "" {
				if !errors.Is(err, db.ErrNotFound) {
					t.Fatalf("expected no submission, got %+v (%v)", active, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if active.Stage != tt.wantStage {
				t.Fatalf("expected stage %s, got %s", tt.wantStage, active.Stage)
			}
		})
	}
}

func TestAutonomousDraftLogsEveryStep(t *testing.T) {
	h := newHarness(t, testConfig)
	sub := h.inReview(t)

	events, err := h.store.StageEvents(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Stage{models.StageDiscovered, models.StageQualified, models.StageDrafting, models.StageReview}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.To != want[i] || !ev.Automated {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
	if sub.Status != models.SubmissionPendingApproval || sub.ProposalSections["executive_summary"] == "" {
		t.Fatalf("unexpected review submission %+v", sub)
	}
}

func TestRepeatedScoringKeepsSingleSubmission(t *testing.T) {
	h := newHarness(t, testConfig)
	opp := h.opportunity(t, intPtr(90), floatPtr(900000))
	ctx := context.Background()

	first, err := h.engine.OnScoreUpdated(ctx, opp.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.engine.OnScoreUpdated(ctx, opp.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || second.Created || first.Submission.ID != second.Submission.ID {
		t.Fatalf("expected one submission, got %v / %v", first.Submission.ID, second.Submission.ID)
	}
}

func TestAdvanceRejectsSkipsAndSubmittedTarget(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	opp := h.opportunity(t, nil, nil)
	sub, err := h.engine.Pursue(ctx, opp.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Stage != models.StageQualified {
		t.Fatalf("expected qualified, got %s", sub.Stage)
	}

	if _, err := h.engine.Advance(ctx, sub.ID, models.StageReview, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on skip, got %v", err)
	}
	if _, err := h.engine.Advance(ctx, sub.ID, models.StageSubmitted, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for submitted, got %v", err)
	}
	if _, err := h.engine.Advance(ctx, sub.ID, models.StageDiscovered, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition moving backward, got %v", err)
	}
	got, _ := h.store.GetSubmission(ctx, sub.ID)
	if got.Stage != models.StageQualified {
		t.Fatalf("failed advance changed stage to %s", got.Stage)
	}

	got, err = h.engine.Advance(ctx, sub.ID, models.StageDrafting, "alice")
	if err != nil || got.Stage != models.StageDrafting {
		t.Fatalf("advance to drafting: %v %s", err, got.Stage)
	}
}

func TestRejectionBouncesAndReviewResetsGates(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)

	if _, _, err := h.engine.Approve(ctx, sub.ID, "legal_review", "lee"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.engine.Reject(ctx, sub.ID, "finance_review", "  ", "fay"); !errors.Is(err, approval.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	rejected, step, err := h.engine.Reject(ctx, sub.ID, "finance_review", "pricing too aggressive", "fay")
	if err != nil {
		t.Fatal(err)
	}
	if step.Outcome != models.DecisionRejected || rejected.Stage != models.StageDrafting || rejected.Status != models.SubmissionRejected {
		t.Fatalf("unexpected rejection state: %+v", rejected)
	}

	back, err := h.engine.Advance(ctx, sub.ID, models.StageReview, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if back.ApprovalStatus != models.ApprovalPending || back.Status != models.SubmissionPendingApproval {
		t.Fatalf("expected fresh approval cycle, got %s/%s", back.ApprovalStatus, back.Status)
	}
	if _, _, err := h.engine.Approve(ctx, sub.ID, "finance_review", "fay"); !errors.Is(err, approval.ErrOutOfOrder) {
		t.Fatalf("expected legal to be required again, got %v", err)
	}

	steps, _ := h.store.ApprovalSteps(ctx, sub.ID)
	if len(steps) != 2 {
		t.Fatalf("expected approval history to keep 2 steps, got %d", len(steps))
	}
}

func TestSubmitRequiresCompleteApproval(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)
	h.engine.Approve(ctx, sub.ID, "legal_review", "lee")

	if _, err := h.engine.Submit(ctx, sub.ID, "alice", false); !errors.Is(err, approval.ErrApprovalIncomplete) {
		t.Fatalf("expected ErrApprovalIncomplete, got %v", err)
	}
	if h.portal.calls.Load() != 0 {
		t.Fatal("portal must not be called without approval")
	}
}

func TestSubmitMovesToTrackingWithLedgerAndFollowUp(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)
	h.approveAll(t, sub.ID)

	res, err := h.engine.Submit(ctx, sub.ID, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Submission.Stage != models.StageTracking || res.Submission.Status != models.SubmissionSubmitted {
		t.Fatalf("unexpected final state %s/%s", res.Submission.Stage, res.Submission.Status)
	}
	if res.Submission.ReceiptID != "RCPT-1" || res.Submission.SubmittedAt == nil {
		t.Fatalf("receipt not recorded: %+v", res.Submission)
	}
	if res.AuditEntry.Action != audit.ActionSubmit || res.AuditEntry.Status != models.AuditStatusConfirmed {
		t.Fatalf("unexpected ledger entry %+v", res.AuditEntry)
	}
	verdict, err := h.vault.Verify(ctx, res.AuditEntry.ID)
	if err != nil || !verdict.Valid {
		t.Fatalf("ledger entry does not verify: %+v %v", verdict, err)
	}
	if res.FollowUp == nil || res.FollowUp.LastStatusFound != "Submitted" {
		t.Fatalf("expected follow-up with portal baseline, got %+v", res.FollowUp)
	}

	if _, err := h.engine.Submit(ctx, sub.ID, "alice", false); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("expected second submit to fail closed, got %v", err)
	}
	if h.portal.calls.Load() != 1 {
		t.Fatalf("portal called %d times", h.portal.calls.Load())
	}
	opp, _ := h.store.GetOpportunity(ctx, sub.OpportunityID)
	if opp.Status != models.OpportunitySubmitted {
		t.Fatalf("opportunity status %s", opp.Status)
	}
}

func TestDryRunChangesNothingButLedger(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)
	approved := h.approveAll(t, sub.ID)

	res, err := h.engine.Submit(ctx, sub.ID, "alice", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || res.AuditEntry.Action != audit.ActionDryRun || res.AuditEntry.Status != "VALIDATED" {
		t.Fatalf("unexpected dry-run result %+v", res.AuditEntry)
	}
	after, _ := h.store.GetSubmission(ctx, sub.ID)
	if after.Stage != models.StageReview || after.Version != approved.Version {
		t.Fatalf("dry run mutated the submission: %s v%d", after.Stage, after.Version)
	}
	if _, err := h.store.FollowUpForSubmission(ctx, sub.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatal("dry run registered a follow-up")
	}
}

func TestPortalFailureLeavesStateAndRecordsFailure(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)
	h.approveAll(t, sub.ID)
	h.portal.err = errors.New("captcha wall")

	_, err := h.engine.Submit(ctx, sub.ID, "alice", false)
	if !errors.Is(err, collab.ErrExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
	after, _ := h.store.GetSubmission(ctx, sub.ID)
	if after.Stage != models.StageReview || after.Status != models.SubmissionApproved {
		t.Fatalf("failure changed state: %s/%s", after.Stage, after.Status)
	}
	if len(after.Notices) == 0 || after.Notices[len(after.Notices)-1].Kind != "submit_failed" {
		t.Fatalf("expected submit_failed notice, got %+v", after.Notices)
	}
	entries, _ := h.vault.List(ctx, models.AuditFilter{SubmissionID: &sub.ID})
	if len(entries) != 1 || entries[0].Status != models.AuditStatusFailed {
		t.Fatalf("expected one FAILED ledger entry, got %+v", entries)
	}
}

func TestGenerationFailureStaysInDrafting(t *testing.T) {
	h := newHarness(t, testConfig)
	h.gen.err = errors.New("model offline")
	opp := h.opportunity(t, intPtr(90), floatPtr(300000))

	out, err := h.engine.OnScoreUpdated(context.Background(), opp.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if out.GenerationError == "" {
		t.Fatal("expected generation error to be reported")
	}
	if out.Submission.Stage != models.StageDrafting {
		t.Fatalf("expected drafting, got %s", out.Submission.Stage)
	}
	after, _ := h.store.GetSubmission(context.Background(), out.Submission.ID)
	if len(after.Notices) != 1 || after.Notices[0].Kind != "generation_failed" {
		t.Fatalf("expected generation_failed notice, got %+v", after.Notices)
	}
}

func TestConcurrentApprovalsAreSerialized(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := h.engine.Approve(ctx, sub.ID, "legal_review", "lee"); err == nil {
				ok.Add(1)
			} else if !errors.Is(err, approval.ErrOutOfOrder) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("expected exactly one legal approval, got %d", ok.Load())
	}
	steps, _ := h.store.ApprovalSteps(ctx, sub.ID)
	if len(steps) != 1 {
		t.Fatalf("expected one history record, got %d", len(steps))
	}
}

func TestLockedTasksAreWorkflowOwned(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)

	var locked, open models.Task
	for _, task := range sub.Tasks {
		if task.Locked && locked.ID == uuid.Nil {
			locked = task
		}
		if !task.Locked && open.ID == uuid.Nil {
			open = task
		}
	}
	if _, err := h.engine.UpdateTask(ctx, sub.ID, locked.ID, true, "alice"); !errors.Is(err, ErrTaskLocked) {
		t.Fatalf("expected ErrTaskLocked, got %v", err)
	}
	updated, err := h.engine.UpdateTask(ctx, sub.ID, open.ID, true, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range updated.Tasks {
		if task.ID == open.ID && (!task.Completed || task.CompletedBy != "alice") {
			t.Fatalf("task not completed: %+v", task)
		}
	}
	if _, err := h.engine.UpdateTask(ctx, sub.ID, uuid.New(), true, "alice"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDisqualifyCancelsActiveSubmission(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)

	if err := h.engine.Disqualify(ctx, sub.OpportunityID, "", "alice"); !errors.Is(err, approval.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if err := h.engine.Disqualify(ctx, sub.OpportunityID, "incumbent lock-in", "alice"); err != nil {
		t.Fatal(err)
	}
	after, _ := h.store.GetSubmission(ctx, sub.ID)
	if after.Status != models.SubmissionCancelled {
		t.Fatalf("expected cancelled, got %s", after.Status)
	}
	if _, _, err := h.engine.Approve(ctx, sub.ID, "legal_review", "lee"); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("expected closed submission, got %v", err)
	}

	out, err := h.engine.OnScoreUpdated(ctx, sub.OpportunityID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if out.Submission != nil {
		t.Fatal("disqualified opportunity must not be drafted again")
	}
}

// disqualifyingConfig disqualifies the opportunity while the policy is being
// read, between the scoring read and the drafting step.
type disqualifyingConfig struct {
	snap   autonomy.Snapshot
	engine *Engine
	oppID  uuid.UUID
	err    error
}

func (c *disqualifyingConfig) Current() autonomy.Snapshot {
	c.err = c.engine.Disqualify(context.Background(), c.oppID, "out of scope", "alice")
	return c.snap
}

func TestDisqualifyDuringScoringWins(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	opp := h.opportunity(t, intPtr(75), floatPtr(100000))

	cfg := &disqualifyingConfig{snap: autonomy.Snapshot{Config: testConfig, Version: 1}, oppID: opp.ID}
	engine := New(h.store, h.vault, cfg, Options{Generator: h.gen, Portal: h.portal})
	cfg.engine = engine

	out, err := engine.OnScoreUpdated(ctx, opp.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.err != nil {
		t.Fatalf("disqualify: %v", cfg.err)
	}
	if out.Submission != nil || out.Created {
		t.Fatalf("automation drafted a disqualified opportunity: %+v", out.Submission)
	}
	after, _ := h.store.GetOpportunity(ctx, opp.ID)
	if after.Status != models.OpportunityDisqualified || after.DisqualifiedReason != "out of scope" {
		t.Fatalf("manual disqualification overwritten: %s (%q)", after.Status, after.DisqualifiedReason)
	}
	if _, err := h.store.ActiveSubmission(ctx, opp.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected no active submission, got %v", err)
	}
	if _, err := engine.Pursue(ctx, opp.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pursue to be refused, got %v", err)
	}
	if _, err := engine.QuickPursue(ctx, opp.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected quick pursue to be refused, got %v", err)
	}
}

// failingSubmitStore loses the write that records a filed submission.
type failingSubmitStore struct {
	*db.MemoryStore
}

func (s failingSubmitStore) SaveSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent, steps []models.ApprovalStep) error {
	if sub.Stage == models.StageSubmitted {
		return errors.New("connection reset")
	}
	return s.MemoryStore.SaveSubmission(ctx, sub, events, steps)
}

func TestAcceptedFilingIsLedgeredWhenStateSaveFails(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx := context.Background()
	sub := h.inReview(t)
	h.approveAll(t, sub.ID)

	engine := New(failingSubmitStore{h.store}, h.vault, h.config, Options{Portal: h.portal})
	res, err := engine.Submit(ctx, sub.ID, "alice", false)
	if err == nil {
		t.Fatal("expected the state save error")
	}
	if res.Receipt.ReceiptID != "RCPT-1" || h.portal.calls.Load() != 1 {
		t.Fatalf("unexpected receipt %q after %d portal calls", res.Receipt.ReceiptID, h.portal.calls.Load())
	}

	entries, err := h.vault.List(ctx, models.AuditFilter{SubmissionID: &sub.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Action != audit.ActionSubmit || got.Status != models.AuditStatusConfirmed || got.ReceiptID != "RCPT-1" {
		t.Fatalf("unexpected ledger entry %+v", got)
	}
	if res.AuditEntry.ID != got.ID {
		t.Fatal("result does not carry the ledger entry")
	}

	after, _ := h.store.GetSubmission(ctx, sub.ID)
	if after.Stage != models.StageReview {
		t.Fatalf("stage moved to %s", after.Stage)
	}
	if len(after.Notices) == 0 || after.Notices[len(after.Notices)-1].Kind != "reconcile_required" {
		t.Fatalf("expected reconcile_required notice, got %+v", after.Notices)
	}
}

func TestQuickPursueStopsAtReview(t *testing.T) {
	h := newHarness(t, autonomy.Config{Mode: autonomy.ModeManual, FitThreshold: 70, AutoThreshold: 85, MaxAutoValue: 500000})
	opp := h.opportunity(t, nil, nil)

	sub, err := h.engine.QuickPursue(context.Background(), opp.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Stage != models.StageReview || sub.Status != models.SubmissionPendingApproval {
		t.Fatalf("unexpected state %s/%s", sub.Stage, sub.Status)
	}
	if h.portal.calls.Load() != 0 {
		t.Fatal("quick pursue must never submit")
	}
}

func TestGenerateRequiresDrafting(t *testing.T) {
	h := newHarness(t, testConfig)
	sub := h.inReview(t)
	if _, err := h.engine.Generate(context.Background(), sub.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStageOrder(t *testing.T) {
	if !ValidTransition(models.StageDrafting, models.StageReview) || ValidTransition(models.StageReview, models.StageDrafting) {
		t.Fatal("review bounce must not be a forward transition")
	}
	if !Before(models.StageQualified, models.StageTracking) || Before(models.StageTracking, models.StageTracking) {
		t.Fatal("unexpected stage order")
	}
	if _, ok := Next(models.StageTracking); ok {
		t.Fatal("tracking has no successor")
	}
}
