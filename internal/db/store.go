package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// auditLockKey serializes ledger appends across every connection.
const auditLockKey int64 = 0x61756469745f6c67

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, u.ID, u.Email, u.PasswordHash, u.Role).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user failed: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at FROM users WHERE lower(email) = lower($1)
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return models.User{}, notFound(err, "user "+email)
	}
	return u, nil
}

// Opportunities

const opportunityCols = `id, external_ref, source, title, agency, description, naics_code, psc_code,
	set_aside, posted_date, due_date, estimated_value, fit_score, effort_score, urgency_score,
	ai_summary, status, disqualified_reason, created_at, updated_at`

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	err := scan(
		&o.ID, &o.ExternalRef, &o.Source, &o.Title, &o.Agency, &o.Description, &o.NAICSCode, &o.PSCCode,
		&o.SetAside, &o.PostedDate, &o.DueDate, &o.EstimatedValue, &o.FitScore, &o.EffortScore, &o.UrgencyScore,
		&o.AISummary, &o.Status, &o.DisqualifiedReason, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (s *Store) InsertOpportunity(ctx context.Context, o *models.Opportunity) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.OpportunityNew
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO opportunities (id, external_ref, source, title, agency, description, naics_code, psc_code,
			set_aside, posted_date, due_date, estimated_value, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, o.ID, o.ExternalRef, o.Source, o.Title, o.Agency, o.Description, o.NAICSCode, o.PSCCode,
		o.SetAside, o.PostedDate, o.DueDate, o.EstimatedValue, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("opportunity %s/%s: %w", o.Source, o.ExternalRef, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert opportunity failed: %w", err)
	}
	return nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+opportunityCols+" FROM opportunities WHERE id = $1", id)
	o, err := scanOpportunity(row.Scan)
	if err != nil {
		return models.Opportunity{}, notFound(err, "opportunity "+id.String())
	}
	return o, nil
}

func (s *Store) ListOpportunities(ctx context.Context, status models.OpportunityStatus, limit int) ([]models.Opportunity, error) {
	sql, args := buildListQuery("SELECT "+opportunityCols+" FROM opportunities", "status", string(status), "created_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

func (s *Store) UpdateOpportunityScores(ctx context.Context, id uuid.UUID, sc models.Scores) (models.Opportunity, error) {
	var embedding any
	if len(sc.Embedding) > 0 {
		v := pgvector.NewVector(sc.Embedding)
		embedding = &v
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE opportunities SET
			fit_score = $2, effort_score = $3, urgency_score = $4, ai_summary = $5,
			embedding = COALESCE($6, embedding),
			status = CASE WHEN status = 'new' THEN 'reviewing' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+opportunityCols,
		id, sc.FitScore, sc.EffortScore, sc.UrgencyScore, sc.Summary, embedding)
	o, err := scanOpportunity(row.Scan)
	if err != nil {
		return models.Opportunity{}, notFound(err, "opportunity "+id.String())
	}
	return o, nil
}

func (s *Store) SetOpportunityStatus(ctx context.Context, id uuid.UUID, status models.OpportunityStatus, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = $2, disqualified_reason = $3, updated_at = NOW() WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("update opportunity status failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	return nil
}

// SimilarOpportunities orders scored opportunities by cosine distance to id's
// summary embedding.
func (s *Store) SimilarOpportunities(ctx context.Context, id uuid.UUID, limit int) ([]models.Opportunity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixCols("o", opportunityCols)+`
		FROM opportunities o, opportunities base
		WHERE base.id = $1 AND base.embedding IS NOT NULL
		  AND o.id <> base.id AND o.embedding IS NOT NULL
		ORDER BY o.embedding <=> base.embedding
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Submissions

const submissionCols = `id, opportunity_id, owner_id, title, portal, due_date, pipeline_stage, status,
	approval_status, gates, tasks, files, proposal_sections, notices, receipt_id, submitted_at,
	version, created_at, updated_at`

func scanSubmission(scan func(dest ...any) error) (models.Submission, error) {
	var sub models.Submission
	var gates, tasks, files, sections, notices []byte
	err := scan(
		&sub.ID, &sub.OpportunityID, &sub.OwnerID, &sub.Title, &sub.Portal, &sub.DueDate, &sub.Stage, &sub.Status,
		&sub.ApprovalStatus, &gates, &tasks, &files, &sections, &notices, &sub.ReceiptID, &sub.SubmittedAt,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return sub, err
	}
	for _, part := range []struct {
		raw []byte
		dst any
	}{
		{gates, &sub.Gates},
		{tasks, &sub.Tasks},
		{files, &sub.Files},
		{sections, &sub.ProposalSections},
		{notices, &sub.Notices},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return sub, fmt.Errorf("decode submission %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

type submissionJSON struct {
	gates, tasks, files, sections, notices []byte
}

func encodeSubmission(sub *models.Submission) (submissionJSON, error) {
	var out submissionJSON
	var err error
	if out.gates, err = json.Marshal(sub.Gates); err != nil {
		return out, err
	}
	if out.tasks, err = json.Marshal(nonNil(sub.Tasks)); err != nil {
		return out, err
	}
	if out.files, err = json.Marshal(nonNil(sub.Files)); err != nil {
		return out, err
	}
	sections := sub.ProposalSections
	if sections == nil {
		sections = map[string]string{}
	}
	if out.sections, err = json.Marshal(sections); err != nil {
		return out, err
	}
	out.notices, err = json.Marshal(nonNil(sub.Notices))
	return out, err
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Store) CreateSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	enc, err := encodeSubmission(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO submissions (id, opportunity_id, owner_id, title, portal, due_date, pipeline_stage, status,
			approval_status, gates, tasks, files, proposal_sections, notices, receipt_id, submitted_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)
		RETURNING version, created_at, updated_at
	`, sub.ID, sub.OpportunityID, sub.OwnerID, sub.Title, sub.Portal, sub.DueDate, sub.Stage, sub.Status,
		sub.ApprovalStatus, enc.gates, enc.tasks, enc.files, enc.sections, enc.notices, sub.ReceiptID, sub.SubmittedAt,
	).Scan(&sub.Version, &sub.CreatedAt, &sub.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("active submission for opportunity %s: %w", sub.OpportunityID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert submission failed: %w", err)
	}
	if err := insertStageEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+submissionCols+" FROM submissions WHERE id = $1", id)
	sub, err := scanSubmission(row.Scan)
	if err != nil {
		return models.Submission{}, notFound(err, "submission "+id.String())
	}
	return sub, nil
}

func (s *Store) ActiveSubmission(ctx context.Context, opportunityID uuid.UUID) (models.Submission, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+submissionCols+" FROM submissions WHERE opportunity_id = $1 AND status <> 'cancelled'", opportunityID)
	sub, err := scanSubmission(row.Scan)
	if err != nil {
		return models.Submission{}, notFound(err, "active submission for opportunity "+opportunityID.String())
	}
	return sub, nil
}

// SaveSubmission is an optimistic write: it only applies when the stored
// version still equals sub.Version.
func (s *Store) SaveSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent, steps []models.ApprovalStep) error {
	enc, err := encodeSubmission(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE submissions SET
			owner_id = $3, title = $4, portal = $5, due_date = $6, pipeline_stage = $7, status = $8,
			approval_status = $9, gates = $10, tasks = $11, files = $12, proposal_sections = $13,
			notices = $14, receipt_id = $15, submitted_at = $16,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, sub.ID, sub.Version, sub.OwnerID, sub.Title, sub.Portal, sub.DueDate, sub.Stage, sub.Status,
		sub.ApprovalStatus, enc.gates, enc.tasks, enc.files, enc.sections,
		enc.notices, sub.ReceiptID, sub.SubmittedAt,
	).Scan(&sub.Version, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("submission %s version %d is stale or missing: %w", sub.ID, sub.Version, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update submission failed: %w", err)
	}
	if err := insertStageEvents(ctx, tx, events); err != nil {
		return err
	}
	for _, st := range steps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO approval_steps (id, submission_id, step, outcome, actor, reason, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, st.ID, st.SubmissionID, st.Gate, st.Outcome, st.Actor, st.Reason, st.At); err != nil {
			return fmt.Errorf("insert approval step failed: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func insertStageEvents(ctx context.Context, tx pgx.Tx, events []models.StageEvent) error {
	for _, ev := range events {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stage_events (id, submission_id, from_stage, to_stage, actor, automated, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ev.ID, ev.SubmissionID, ev.From, ev.To, ev.Actor, ev.Automated, ev.At); err != nil {
			return fmt.Errorf("insert stage event failed: %w", err)
		}
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, stage models.Stage, limit int) ([]models.Submission, error) {
	sql, args := buildListQuery("SELECT "+submissionCols+" FROM submissions", "pipeline_stage", string(stage), "updated_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	subs := []models.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) StageEvents(ctx context.Context, submissionID uuid.UUID) ([]models.StageEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, from_stage, to_stage, actor, automated, occurred_at
		FROM stage_events WHERE submission_id = $1 ORDER BY occurred_at, id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	events := []models.StageEvent{}
	for rows.Next() {
		var ev models.StageEvent
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.From, &ev.To, &ev.Actor, &ev.Automated, &ev.At); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) ApprovalSteps(ctx context.Context, submissionID uuid.UUID) ([]models.ApprovalStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, step, outcome, actor, reason, decided_at
		FROM approval_steps WHERE submission_id = $1 ORDER BY decided_at, id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	steps := []models.ApprovalStep{}
	for rows.Next() {
		var st models.ApprovalStep
		if err := rows.Scan(&st.ID, &st.SubmissionID, &st.Gate, &st.Outcome, &st.Actor, &st.Reason, &st.At); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Audit ledger

const auditCols = `id, seq, submission_id, submission_ref, logged_at, portal, action, status,
	receipt_id, payload, prev_hash, hash_alg, confirmation_hash`

func scanAudit(scan func(dest ...any) error) (models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	var payload string
	err := scan(&e.ID, &e.Seq, &e.SubmissionID, &e.SubmissionRef, &e.Timestamp, &e.Portal, &e.Action, &e.Status,
		&e.ReceiptID, &payload, &e.PrevHash, &e.HashAlg, &e.ConfirmationHash)
	e.Payload = json.RawMessage(payload)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}

// AppendAudit takes a transaction-scoped advisory lock so that reading the
// ledger head and inserting the next entry cannot interleave with another
// append.
func (s *Store) AppendAudit(ctx context.Context, build func(prev *models.AuditLogEntry) (models.AuditLogEntry, error)) (models.AuditLogEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", auditLockKey); err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("ledger lock failed: %w", err)
	}

	var prev *models.AuditLogEntry
	head, err := scanAudit(tx.QueryRow(ctx, "SELECT "+auditCols+" FROM audit_log ORDER BY seq DESC LIMIT 1").Scan)
	switch {
	case err == nil:
		prev = &head
	case !errors.Is(err, pgx.ErrNoRows):
		return models.AuditLogEntry{}, fmt.Errorf("read ledger head failed: %w", err)
	}

	e, err := build(prev)
	if err != nil {
		return models.AuditLogEntry{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_log (`+auditCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.Seq, e.SubmissionID, e.SubmissionRef, e.Timestamp, e.Portal, e.Action, e.Status,
		e.ReceiptID, string(e.Payload), e.PrevHash, e.HashAlg, e.ConfirmationHash); err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("insert audit entry failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("commit audit entry failed: %w", err)
	}
	return e, nil
}

func (s *Store) GetAudit(ctx context.Context, id uuid.UUID) (models.AuditLogEntry, error) {
	e, err := scanAudit(s.pool.QueryRow(ctx, "SELECT "+auditCols+" FROM audit_log WHERE id = $1", id).Scan)
	if err != nil {
		return models.AuditLogEntry{}, notFound(err, "audit entry "+id.String())
	}
	return e, nil
}

func (s *Store) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	sql, args := buildAuditQuery(f)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		e, err := scanAudit(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func buildAuditQuery(f models.AuditFilter) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if f.SubmissionID != nil {
		where += fmt.Sprintf(" AND submission_id = $%d", argIdx)
		args = append(args, *f.SubmissionID)
		argIdx++
	}
	if f.Portal != "" {
		where += fmt.Sprintf(" AND portal = $%d", argIdx)
		args = append(args, f.Portal)
		argIdx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND logged_at >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND logged_at <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	sql := "SELECT " + auditCols + " FROM audit_log " + where + " ORDER BY seq ASC"
	if f.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}
	return sql, args
}

// Follow-ups

const followUpCols = `id, submission_id, opportunity_id, check_type, status, auto_check, checks_performed,
	max_checks, check_interval_hours, next_check_at, last_checked_at, last_status_found, needs_review,
	assigned_to, created_at, updated_at`

func scanFollowUp(scan func(dest ...any) error) (models.FollowUp, error) {
	var fu models.FollowUp
	err := scan(&fu.ID, &fu.SubmissionID, &fu.OpportunityID, &fu.CheckType, &fu.Status, &fu.AutoCheck, &fu.ChecksPerformed,
		&fu.MaxChecks, &fu.CheckIntervalHours, &fu.NextCheckAt, &fu.LastCheckedAt, &fu.LastStatusFound, &fu.NeedsReview,
		&fu.AssignedTo, &fu.CreatedAt, &fu.UpdatedAt)
	return fu, err
}

func (s *Store) CreateFollowUp(ctx context.Context, fu *models.FollowUp) error {
	if fu.ID == uuid.Nil {
		fu.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO follow_ups (id, submission_id, opportunity_id, check_type, status, auto_check, checks_performed,
			max_checks, check_interval_hours, next_check_at, last_checked_at, last_status_found, needs_review, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, fu.ID, fu.SubmissionID, fu.OpportunityID, fu.CheckType, fu.Status, fu.AutoCheck, fu.ChecksPerformed,
		fu.MaxChecks, fu.CheckIntervalHours, fu.NextCheckAt, fu.LastCheckedAt, fu.LastStatusFound, fu.NeedsReview, fu.AssignedTo,
	).Scan(&fu.CreatedAt, &fu.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("follow-up for submission %s: %w", fu.SubmissionID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert follow-up failed: %w", err)
	}
	return nil
}

func (s *Store) GetFollowUp(ctx context.Context, id uuid.UUID) (models.FollowUp, error) {
	fu, err := scanFollowUp(s.pool.QueryRow(ctx, "SELECT "+followUpCols+" FROM follow_ups WHERE id = $1", id).Scan)
	if err != nil {
		return models.FollowUp{}, notFound(err, "follow-up "+id.String())
	}
	return fu, nil
}

func (s *Store) FollowUpForSubmission(ctx context.Context, submissionID uuid.UUID) (models.FollowUp, error) {
	fu, err := scanFollowUp(s.pool.QueryRow(ctx, "SELECT "+followUpCols+" FROM follow_ups WHERE submission_id = $1", submissionID).Scan)
	if err != nil {
		return models.FollowUp{}, notFound(err, "follow-up for submission "+submissionID.String())
	}
	return fu, nil
}

func (s *Store) SaveFollowUp(ctx context.Context, fu *models.FollowUp, check *models.Check) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE follow_ups SET
			status = $2, auto_check = $3, checks_performed = $4, max_checks = $5, check_interval_hours = $6,
			next_check_at = $7, last_checked_at = $8, last_status_found = $9, needs_review = $10,
			assigned_to = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, fu.ID, fu.Status, fu.AutoCheck, fu.ChecksPerformed, fu.MaxChecks, fu.CheckIntervalHours,
		fu.NextCheckAt, fu.LastCheckedAt, fu.LastStatusFound, fu.NeedsReview, fu.AssignedTo,
	).Scan(&fu.UpdatedAt)
	if err != nil {
		return notFound(err, "follow-up "+fu.ID.String())
	}
	if check != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO follow_up_checks (id, follow_up_id, check_type, checked_at, status_found, changes_detected, classification, ai_analysis)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, check.ID, check.FollowUpID, check.CheckType, check.CheckedAt, check.StatusFound, check.ChangesDetected,
			check.Classification, check.AIAnalysis); err != nil {
			return fmt.Errorf("insert follow-up check failed: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.FollowUp, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+followUpCols+` FROM follow_ups
		WHERE auto_check
		  AND status NOT IN ('awarded', 'lost', 'cancelled')
		  AND next_check_at IS NOT NULL AND next_check_at <= $1
		  AND checks_performed < max_checks
		ORDER BY next_check_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

func (s *Store) ListFollowUps(ctx context.Context, status models.FollowUpStatus, limit int) ([]models.FollowUp, error) {
	sql, args := buildListQuery("SELECT "+followUpCols+" FROM follow_ups", "status", string(status), "created_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectFollowUps(rows)
}

func collectFollowUps(rows pgx.Rows) ([]models.FollowUp, error) {
	out := []models.FollowUp{}
	for rows.Next() {
		fu, err := scanFollowUp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, fu)
	}
	return out, rows.Err()
}

func (s *Store) FollowUpChecks(ctx context.Context, followUpID uuid.UUID) ([]models.Check, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, follow_up_id, check_type, checked_at, status_found, changes_detected, classification, ai_analysis
		FROM follow_up_checks WHERE follow_up_id = $1 ORDER BY checked_at, id
	`, followUpID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	checks := []models.Check{}
	for rows.Next() {
		var c models.Check
		if err := rows.Scan(&c.ID, &c.FollowUpID, &c.CheckType, &c.CheckedAt, &c.StatusFound, &c.ChangesDetected,
			&c.Classification, &c.AIAnalysis); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// Notifications

func (s *Store) Notify(ctx context.Context, n models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, body, type, priority, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Title, n.Body, n.Type, n.Priority, n.EntityType, n.EntityID)
	if err != nil {
		return fmt.Errorf("insert notification failed: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	sql, args := buildListQuery(`SELECT id, user_id, title, body, type, priority, entity_type, COALESCE(entity_id, '00000000-0000-0000-0000-000000000000'), created_at
		FROM notifications`, "user_id", userID, "created_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type, &n.Priority, &n.EntityType, &n.EntityID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Settings

func (s *Store) LoadSetting(ctx context.Context, key string) ([]byte, int64, error) {
	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx, "SELECT value, version FROM settings WHERE key = $1", key).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load setting %s failed: %w", key, err)
	}
	return value, version, nil
}

func (s *Store) SaveSetting(ctx context.Context, key string, value []byte) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = settings.version + 1, updated_at = NOW()
		RETURNING version
	`, key, value).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save setting %s failed: %w", key, err)
	}
	return version, nil
}

// buildListQuery appends an optional equality filter, ordering and limit.
func buildListQuery(base, column, value, order string, limit int) (string, []any) {
	sql := base
	var args []any
	argIdx := 1
	if value != "" {
		sql += fmt.Sprintf(" WHERE %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}
	sql += " ORDER BY " + order
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}
	return sql, args
}

func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
