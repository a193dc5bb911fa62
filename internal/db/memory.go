package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

type setting struct {
	value   []byte
	version int64
}

// MemoryStore keeps every entity in process memory. It backs the tests and
// the server when no DATABASE_URL is reachable.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]models.User
	opportunities map[uuid.UUID]models.Opportunity
	embeddings    map[uuid.UUID][]float32
	submissions   map[uuid.UUID]models.Submission
	stageEvents   map[uuid.UUID][]models.StageEvent
	approvalSteps map[uuid.UUID][]models.ApprovalStep
	audit         []models.AuditLogEntry
	followUps     map[uuid.UUID]models.FollowUp
	checks        map[uuid.UUID][]models.Check
	notifications []models.Notification
	settings      map[string]setting
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]models.User),
		opportunities: make(map[uuid.UUID]models.Opportunity),
		embeddings:    make(map[uuid.UUID][]float32),
		submissions:   make(map[uuid.UUID]models.Submission),
		stageEvents:   make(map[uuid.UUID][]models.StageEvent),
		approvalSteps: make(map[uuid.UUID][]models.ApprovalStep),
		followUps:     make(map[uuid.UUID]models.FollowUp),
		checks:        make(map[uuid.UUID][]models.Check),
		settings:      make(map[string]setting),
		now:           time.Now,
	}
}

// Users

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = m.now().UTC()
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

// Opportunities

func (m *MemoryStore) InsertOpportunity(ctx context.Context, o *models.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.OpportunityNew
	}
	now := m.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	m.opportunities[o.ID] = *o
	return nil
}

func (m *MemoryStore) GetOpportunity(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.opportunities[id]
	if !ok {
		return models.Opportunity{}, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (m *MemoryStore) ListOpportunities(ctx context.Context, status models.OpportunityStatus, limit int) ([]models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Opportunity, 0, len(m.opportunities))
	for _, o := range m.opportunities {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) UpdateOpportunityScores(ctx context.Context, id uuid.UUID, s models.Scores) (models.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opportunities[id]
	if !ok {
		return models.Opportunity{}, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	fit, effort, urgency := s.FitScore, s.EffortScore, s.UrgencyScore
	o.FitScore, o.EffortScore, o.UrgencyScore = &fit, &effort, &urgency
	o.AISummary = s.Summary
	if o.Status == models.OpportunityNew {
		o.Status = models.OpportunityReviewing
	}
	o.UpdatedAt = m.now().UTC()
	m.opportunities[id] = o
	if len(s.Embedding) > 0 {
		m.embeddings[id] = append([]float32(nil), s.Embedding...)
	}
	return o, nil
}

func (m *MemoryStore) SetOpportunityStatus(ctx context.Context, id uuid.UUID, status models.OpportunityStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opportunities[id]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	o.Status = status
	o.DisqualifiedReason = reason
	o.UpdatedAt = m.now().UTC()
	m.opportunities[id] = o
	return nil
}

// SimilarOpportunities ranks other scored opportunities by cosine similarity
// of their summary embeddings.
func (m *MemoryStore) SimilarOpportunities(ctx context.Context, id uuid.UUID, limit int) ([]models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	base, ok := m.embeddings[id]
	if !ok {
		return []models.Opportunity{}, nil
	}
	type scored struct {
		opp models.Opportunity
		sim float64
	}
	var ranked []scored
	for otherID, vec := range m.embeddings {
		if otherID == id {
			continue
		}
		ranked = append(ranked, scored{opp: m.opportunities[otherID], sim: cosine(base, vec)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	out := make([]models.Opportunity, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.opp)
	}
	return truncate(out, limit), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Submissions

func (m *MemoryStore) CreateSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.submissions {
		if existing.OpportunityID == sub.OpportunityID && existing.Active() {
			return fmt.Errorf("active submission for opportunity %s: %w", sub.OpportunityID, ErrConflict)
		}
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := m.now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	sub.Version = 1
	m.submissions[sub.ID] = sub.Clone()
	m.stageEvents[sub.ID] = append(m.stageEvents[sub.ID], events...)
	return nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ActiveSubmission(ctx context.Context, opportunityID uuid.UUID) (models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.submissions {
		if s.OpportunityID == opportunityID && s.Active() {
			return s.Clone(), nil
		}
	}
	return models.Submission{}, fmt.Errorf("active submission for opportunity %s: %w", opportunityID, ErrNotFound)
}

// SaveSubmission writes sub if its version still matches the stored one and
// appends the given history records in the same step.
func (m *MemoryStore) SaveSubmission(ctx context.Context, sub *models.Submission, events []models.StageEvent, steps []models.ApprovalStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[sub.ID]
	if !ok {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrNotFound)
	}
	if stored.Version != sub.Version {
		return fmt.Errorf("submission %s version %d is stale: %w", sub.ID, sub.Version, ErrConflict)
	}
	sub.Version++
	sub.UpdatedAt = m.now().UTC()
	m.submissions[sub.ID] = sub.Clone()
	m.stageEvents[sub.ID] = append(m.stageEvents[sub.ID], events...)
	m.approvalSteps[sub.ID] = append(m.approvalSteps[sub.ID], steps...)
	return nil
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, stage models.Stage, limit int) ([]models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Submission, 0, len(m.submissions))
	for _, s := range m.submissions {
		if stage == "" || s.Stage == stage {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) StageEvents(ctx context.Context, submissionID uuid.UUID) ([]models.StageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StageEvent{}, m.stageEvents[submissionID]...), nil
}

func (m *MemoryStore) ApprovalSteps(ctx context.Context, submissionID uuid.UUID) ([]models.ApprovalStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ApprovalStep{}, m.approvalSteps[submissionID]...), nil
}

// Audit ledger

func (m *MemoryStore) AppendAudit(ctx context.Context, build func(prev *models.AuditLogEntry) (models.AuditLogEntry, error)) (models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *models.AuditLogEntry
	if n := len(m.audit); n > 0 {
		head := m.audit[n-1].Clone()
		prev = &head
	}
	entry, err := build(prev)
	if err != nil {
		return models.AuditLogEntry{}, err
	}
	m.audit = append(m.audit, entry.Clone())
	return entry, nil
}

func (m *MemoryStore) GetAudit(ctx context.Context, id uuid.UUID) (models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.audit {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return models.AuditLogEntry{}, fmt.Errorf("audit entry %s: %w", id, ErrNotFound)
}

func (m *MemoryStore) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.AuditLogEntry{}
	for _, e := range m.audit {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	return truncate(out, f.Limit), nil
}

// Follow-ups

func (m *MemoryStore) CreateFollowUp(ctx context.Context, fu *models.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.followUps {
		if existing.SubmissionID == fu.SubmissionID {
			return fmt.Errorf("follow-up for submission %s: %w", fu.SubmissionID, ErrConflict)
		}
	}
	if fu.ID == uuid.Nil {
		fu.ID = uuid.New()
	}
	now := m.now().UTC()
	fu.CreatedAt, fu.UpdatedAt = now, now
	m.followUps[fu.ID] = *fu
	return nil
}

func (m *MemoryStore) GetFollowUp(ctx context.Context, id uuid.UUID) (models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fu, ok := m.followUps[id]
	if !ok {
		return models.FollowUp{}, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	return fu, nil
}

func (m *MemoryStore) FollowUpForSubmission(ctx context.Context, submissionID uuid.UUID) (models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fu := range m.followUps {
		if fu.SubmissionID == submissionID {
			return fu, nil
		}
	}
	return models.FollowUp{}, fmt.Errorf("follow-up for submission %s: %w", submissionID, ErrNotFound)
}

// SaveFollowUp updates fu and, when check is non-nil, records it atomically
// with the update.
func (m *MemoryStore) SaveFollowUp(ctx context.Context, fu *models.FollowUp, check *models.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.followUps[fu.ID]; !ok {
		return fmt.Errorf("follow-up %s: %w", fu.ID, ErrNotFound)
	}
	if fu.ChecksPerformed > fu.MaxChecks {
		return fmt.Errorf("follow-up %s: checks_performed %d exceeds max_checks %d: %w", fu.ID, fu.ChecksPerformed, fu.MaxChecks, ErrConflict)
	}
	fu.UpdatedAt = m.now().UTC()
	m.followUps[fu.ID] = *fu
	if check != nil {
		m.checks[fu.ID] = append(m.checks[fu.ID], *check)
	}
	return nil
}

func (m *MemoryStore) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FollowUp
	for _, fu := range m.followUps {
		if !fu.AutoCheck || fu.Status.Terminal() || fu.NextCheckAt == nil || fu.ChecksPerformed >= fu.MaxChecks {
			continue
		}
		if !fu.NextCheckAt.After(now) {
			out = append(out, fu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheckAt.Before(*out[j].NextCheckAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListFollowUps(ctx context.Context, status models.FollowUpStatus, limit int) ([]models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FollowUp, 0, len(m.followUps))
	for _, fu := range m.followUps {
		if status == "" || fu.Status == status {
			out = append(out, fu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) FollowUpChecks(ctx context.Context, followUpID uuid.UUID) ([]models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Check{}, m.checks[followUpID]...), nil
}

// Notifications

// Notify stores n; MemoryStore doubles as the in-app notifier.
func (m *MemoryStore) Notify(ctx context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now().UTC()
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Notification{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if n := m.notifications[i]; userID == "" || n.UserID == userID {
			out = append(out, n)
		}
	}
	return truncate(out, limit), nil
}

// Settings

func (m *MemoryStore) LoadSetting(ctx context.Context, key string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), s.value...), s.version, nil
}

func (m *MemoryStore) SaveSetting(ctx context.Context, key string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[key]
	s.value = append([]byte(nil), value...)
	s.version++
	m.settings[key] = s
	return s.version, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
