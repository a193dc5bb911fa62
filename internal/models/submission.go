package models

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageDiscovered Stage = "discovered"
	StageQualified  Stage = "qualified"
	StageDrafting   Stage = "drafting"
	StageReview     Stage = "review"
	StageSubmitted  Stage = "submitted"
	StageTracking   Stage = "tracking"
)

type SubmissionStatus string

const (
	SubmissionDraft           SubmissionStatus = "draft"
	SubmissionPendingApproval SubmissionStatus = "pending_approval"
	SubmissionApproved        SubmissionStatus = "approved"
	SubmissionSubmitted       SubmissionStatus = "submitted"
	SubmissionRejected        SubmissionStatus = "rejected"
	SubmissionCancelled       SubmissionStatus = "cancelled"
)

type ApprovalStatus string

const (
	ApprovalPending         ApprovalStatus = "pending"
	ApprovalLegalApproved   ApprovalStatus = "legal_approved"
	ApprovalFinanceApproved ApprovalStatus = "finance_approved"
	ApprovalComplete        ApprovalStatus = "complete"
	ApprovalRejected        ApprovalStatus = "rejected"
)

// Gate indexes the fixed, ordered approval sequence.
type Gate int

const (
	GateLegal Gate = iota
	GateFinance
	GateExecutive
	GateCount
)

var gateNames = [GateCount]string{"legal_review", "finance_review", "executive_approval"}

func (g Gate) String() string {
	if g < 0 || g >= GateCount {
		return "unknown"
	}
	return gateNames[g]
}

// ParseGate resolves a gate name as used on the wire.
func ParseGate(name string) (Gate, bool) {
	for i, n := range gateNames {
		if n == name {
			return Gate(i), true
		}
	}
	return -1, false
}

type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// GateOutcome is the current decision held for one gate.
type GateOutcome struct {
	Decision Decision   `json:"decision"`
	Actor    string     `json:"actor,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// ApprovalStep is the immutable history record of a gate decision.
type ApprovalStep struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	Gate         string    `json:"step"`
	Outcome      Decision  `json:"outcome"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// StageEvent logs a single pipeline_stage transition.
type StageEvent struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	From         Stage     `json:"from"`
	To           Stage     `json:"to"`
	Actor        string    `json:"actor"`
	Automated    bool      `json:"automated"`
	At           time.Time `json:"at"`
}

type Task struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
	Completed   bool       `json:"completed"`
	Locked      bool       `json:"locked"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type File struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type,omitempty"`
	StoragePath string    `json:"storage_path"`
}

// Notice is a non-blocking annotation surfaced on a submission.
type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Submission struct {
	ID               uuid.UUID              `json:"id"`
	OpportunityID    uuid.UUID              `json:"opportunity_id"`
	OwnerID          string                 `json:"owner_id"`
	Title            string                 `json:"title"`
	Portal           string                 `json:"portal"`
	DueDate          *time.Time             `json:"due_date"`
	Stage            Stage                  `json:"pipeline_stage"`
	Status           SubmissionStatus       `json:"status"`
	ApprovalStatus   ApprovalStatus         `json:"approval_status"`
	Gates            [GateCount]GateOutcome `json:"gates"`
	Tasks            []Task                 `json:"tasks"`
	Files            []File                 `json:"files"`
	ProposalSections map[string]string      `json:"proposal_sections,omitempty"`
	Notices          []Notice               `json:"notices"`
	ReceiptID        string                 `json:"receipt_id,omitempty"`
	SubmittedAt      *time.Time             `json:"submitted_at,omitempty"`
	Version          int64                  `json:"version"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Active reports whether the submission still counts as the opportunity's
// single active pursuit.
func (s Submission) Active() bool {
	return s.Status != SubmissionCancelled
}

// Closed reports whether no further stage or approval changes are allowed.
func (s Submission) Closed() bool {
	return s.Status == SubmissionCancelled || s.Status == SubmissionSubmitted
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Submission) Clone() Submission {
	out := s
	out.Tasks = append([]Task(nil), s.Tasks...)
	out.Files = append([]File(nil), s.Files...)
	out.Notices = append([]Notice(nil), s.Notices...)
	if s.ProposalSections != nil {
		out.ProposalSections = make(map[string]string, len(s.ProposalSections))
		for k, v := range s.ProposalSections {
			out.ProposalSections[k] = v
		}
	}
	return out
}

// DefaultTasks is the checklist attached to every new submission. The locked
// entries track approval gates and are completed by the workflow, not users.
func DefaultTasks() []Task {
	return []Task{
		{ID: uuid.New(), Title: "Complete Checklist", Subtitle: "Review and complete all required fields"},
		{ID: uuid.New(), Title: "Upload Documents", Subtitle: "Attach all required documents"},
		{ID: uuid.New(), Title: "Legal Review", Subtitle: "Obtain legal department approval", Locked: true},
		{ID: uuid.New(), Title: "Finance Review", Subtitle: "Obtain finance department approval", Locked: true},
		{ID: uuid.New(), Title: "Final Review", Subtitle: "Complete final review before submission", Locked: true},
	}
}

// GateTaskTitle names the locked checklist task driven by a gate.
func GateTaskTitle(g Gate) string {
	switch g {
	case GateLegal:
		return "Legal Review"
	case GateFinance:
		return "Finance Review"
	case GateExecutive:
		return "Final Review"
	}
	return ""
}
