package models

import (
	"time"

	"github.com/google/uuid"
)

type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpChecked   FollowUpStatus = "checked"
	FollowUpUpdated   FollowUpStatus = "updated"
	FollowUpNoChange  FollowUpStatus = "no_change"
	FollowUpAwarded   FollowUpStatus = "awarded"
	FollowUpLost      FollowUpStatus = "lost"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// Terminal reports whether no further checks may be scheduled.
func (s FollowUpStatus) Terminal() bool {
	return s == FollowUpAwarded || s == FollowUpLost || s == FollowUpCancelled
}

const (
	CheckTypeAutomated = "automated"
	CheckTypeManual    = "manual"
)

type FollowUp struct {
	ID                 uuid.UUID      `json:"id"`
	SubmissionID       uuid.UUID      `json:"submission_id"`
	OpportunityID      uuid.UUID      `json:"opportunity_id"`
	CheckType          string         `json:"check_type"`
	Status             FollowUpStatus `json:"status"`
	AutoCheck          bool           `json:"auto_check"`
	ChecksPerformed    int            `json:"checks_performed"`
	MaxChecks          int            `json:"max_checks"`
	CheckIntervalHours int            `json:"check_interval_hours"`
	NextCheckAt        *time.Time     `json:"next_check_at"`
	LastCheckedAt      *time.Time     `json:"last_checked_at,omitempty"`
	LastStatusFound    string         `json:"portal_status"`
	NeedsReview        bool           `json:"needs_review"`
	AssignedTo         string         `json:"assigned_to,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Check is one recorded status lookup.
type Check struct {
	ID              uuid.UUID      `json:"id"`
	FollowUpID      uuid.UUID      `json:"follow_up_id"`
	CheckType       string         `json:"check_type"`
	CheckedAt       time.Time      `json:"checked_at"`
	StatusFound     string         `json:"status_found"`
	ChangesDetected bool           `json:"changes_detected"`
	Classification  FollowUpStatus `json:"classification"`
	AIAnalysis      string         `json:"ai_analysis,omitempty"`
}

type Notification struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	Priority   string    `json:"priority"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	CreatedAt  time.Time `json:"created_at"`
}
