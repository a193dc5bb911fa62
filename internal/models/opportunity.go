package models

import (
	"time"

	"github.com/google/uuid"
)

type OpportunityStatus string

const (
	OpportunityNew          OpportunityStatus = "new"
	OpportunityReviewing    OpportunityStatus = "reviewing"
	OpportunityQualified    OpportunityStatus = "qualified"
	OpportunityDisqualified OpportunityStatus = "disqualified"
	OpportunitySubmitted    OpportunityStatus = "submitted"
)

// Opportunity holds the external facts produced by discovery plus the
// AI-derived fields written back after qualification.
type Opportunity struct {
	ID                 uuid.UUID         `json:"id"`
	ExternalRef        string            `json:"external_ref"`
	Source             string            `json:"source"`
	Title              string            `json:"title"`
	Agency             string            `json:"agency"`
	Description        string            `json:"description"`
	NAICSCode          string            `json:"naics_code"`
	PSCCode            string            `json:"psc_code"`
	SetAside           string            `json:"set_aside"`
	PostedDate         *time.Time        `json:"posted_date"`
	DueDate            *time.Time        `json:"due_date"`
	EstimatedValue     *float64          `json:"estimated_value"`
	FitScore           *int              `json:"fit_score"`
	EffortScore        *int              `json:"effort_score"`
	UrgencyScore       *int              `json:"urgency_score"`
	AISummary          string            `json:"ai_summary"`
	Status             OpportunityStatus `json:"status"`
	DisqualifiedReason string            `json:"disqualified_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Scores is the result of an AI qualification pass.
type Scores struct {
	FitScore     int       `json:"fit_score"`
	EffortScore  int       `json:"effort_score"`
	UrgencyScore int       `json:"urgency_score"`
	Summary      string    `json:"summary"`
	Embedding    []float32 `json:"-"`
}

// PortalName maps an opportunity source to the portal a proposal is filed on.
func (o Opportunity) PortalName() string {
	switch o.Source {
	case "", "unknown":
		return "unknown"
	case "sam", "sam.gov", "SAM.gov":
		return "SAM.gov"
	}
	return o.Source
}
