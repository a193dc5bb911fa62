package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/david/govcapture/internal/models"
)

// Qualifier scores opportunities against a company profile.
type Qualifier struct {
	client  *OllamaClient
	profile string
}

func NewQualifier(client *OllamaClient, companyProfile string) *Qualifier {
	return &Qualifier{client: client, profile: companyProfile}
}

type qualification struct {
	FitScore     int    `json:"fit_score"`
	EffortScore  int    `json:"effort_score"`
	UrgencyScore int    `json:"urgency_score"`
	Summary      string `json:"summary"`
}

func (q *Qualifier) Qualify(ctx context.Context, opp models.Opportunity) (models.Scores, error) {
	due := "not stated"
	if opp.DueDate != nil {
		due = opp.DueDate.Format("2006-01-02")
	}
	value := "not stated"
	if opp.EstimatedValue != nil {
		value = fmt.Sprintf("%.0f USD", *opp.EstimatedValue)
	}
	profile := q.profile
	if strings.TrimSpace(profile) == "" {
		profile = "A small federal IT services contractor."
	}

	prompt := fmt.Sprintf(`You are a government capture manager. Score how well this opportunity fits the company.

COMPANY PROFILE: %s

TITLE: %s
AGENCY: %s
NAICS: %s  PSC: %s  SET-ASIDE: %s
DUE DATE: %s
ESTIMATED VALUE: %s
DESCRIPTION:
%s

Return ONLY a JSON object:
{
  "fit_score": 0-100,
  "effort_score": 0-100,
  "urgency_score": 0-100,
  "summary": "two sentences on why it does or does not fit"
}`, profile, opp.Title, opp.Agency, opp.NAICSCode, opp.PSCCode, opp.SetAside, due, value, truncateText(opp.Description, 6000))

	resp, err := q.client.GenerateCompletion(ctx, prompt, true)
	if err != nil {
		return models.Scores{}, err
	}
	var out qualification
	if err := decodeModelJSON(resp, &out); err != nil {
		return models.Scores{}, fmt.Errorf("failed to parse qualification json: %w", err)
	}

	scores := models.Scores{
		FitScore:     clampScore(out.FitScore),
		EffortScore:  clampScore(out.EffortScore),
		UrgencyScore: clampScore(out.UrgencyScore),
		Summary:      strings.TrimSpace(out.Summary),
	}
	if scores.Summary != "" {
		emb, err := q.client.GenerateEmbedding(ctx, opp.Title+"\n"+scores.Summary)
		if err != nil {
			log.Printf("[ai] embedding failed for opportunity %s: %v", opp.ID, err)
		} else {
			scores.Embedding = emb
		}
	}
	return scores, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
