package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

// ProposalSections are the sections every generated draft must contain.
var ProposalSections = []string{
	"executive_summary",
	"technical_approach",
	"management_approach",
	"past_performance",
	"pricing_narrative",
}

type ProposalWriter struct {
	client  *OllamaClient
	profile string
	policy  *bluemonday.Policy
}

func NewProposalWriter(client *OllamaClient, companyProfile string) *ProposalWriter {
	return &ProposalWriter{client: client, profile: companyProfile, policy: bluemonday.UGCPolicy()}
}

func (w *ProposalWriter) Generate(ctx context.Context, opp models.Opportunity, sub models.Submission) (collab.Proposal, error) {
	prompt := fmt.Sprintf(`You are writing a first draft of a federal proposal response.

COMPANY PROFILE: %s
OPPORTUNITY: %s (%s)
SUMMARY: %s
DESCRIPTION:
%s

Write each section as plain paragraphs. Return ONLY a JSON object whose keys are exactly:
%s`, w.profile, opp.Title, opp.Agency, opp.AISummary, truncateText(opp.Description, 8000), strings.Join(ProposalSections, ", "))

	resp, err := w.client.GenerateCompletion(ctx, prompt, true)
	if err != nil {
		return collab.Proposal{}, err
	}
	var raw map[string]any
	if err := decodeModelJSON(resp, &raw); err != nil {
		return collab.Proposal{}, fmt.Errorf("failed to parse proposal json: %w", err)
	}
	return w.sections(raw)
}

// sections keeps the expected keys, sanitises model output and fails when a
// required section is missing or empty.
func (w *ProposalWriter) sections(raw map[string]any) (collab.Proposal, error) {
	out := make(map[string]string, len(ProposalSections))
	var missing []string
	for _, name := range ProposalSections {
		text, _ := raw[name].(string)
		text = strings.TrimSpace(w.policy.Sanitize(text))
		if text == "" {
			missing = append(missing, name)
			continue
		}
		out[name] = text
	}
	if len(missing) > 0 {
		return collab.Proposal{}, fmt.Errorf("proposal draft missing sections: %s", strings.Join(missing, ", "))
	}
	return collab.Proposal{Sections: out}, nil
}
