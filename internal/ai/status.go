package ai

import (
	"context"
	"fmt"
	"strings"
)

// StatusReader condenses a portal status page into a short status phrase plus
// an explanation.
type StatusReader struct {
	client *OllamaClient
}

func NewStatusReader(client *OllamaClient) *StatusReader {
	return &StatusReader{client: client}
}

func (r *StatusReader) ReadStatus(ctx context.Context, title, pageText string) (string, string, error) {
	prompt := fmt.Sprintf(`You are reviewing a government procurement portal page for the solicitation below.

SOLICITATION: %s
PAGE TEXT:
%s

What is the current status of this solicitation or award?
- If an award was made, say "awarded" and to whom if stated.
- If it was cancelled or withdrawn, say "cancelled".
- If our offer was not selected, say "not selected".
- Otherwise give the portal's own status wording (e.g. "under evaluation").

Return ONLY a JSON object:
{
  "status": "short status phrase",
  "reason": "brief explanation"
}`, title, truncateText(pageText, 6000))

	resp, err := r.client.GenerateCompletion(ctx, prompt, true)
	if err != nil {
		return "", "", err
	}
	var result struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := decodeModelJSON(resp, &result); err != nil {
		return "", "", fmt.Errorf("failed to parse status json: %w", err)
	}
	return strings.TrimSpace(result.Status), strings.TrimSpace(result.Reason), nil
}
