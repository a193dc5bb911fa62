package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/models"
)

// samResponse is the subset of the SAM.gov opportunities v2 search response
// the status lookup reads.
type samResponse struct {
	TotalRecords      int         `json:"totalRecords"`
	OpportunitiesData []samRecord `json:"opportunitiesData"`
}

type samRecord struct {
	NoticeID string    `json:"noticeId"`
	Title    string    `json:"title"`
	Type     string    `json:"type"`
	Active   string    `json:"active"`
	Award    *samAward `json:"award"`
}

type samAward struct {
	Date    string `json:"date"`
	Amount  string `json:"amount"`
	Awardee struct {
		Name string `json:"name"`
	} `json:"awardee"`
}

func (l *Lookup) checkSAM(ctx context.Context, cfg Config, opp models.Opportunity) (collab.PortalStatus, error) {
	if opp.ExternalRef == "" {
		return collab.PortalStatus{}, fmt.Errorf("opportunity %s has no SAM notice id", opp.ID)
	}
	to := l.now()
	from := to.AddDate(-1, 0, 1)
	if opp.PostedDate != nil && opp.PostedDate.After(from) {
		from = *opp.PostedDate
	}

	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("noticeid", opp.ExternalRef)
	q.Set("postedFrom", from.Format("01/02/2006"))
	q.Set("postedTo", to.Format("01/02/2006"))
	q.Set("limit", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return collab.PortalStatus{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return collab.PortalStatus{}, fmt.Errorf("SAM.gov request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return collab.PortalStatus{}, fmt.Errorf("SAM.gov returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out samResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return collab.PortalStatus{}, fmt.Errorf("decoding SAM.gov response: %w", err)
	}
	if len(out.OpportunitiesData) == 0 {
		return collab.PortalStatus{}, fmt.Errorf("SAM.gov has no notice %s", opp.ExternalRef)
	}
	// Later notices (award, cancellation) supersede the solicitation.
	rec := out.OpportunitiesData[len(out.OpportunitiesData)-1]
	status, analysis := l.describeSAM(rec)
	return collab.PortalStatus{Status: status, Analysis: analysis, Source: "sam.gov:" + rec.NoticeID}, nil
}

func (l *Lookup) describeSAM(rec samRecord) (string, string) {
	typ := strings.TrimSpace(rec.Type)
	switch {
	case rec.Award != nil && rec.Award.Awardee.Name != "":
		awardee := rec.Award.Awardee.Name
		detail := fmt.Sprintf("award dated %s, amount %s", rec.Award.Date, rec.Award.Amount)
		if l.company != "" && !strings.Contains(strings.ToLower(awardee), strings.ToLower(l.company)) {
			return "Not selected: awarded to " + awardee, detail
		}
		return "Awarded to " + awardee, detail
	case strings.Contains(strings.ToLower(typ), "award"):
		// No awardee means we cannot tell a win from a loss yet.
		return "Award notice posted, awardee pending", typ
	case strings.Contains(strings.ToLower(typ), "cancel"):
		return "Cancelled", typ
	case strings.EqualFold(rec.Active, "no"):
		return "Inactive: " + typ, "notice is no longer active on SAM.gov"
	}
	return typ, "notice is active on SAM.gov"
}

func defaultNow() time.Time { return time.Now().UTC() }
