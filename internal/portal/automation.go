package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/david/govcapture/internal/collab"
)

// Automation files proposals through the browser-automation service at
// AUTOMATION_URL. The service drives the portal UI; this client only speaks
// its JSON API.
type Automation struct {
	baseURL  string
	registry *Registry
	limits   *limits
	http     *http.Client
}

func NewAutomation(baseURL string, reg *Registry) *Automation {
	return &Automation{
		baseURL:  strings.TrimRight(baseURL, "/"),
		registry: reg,
		limits:   newLimits(),
		http:     &http.Client{Timeout: 10 * time.Minute},
	}
}

type automationRequest struct {
	SubmissionID string            `json:"submission_id"`
	Portal       string            `json:"portal"`
	NoticeID     string            `json:"notice_id"`
	Title        string            `json:"title"`
	Agency       string            `json:"agency"`
	Sections     map[string]string `json:"sections"`
	Files        []string          `json:"files,omitempty"`
	DryRun       bool              `json:"dry_run"`
}

type automationResponse struct {
	ReceiptID          string   `json:"receipt_id"`
	ConfirmationNumber string   `json:"confirmation_number"`
	Status             string   `json:"status"`
	EvidenceURLs       []string `json:"evidence_urls"`
	Steps              []string `json:"steps"`
	ReceiptPDF         []byte   `json:"receipt_pdf,omitempty"`
	Error              string   `json:"error,omitempty"`
}

func (a *Automation) Submit(ctx context.Context, req collab.SubmitRequest) (collab.Receipt, error) {
	if a.baseURL == "" {
		return collab.Receipt{}, fmt.Errorf("AUTOMATION_URL is not configured")
	}
	portalName := req.Submission.Portal
	if cfg, ok := a.registry.Lookup(portalName); ok {
		portalName = cfg.Name
		if err := a.limits.wait(ctx, cfg); err != nil {
			return collab.Receipt{}, fmt.Errorf("rate limit wait for %s: %w", cfg.Name, err)
		}
	}

	files := make([]string, 0, len(req.Submission.Files))
	for _, f := range req.Submission.Files {
		files = append(files, f.StoragePath)
	}
	body, err := json.Marshal(automationRequest{
		SubmissionID: req.Submission.ID.String(),
		Portal:       portalName,
		NoticeID:     req.Opportunity.ExternalRef,
		Title:        req.Submission.Title,
		Agency:       req.Opportunity.Agency,
		Sections:     req.Submission.ProposalSections,
		Files:        files,
		DryRun:       req.DryRun,
	})
	if err != nil {
		return collab.Receipt{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/submissions", bytes.NewReader(body))
	if err != nil {
		return collab.Receipt{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return collab.Receipt{}, fmt.Errorf("automation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return collab.Receipt{}, fmt.Errorf("reading automation response: %w", err)
	}
	var out automationResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return collab.Receipt{}, fmt.Errorf("decoding automation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return collab.Receipt{}, fmt.Errorf("automation returned %d: %s", resp.StatusCode, msg)
	}
	if !req.DryRun && out.ReceiptID == "" {
		return collab.Receipt{}, fmt.Errorf("automation reported success without a receipt id")
	}

	if out.ConfirmationNumber == "" && len(out.ReceiptPDF) > 0 {
		num, err := ConfirmationFromPDF(out.ReceiptPDF)
		if err != nil {
			log.Printf("[portal] receipt %s: %v", out.ReceiptID, err)
		} else {
			out.ConfirmationNumber = num
		}
	}

	return collab.Receipt{
		ReceiptID:          out.ReceiptID,
		ConfirmationNumber: out.ConfirmationNumber,
		Status:             out.Status,
		EvidenceURLs:       out.EvidenceURLs,
		Steps:              out.Steps,
	}, nil
}
