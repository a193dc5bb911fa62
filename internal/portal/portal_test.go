package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

func TestEmbeddedRegistryLoads(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	cfg, ok := reg.Lookup("sam")
	if !ok || cfg.Name != "SAM.gov" || cfg.Kind != KindSAMAPI {
		t.Fatalf("expected SAM.gov by alias, got %+v", cfg)
	}
	if _, ok := reg.Lookup("SAM.GOV"); !ok {
		t.Fatal("lookup should ignore case")
	}
	if _, ok := reg.Lookup("nowhere"); ok {
		t.Fatal("unknown portal resolved")
	}
}

func TestParseRegistryValidates(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown kind", "portals:\n  - name: X\n    kind: ftp\n"},
		{"html without url", "portals:\n  - name: X\n    kind: html\n"},
		{"sam without base", "portals:\n  - name: X\n    kind: sam_api\n"},
	}
	for _, tt := range tests {
		if _, err := ParseRegistry([]byte(tt.yaml)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestParseRegistryExpandsEnv(t *testing.T) {
	t.Setenv("TEST_SAM_KEY", "abc123")
	reg, err := ParseRegistry([]byte("portals:\n  - name: S\n    kind: sam_api\n    base_url: http://x\n    api_key: ${TEST_SAM_KEY}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if reg.Portals[0].APIKey != "abc123" {
		t.Fatalf("api key not expanded: %q", reg.Portals[0].APIKey)
	}
}

func TestConfirmationFromText(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Thank you.\nConfirmation Number: ab-12345\nReceived 1/2/2026", "AB-12345", true},
		{"Tracking #  SUB2026001", "SUB2026001", true},
		{"Receipt Date March 3\nSubmission ID: 7788-99", "7788-99", true},
		{"Nothing useful here", "", false},
	}
	for _, tt := range tests {
		got, ok := ConfirmationFromText(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ConfirmationFromText(%q) = %q, %t", tt.text, got, ok)
		}
	}
}

func TestReceiptTextRejectsGarbage(t *testing.T) {
	if _, err := ReceiptText([]byte("definitely not a pdf")); err == nil {
		t.Fatal("expected error for non-pdf input")
	}
	if _, err := ConfirmationFromPDF(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestLimitsShareLimiterPerPortal(t *testing.T) {
	l := newLimits()
	a := l.get(Config{Name: "A", RateLimitRPS: 2, Burst: 3})
	if l.get(Config{Name: "A"}) != a {
		t.Fatal("expected the same limiter for the same portal")
	}
	if a.Burst() != 3 {
		t.Fatalf("expected burst 3, got %d", a.Burst())
	}
	if l.get(Config{Name: "B"}) == a {
		t.Fatal("portals must not share a limiter")
	}
}

func samServer(t *testing.T, records string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("noticeid") != "N-1" || r.URL.Query().Get("api_key") != "k" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("postedFrom") == "" || r.URL.Query().Get("postedTo") == "" {
			http.Error(w, "missing dates", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"totalRecords":1,"opportunitiesData":%s}`, records)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func samLookup(t *testing.T, baseURL, company string) *Lookup {
	t.Helper()
	reg, err := ParseRegistry([]byte(fmt.Sprintf("portals:\n  - name: SAM.gov\n    aliases: [sam]\n    kind: sam_api\n    base_url: %s\n    api_key: k\n    rate_limit_rps: 100\n", baseURL)))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLookup(reg, LookupOptions{CompanyName: company})
	l.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return l
}

func TestSAMStatus(t *testing.T) {
	tests := []struct {
		name    string
		records string
		company string
		want    string
	}{
		{"active solicitation", `[{"noticeId":"N-1","type":"Solicitation","active":"Yes"}]`, "", "Solicitation"},
		{"award to us", `[{"noticeId":"N-1","type":"Solicitation"},{"noticeId":"N-2","type":"Award Notice","award":{"date":"2026-04-01","amount":"100","awardee":{"name":"ACME Federal LLC"}}}]`, "acme federal", "Awarded to ACME Federal LLC"},
		{"award to competitor", `[{"noticeId":"N-2","type":"Award Notice","award":{"awardee":{"name":"Other Corp"}}}]`, "Acme", "Not selected: awarded to Other Corp"},
		{"award notice without awardee", `[{"noticeId":"N-2","type":"Award Notice"}]`, "", "Award notice posted, awardee pending"},
		{"inactive", `[{"noticeId":"N-1","type":"Combined Synopsis/Solicitation","active":"No"}]`, "", "Inactive: Combined Synopsis/Solicitation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := samServer(t, tt.records)
			l := samLookup(t, srv.URL, tt.company)
			got, err := l.CheckStatus(context.Background(),
				models.Submission{ID: uuid.New(), Portal: "SAM.gov"},
				models.Opportunity{ExternalRef: "N-1"})
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got.Status)
			}
		})
	}
}

func TestSAMErrors(t *testing.T) {
	srv := samServer(t, `[]`)
	l := samLookup(t, srv.URL, "")
	ctx := context.Background()
	sub := models.Submission{Portal: "sam"}

	if _, err := l.CheckStatus(ctx, sub, models.Opportunity{}); err == nil {
		t.Fatal("expected error without notice id")
	}
	if _, err := l.CheckStatus(ctx, sub, models.Opportunity{ExternalRef: "N-1"}); err == nil {
		t.Fatal("expected error for empty result")
	}
	if _, err := l.CheckStatus(ctx, models.Submission{Portal: "unknown"}, models.Opportunity{ExternalRef: "N-1"}); err == nil {
		t.Fatal("expected error for unregistered portal")
	}
}

type fakeReader struct {
	status, reason string
	err            error
}

func (f fakeReader) ReadStatus(ctx context.Context, title, pageText string) (string, string, error) {
	return f.status, f.reason, f.err
}

func htmlLookup(t *testing.T, page string, useAI bool, reader StatusReader) *Lookup {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rfq/RFQ-9" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	reg, err := ParseRegistry([]byte(fmt.Sprintf(
		"portals:\n  - name: eBuy\n    kind: html\n    status_url: %s/rfq/{ref}\n    ignore_robots: true\n    use_ai: %t\n    rate_limit_rps: 100\n    selectors:\n      status: \".rfq-status\"\n      notice: \".msg\"\n",
		srv.URL, useAI)))
	if err != nil {
		t.Fatal(err)
	}
	return NewLookup(reg, LookupOptions{Reader: reader})
}

func TestHTMLStatusFromSelector(t *testing.T) {
	l := htmlLookup(t, `<html><body><span class="rfq-status">  Under
	Evaluation </span><p class="msg">Questions closed</p></body></html>`, false, nil)
	got, err := l.CheckStatus(context.Background(), models.Submission{Portal: "ebuy"}, models.Opportunity{ExternalRef: "RFQ-9"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "Under Evaluation" || got.Analysis != "Questions closed" {
		t.Fatalf("unexpected status %+v", got)
	}
	if !strings.HasSuffix(got.Source, "/rfq/RFQ-9") {
		t.Fatalf("unexpected source %q", got.Source)
	}
}

func TestHTMLStatusMissing(t *testing.T) {
	l := htmlLookup(t, `<html><body><p>Maintenance</p></body></html>`, false, nil)
	if _, err := l.CheckStatus(context.Background(), models.Submission{Portal: "ebuy"}, models.Opportunity{ExternalRef: "RFQ-9"}); err == nil {
		t.Fatal("expected error when no status is on the page")
	}
	if _, err := l.CheckStatus(context.Background(), models.Submission{Portal: "ebuy"}, models.Opportunity{ExternalRef: "OTHER"}); err == nil {
		t.Fatal("expected error for a 404 page")
	}
}

func TestHTMLStatusFallsBackToReader(t *testing.T) {
	l := htmlLookup(t, `<html><body><p>The award was made to Acme.</p></body></html>`, true, fakeReader{status: "awarded", reason: "award text on page"})
	got, err := l.CheckStatus(context.Background(), models.Submission{Portal: "ebuy"}, models.Opportunity{ExternalRef: "RFQ-9"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "awarded" || got.Analysis != "award text on page" {
		t.Fatalf("unexpected status %+v", got)
	}

	broken := htmlLookup(t, `<html><body><p>?</p></body></html>`, true, fakeReader{err: errors.New("model down")})
	if _, err := broken.CheckStatus(context.Background(), models.Submission{Portal: "ebuy"}, models.Opportunity{ExternalRef: "RFQ-9"}); err == nil {
		t.Fatal("expected error when neither selector nor reader finds a status")
	}
}

func TestAutomationSubmit(t *testing.T) {
	var got automationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/submissions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		if got.Title == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(automationResponse{Error: "login failed"})
			return
		}
		json.NewEncoder(w).Encode(automationResponse{
			ReceiptID:          "R-77",
			ConfirmationNumber: "CONF-1",
			Status:             "Submitted",
			Steps:              []string{"login", "upload", "submit"},
		})
	}))
	defer srv.Close()

	reg, _ := LoadRegistry("")
	a := NewAutomation(srv.URL+"/", reg)
	sub := models.Submission{ID: uuid.New(), Title: "Cloud", Portal: "sam", ProposalSections: map[string]string{"executive_summary": "x"}}
	receipt, err := a.Submit(context.Background(), collab.SubmitRequest{Submission: sub, Opportunity: models.Opportunity{ExternalRef: "N-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.ReceiptID != "R-77" || receipt.ConfirmationNumber != "CONF-1" || len(receipt.Steps) != 3 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got.Portal != "SAM.gov" || got.NoticeID != "N-1" || got.SubmissionID != sub.ID.String() {
		t.Fatalf("unexpected request %+v", got)
	}

	sub.Title = "broken"
	_, err = a.Submit(context.Background(), collab.SubmitRequest{Submission: sub})
	if err == nil || !strings.Contains(err.Error(), "login failed") {
		t.Fatalf("expected automation error, got %v", err)
	}
}

func TestAutomationRequiresURL(t *testing.T) {
	a := NewAutomation("", &Registry{})
	if _, err := a.Submit(context.Background(), collab.SubmitRequest{}); err == nil {
		t.Fatal("expected configuration error")
	}
}
