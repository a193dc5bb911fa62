package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

func TestRunHelp(t *testing.T) {
	if code := Run(context.Background(), []string{"--help"}); code != 0 {
		t.Errorf("Run --help: got exit code %d", code)
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd("test")
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"audit", "followups", "autonomy"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
	if root.Version != "test" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestVerifyRejectsBadID(t *testing.T) {
	root := newRootCmd("")
	root.SetArgs([]string{"audit", "verify", "not-a-uuid"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "invalid entry id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestAuditFlagsFilter(t *testing.T) {
	id := uuid.New()
	f := auditFlags{submission: id.String(), status: "FAILED", from: "2026-01-02", to: "2026-02-01T00:00:00Z"}
	filter, err := f.filter()
	if err != nil {
		t.Fatal(err)
	}
	if filter.SubmissionID == nil || *filter.SubmissionID != id || filter.Status != "FAILED" {
		t.Fatalf("unexpected filter %+v", filter)
	}
	if !filter.From.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", filter.From)
	}

	if _, err := (auditFlags{from: "yesterday"}).filter(); err == nil {
		t.Fatal("expected error for malformed --from")
	}
}

func TestRenderFollowUps(t *testing.T) {
	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []models.FollowUp{
		{ID: uuid.New(), Status: models.FollowUpNoChange, AutoCheck: true, ChecksPerformed: 2, MaxChecks: 30, NextCheckAt: &next, LastStatusFound: "Under evaluation"},
		{ID: uuid.New(), Status: models.FollowUpChecked, ChecksPerformed: 1, MaxChecks: 30},
		{ID: uuid.New(), Status: models.FollowUpNoChange, AutoCheck: true, ChecksPerformed: 5, MaxChecks: 5, NeedsReview: true},
	}
	var buf bytes.Buffer
	renderFollowUps(&buf, items)
	out := buf.String()
	for _, want := range []string{"2/30", "2026-03-01T12:00:00Z", "parked", "needs review", "Under evaluation"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, autonomy.Snapshot{Config: autonomy.Fallback, Version: 3})
	if !strings.Contains(buf.String(), "version 3") || !strings.Contains(buf.String(), "mode:           manual") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
