package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "FOLLOWUP_WORKERS", "FOLLOWUP_TICK", "COLLABORATOR_TIMEOUT", "CORS_ORIGINS", "AUDIT_SIGNING_KEY"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8081" || cfg.FollowUpWorkers != 4 || cfg.FollowUpTick != time.Minute || cfg.CollaboratorTimeout != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.AuditSigningKey != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("FOLLOWUP_WORKERS", "8")
	t.Setenv("FOLLOWUP_TICK", "15s")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("AUDIT_SIGNING_KEY", "  secret  ")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9000" || cfg.FollowUpWorkers != 8 || cfg.FollowUpTick != 15*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 3 || cfg.CORSOrigins[2] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.AuditSigningKey != "secret" {
		t.Fatalf("signing key not trimmed: %q", cfg.AuditSigningKey)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"FOLLOWUP_WORKERS":     "zero",
		"FOLLOWUP_TICK":        "soon",
		"COLLABORATOR_TIMEOUT": "-1s",
		"FOLLOWUP_MAX_CHECKS":  "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, val)
			}
		})
	}
}
