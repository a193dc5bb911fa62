// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	CORSOrigins []string

	OllamaHost       string
	OllamaGenModel   string
	OllamaEmbedModel string
	CompanyName      string
	CompanyProfile   string

	AuditSigningKey string
	JWTSecret       string
	AdminSecret     string

	AutomationURL       string
	CollaboratorTimeout time.Duration
	DefaultOwner        string

	FollowUpWorkers       int
	FollowUpTick          time.Duration
	FollowUpIntervalHours int
	FollowUpMaxChecks     int

	AutonomyConfigPath string
	PortalsConfigPath  string
	SettingsReload     time.Duration
}

// Load reads the environment. Unset values fall back to defaults that work
// for local development; malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               getenv("PORT", "8081"),
		CORSOrigins:        []string{"http://localhost:4200"},
		OllamaHost:         getenv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaGenModel:     getenv("OLLAMA_GEN_MODEL", "qwen2.5:14b"),
		OllamaEmbedModel:   getenv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		CompanyName:        os.Getenv("COMPANY_NAME"),
		CompanyProfile:     os.Getenv("COMPANY_PROFILE"),
		AuditSigningKey:    strings.TrimSpace(os.Getenv("AUDIT_SIGNING_KEY")),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AdminSecret:        strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		AutomationURL:      os.Getenv("AUTOMATION_URL"),
		DefaultOwner:       getenv("DEFAULT_OWNER", "capture-team"),
		AutonomyConfigPath: os.Getenv("AUTONOMY_CONFIG"),
		PortalsConfigPath:  os.Getenv("PORTALS_CONFIG"),
	}
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	var err error
	if cfg.FollowUpWorkers, err = intEnv("FOLLOWUP_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.FollowUpIntervalHours, err = intEnv("FOLLOWUP_INTERVAL_HOURS", 24); err != nil {
		return Config{}, err
	}
	if cfg.FollowUpMaxChecks, err = intEnv("FOLLOWUP_MAX_CHECKS", 30); err != nil {
		return Config{}, err
	}
	if cfg.FollowUpTick, err = durationEnv("FOLLOWUP_TICK", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CollaboratorTimeout, err = durationEnv("COLLABORATOR_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SettingsReload, err = durationEnv("SETTINGS_RELOAD", 30*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return v, nil
}
