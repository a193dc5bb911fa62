// Package app wires the capture engine together from a config.Config. Both
// the HTTP server and capturectl build on it.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/david/govcapture/internal/ai"
	"github.com/david/govcapture/internal/api"
	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/auth"
	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/config"
	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/followup"
	"github.com/david/govcapture/internal/pipeline"
	"github.com/david/govcapture/internal/portal"
	"github.com/david/govcapture/internal/worker"
)

// Backend is everything the engine persists. *db.Store and *db.MemoryStore
// both satisfy it.
type Backend interface {
	pipeline.Store
	followup.Store
	audit.LedgerStore
	autonomy.SettingsStore
	auth.UserStore
	api.Store
	collab.Notifier
}

type App struct {
	Config    config.Config
	Backend   Backend
	Vault     *audit.Vault
	Autonomy  *autonomy.Manager
	Auth      *auth.Service
	Engine    *pipeline.Engine
	FollowUps *followup.Scheduler
	Jobs      *worker.Pool

	closers []func()
}

// New connects storage and builds every service. With requireDB set, a
// missing DATABASE_URL is an error instead of a fallback to memory.
func New(ctx context.Context, cfg config.Config, requireDB bool) (*App, error) {
	a := &App{Config: cfg}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.Backend = db.NewStore(pool)
	case requireDB:
		return nil, fmt.Errorf("DATABASE_URL is not set")
	default:
		log.Printf("[app] DATABASE_URL not set; state is kept in memory and lost on exit")
		a.Backend = db.NewMemoryStore()
	}

	defaults, err := autonomy.LoadDefaults(cfg.AutonomyConfigPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("autonomy defaults: %w", err)
	}
	a.Autonomy = autonomy.NewManager(a.Backend, defaults)
	if err := a.Autonomy.Reload(ctx); err != nil {
		log.Printf("[app] using autonomy defaults: %v", err)
	}

	a.Vault = audit.NewVault(a.Backend, []byte(cfg.AuditSigningKey))

	a.Auth, err = auth.NewService(a.Backend, cfg.JWTSecret, cfg.AdminSecret)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry, err := portal.LoadRegistry(cfg.PortalsConfigPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("portal registry: %w", err)
	}

	llm := ai.NewOllamaClient(cfg.OllamaHost, cfg.OllamaEmbedModel, cfg.OllamaGenModel)
	lookup := portal.NewLookup(registry, portal.LookupOptions{
		Reader:      ai.NewStatusReader(llm),
		CompanyName: cfg.CompanyName,
	})

	a.FollowUps = followup.NewScheduler(a.Backend, lookup, a.Vault, a.Backend, followup.Options{
		IntervalHours: cfg.FollowUpIntervalHours,
		MaxChecks:     cfg.FollowUpMaxChecks,
		Workers:       cfg.FollowUpWorkers,
		Timeout:       cfg.CollaboratorTimeout,
	})

	a.Jobs = worker.NewPool(context.WithoutCancel(ctx), "generate", cfg.FollowUpWorkers)
	a.closers = append([]func(){a.Jobs.Close}, a.closers...)

	a.Engine = pipeline.New(a.Backend, a.Vault, a.Autonomy, pipeline.Options{
		Qualifier:    ai.NewQualifier(llm, cfg.CompanyProfile),
		Generator:    ai.NewProposalWriter(llm, cfg.CompanyProfile),
		Portal:       portal.NewAutomation(cfg.AutomationURL, registry),
		FollowUps:    a.FollowUps,
		Jobs:         a.Jobs,
		DefaultOwner: cfg.DefaultOwner,
		Timeout:      cfg.CollaboratorTimeout,
	})
	return a, nil
}

// Server builds the HTTP API on top of the app.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Store:       a.Backend,
		Auth:        a.Auth,
		Engine:      a.Engine,
		FollowUps:   a.FollowUps,
		Vault:       a.Vault,
		Autonomy:    a.Autonomy,
		CORSOrigins: a.Config.CORSOrigins,
		AdminSecret: a.Config.AdminSecret,
	})
}

// Close stops background jobs, then releases storage.
func (a *App) Close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}
