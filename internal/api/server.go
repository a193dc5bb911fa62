// Package api exposes the capture engine over HTTP.
package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/auth"
	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/followup"
	"github.com/david/govcapture/internal/metrics"
	"github.com/david/govcapture/internal/models"
	"github.com/david/govcapture/internal/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Store is the read side the handlers query directly. Every write goes
// through the engine, the scheduler or the vault.
type Store interface {
	InsertOpportunity(ctx context.Context, o *models.Opportunity) error
	GetOpportunity(ctx context.Context, id uuid.UUID) (models.Opportunity, error)
	ListOpportunities(ctx context.Context, status models.OpportunityStatus, limit int) ([]models.Opportunity, error)
	SimilarOpportunities(ctx context.Context, id uuid.UUID, limit int) ([]models.Opportunity, error)
	ListSubmissions(ctx context.Context, stage models.Stage, limit int) ([]models.Submission, error)
	StageEvents(ctx context.Context, submissionID uuid.UUID) ([]models.StageEvent, error)
	ApprovalSteps(ctx context.Context, submissionID uuid.UUID) ([]models.ApprovalStep, error)
	ListFollowUps(ctx context.Context, status models.FollowUpStatus, limit int) ([]models.FollowUp, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

type Deps struct {
	Store       Store
	Auth        *auth.Service
	Engine      *pipeline.Engine
	FollowUps   *followup.Scheduler
	Vault       *audit.Vault
	Autonomy    *autonomy.Manager
	CORSOrigins []string
	AdminSecret string
}

type Server struct {
	Echo *echo.Echo
	deps Deps
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{Echo: e, deps: deps}
	e.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := s.Echo.Group("/api/v1")
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	officer := auth.RequireRole(models.RoleOfficer)

	// Everything below needs a bearer token.
	p := api.Group("", s.deps.Auth.Middleware)

	p.POST("/opportunities", s.handleCreateOpportunity)
	p.GET("/opportunities", s.handleListOpportunities)
	p.GET("/opportunities/:id", s.handleGetOpportunity)
	p.GET("/opportunities/:id/similar", s.handleSimilarOpportunities)
	p.POST("/opportunities/:id/qualify", s.handleQualify)
	p.POST("/opportunities/:id/scores", s.handleRecordScores)
	p.POST("/opportunities/:id/pursue", s.handlePursue)
	p.POST("/opportunities/:id/quick-pursue", s.handleQuickPursue)
	p.POST("/opportunities/:id/disqualify", s.handleDisqualify)

	p.GET("/submissions", s.handleListSubmissions)
	p.GET("/submissions/:id", s.handleGetSubmission)
	p.GET("/submissions/:id/history", s.handleSubmissionHistory)
	p.POST("/submissions/:id/advance", s.handleAdvance)
	p.POST("/submissions/:id/generate", s.handleGenerate)
	p.PATCH("/submissions/:id/tasks/:taskID", s.handleUpdateTask)
	p.POST("/submissions/:id/cancel", s.handleCancelSubmission)
	p.POST("/submissions/:id/approve", s.handleApprove, officer)
	p.POST("/submissions/:id/reject", s.handleReject, officer)
	p.POST("/submissions/:id/reopen", s.handleReopen, officer)
	p.POST("/submissions/:id/submit", s.handleSubmit, officer)

	p.GET("/followups", s.handleListFollowUps)
	p.GET("/followups/:id", s.handleGetFollowUp)
	p.GET("/followups/:id/checks", s.handleFollowUpChecks)
	p.POST("/followups/:id/check", s.handleCheckNow)
	p.POST("/followups/:id/cancel", s.handleCancelFollowUp)
	p.PATCH("/followups/:id/settings", s.handleFollowUpSettings)

	p.GET("/audit", s.handleListAudit, officer)
	p.GET("/audit/verify-chain", s.handleVerifyChain, officer)
	p.GET("/audit/export", s.handleExportAudit, officer)
	p.GET("/audit/:id/verify", s.handleVerifyEntry, officer)

	p.GET("/settings/autonomy", s.handleGetAutonomy)
	p.PUT("/settings/autonomy", s.handleUpdateAutonomy, auth.RequireRole(models.RoleAdmin))

	p.GET("/notifications", s.handleListNotifications)

	// Operational hooks for cron and deploy scripts.
	admin := api.Group("/admin", s.adminMiddleware)
	admin.POST("/followups/run-due", s.handleRunDue)
	admin.POST("/autonomy/reload", s.handleReloadAutonomy)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	resp, err := s.deps.Auth.Signup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	resp, err := s.deps.Auth.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListNotifications(c echo.Context) error {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	userID := c.QueryParam("user_id")
	switch {
	case userID == "":
		userID = id.Actor()
	case userID != id.Actor() && id.Role != models.RoleOfficer && id.Role != models.RoleAdmin:
		return echo.NewHTTPError(http.StatusForbidden, "only officers can read other users' notifications")
	}
	items, err := s.deps.Store.ListNotifications(c.Request().Context(), userID, parseLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleRunDue(c echo.Context) error {
	summary, err := s.deps.FollowUps.RunDue(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleReloadAutonomy(c echo.Context) error {
	if err := s.deps.Autonomy.Reload(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Autonomy.Current())
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret(s.deps.AdminSecret)
		if err != nil {
			return fmt.Errorf("admin configuration: %w", err)
		}
		given := c.Request().Header.Get("X-Admin-Secret")
		if given == "" {
			if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
				given = h[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized admin access")
		}
		return next(c)
	}
}

// adminSecret returns the configured secret, or a per-process random one
// when none is set so the admin routes are never open.
func adminSecret(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	adminSecretOnce.Do(func() {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}
		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("[api] ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})
	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	return adminSecretRuntime, nil
}

func actor(c echo.Context) string {
	id, err := auth.IdentityFrom(c)
	if err != nil {
		return "anonymous"
	}
	return id.Actor()
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

func parseLimit(c echo.Context) int {
	limit := 50
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	return limit
}

func parseTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.Parse("2006-01-02", raw); err != nil {
			return nil, badRequest(name + " must be RFC3339 or YYYY-MM-DD")
		}
	}
	return &t, nil
}
