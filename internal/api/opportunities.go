package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/david/govcapture/internal/models"
	"github.com/labstack/echo/v4"
)

type opportunityInput struct {
	ExternalRef    string     `json:"external_ref"`
	Source         string     `json:"source"`
	Title          string     `json:"title"`
	Agency         string     `json:"agency"`
	Description    string     `json:"description"`
	NAICSCode      string     `json:"naics_code"`
	PSCCode        string     `json:"psc_code"`
	SetAside       string     `json:"set_aside"`
	PostedDate     *time.Time `json:"posted_date"`
	DueDate        *time.Time `json:"due_date"`
	EstimatedValue *float64   `json:"estimated_value"`
}

func (s *Server) handleCreateOpportunity(c echo.Context) error {
	var in opportunityInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	if strings.TrimSpace(in.Title) == "" {
		return badRequest("title is required")
	}
	if in.EstimatedValue != nil && *in.EstimatedValue < 0 {
		return badRequest("estimated_value must not be negative")
	}
	opp := models.Opportunity{
		ExternalRef:    strings.TrimSpace(in.ExternalRef),
		Source:         strings.TrimSpace(in.Source),
		Title:          strings.TrimSpace(in.Title),
		Agency:         in.Agency,
		Description:    in.Description,
		NAICSCode:      in.NAICSCode,
		PSCCode:        in.PSCCode,
		SetAside:       in.SetAside,
		PostedDate:     in.PostedDate,
		DueDate:        in.DueDate,
		EstimatedValue: in.EstimatedValue,
	}
	if err := s.deps.Store.InsertOpportunity(c.Request().Context(), &opp); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, opp)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	status := models.OpportunityStatus(c.QueryParam("status"))
	opps, err := s.deps.Store.ListOpportunities(c.Request().Context(), status, parseLimit(c))
	if err != nil {
		return err
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	return c.JSON(http.StatusOK, opps)
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	opp, err := s.deps.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleSimilarOpportunities(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	limit := parseLimit(c)
	if c.QueryParam("limit") == "" {
		limit = 5
	}
	opps, err := s.deps.Store.SimilarOpportunities(c.Request().Context(), id, limit)
	if err != nil {
		return err
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	return c.JSON(http.StatusOK, opps)
}

func (s *Server) handleQualify(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	out, err := s.deps.Engine.Qualify(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type scoresInput struct {
	FitScore     *int   `json:"fit_score"`
	EffortScore  *int   `json:"effort_score"`
	UrgencyScore *int   `json:"urgency_score"`
	Summary      string `json:"summary"`
}

func scoreField(name string, v *int) (int, error) {
	if v == nil {
		return 0, badRequest(name + " is required")
	}
	if *v < 0 || *v > 100 {
		return 0, badRequest(name + " must be within 0-100")
	}
	return *v, nil
}

// handleRecordScores accepts scores produced outside the built-in qualifier
// and runs the autonomy policy on them.
func (s *Server) handleRecordScores(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in scoresInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	var sc models.Scores
	if sc.FitScore, err = scoreField("fit_score", in.FitScore); err != nil {
		return err
	}
	if sc.EffortScore, err = scoreField("effort_score", in.EffortScore); err != nil {
		return err
	}
	if sc.UrgencyScore, err = scoreField("urgency_score", in.UrgencyScore); err != nil {
		return err
	}
	sc.Summary = in.Summary

	out, err := s.deps.Engine.RecordScores(c.Request().Context(), id, sc, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handlePursue(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sub, err := s.deps.Engine.Pursue(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (s *Server) handleQuickPursue(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sub, err := s.deps.Engine.QuickPursue(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

type reasonInput struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDisqualify(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in reasonInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.deps.Engine.Disqualify(ctx, id, in.Reason, actor(c)); err != nil {
		return err
	}
	opp, err := s.deps.Store.GetOpportunity(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, opp)
}
