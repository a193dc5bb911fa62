package api

import (
	"net/http"

	"github.com/david/govcapture/internal/models"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleListSubmissions(c echo.Context) error {
	stage := models.Stage(c.QueryParam("stage"))
	subs, err := s.deps.Store.ListSubmissions(c.Request().Context(), stage, parseLimit(c))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	return c.JSON(http.StatusOK, subs)
}

func (s *Server) handleGetSubmission(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sub, err := s.deps.Engine.GetSubmission(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

type historyResponse struct {
	StageEvents   []models.StageEvent   `json:"stage_events"`
	ApprovalSteps []models.ApprovalStep `json:"approval_steps"`
}

func (s *Server) handleSubmissionHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.deps.Engine.GetSubmission(ctx, id); err != nil {
		return err
	}
	events, err := s.deps.Store.StageEvents(ctx, id)
	if err != nil {
		return err
	}
	steps, err := s.deps.Store.ApprovalSteps(ctx, id)
	if err != nil {
		return err
	}
	resp := historyResponse{StageEvents: events, ApprovalSteps: steps}
	if resp.StageEvents == nil {
		resp.StageEvents = []models.StageEvent{}
	}
	if resp.ApprovalSteps == nil {
		resp.ApprovalSteps = []models.ApprovalStep{}
	}
	return c.JSON(http.StatusOK, resp)
}

type advanceInput struct {
	Stage models.Stage `json:"pipeline_stage"`
}

func (s *Server) handleAdvance(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in advanceInput
	if err := c.Bind(&in); err != nil || in.Stage == "" {
		return badRequest("pipeline_stage is required")
	}
	sub, err := s.deps.Engine.Advance(c.Request().Context(), id, in.Stage, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (s *Server) handleGenerate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sub, err := s.deps.Engine.Generate(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

type taskInput struct {
	Completed *bool `json:"completed"`
}

func (s *Server) handleUpdateTask(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	taskID, err := parseID(c, "taskID")
	if err != nil {
		return err
	}
	var in taskInput
	if err := c.Bind(&in); err != nil || in.Completed == nil {
		return badRequest("completed is required")
	}
	sub, err := s.deps.Engine.UpdateTask(c.Request().Context(), id, taskID, *in.Completed, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (s *Server) handleCancelSubmission(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in reasonInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	sub, err := s.deps.Engine.Cancel(c.Request().Context(), id, in.Reason, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

type gateInput struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

type gateResponse struct {
	Submission models.Submission   `json:"submission"`
	Step       models.ApprovalStep `json:"approval_step"`
}

func (s *Server) handleApprove(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in gateInput
	if err := c.Bind(&in); err != nil || in.Step == "" {
		return badRequest("step is required")
	}
	sub, step, err := s.deps.Engine.Approve(c.Request().Context(), id, in.Step, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gateResponse{Submission: sub, Step: step})
}

func (s *Server) handleReject(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in gateInput
	if err := c.Bind(&in); err != nil || in.Step == "" {
		return badRequest("step is required")
	}
	sub, step, err := s.deps.Engine.Reject(c.Request().Context(), id, in.Step, in.Reason, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gateResponse{Submission: sub, Step: step})
}

func (s *Server) handleReopen(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sub, err := s.deps.Engine.Reopen(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

type submitInput struct {
	DryRun bool `json:"dry_run"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in submitInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	if c.QueryParam("dry_run") == "true" {
		in.DryRun = true
	}
	res, err := s.deps.Engine.Submit(c.Request().Context(), id, actor(c), in.DryRun)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
