package api

import (
	"net/http"

	"github.com/david/govcapture/internal/followup"
	"github.com/david/govcapture/internal/models"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleListFollowUps(c echo.Context) error {
	status := models.FollowUpStatus(c.QueryParam("status"))
	items, err := s.deps.Store.ListFollowUps(c.Request().Context(), status, parseLimit(c))
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.FollowUp{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleGetFollowUp(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fu, err := s.deps.FollowUps.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fu)
}

func (s *Server) handleFollowUpChecks(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	checks, err := s.deps.FollowUps.Checks(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if checks == nil {
		checks = []models.Check{}
	}
	return c.JSON(http.StatusOK, checks)
}

// handleCheckNow runs a manual check regardless of auto_check or the
// schedule, but still within max_checks.
func (s *Server) handleCheckNow(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	res, err := s.deps.FollowUps.CheckNow(c.Request().Context(), id, models.CheckTypeManual)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCancelFollowUp(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fu, err := s.deps.FollowUps.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fu)
}

func (s *Server) handleFollowUpSettings(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in followup.Settings
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	fu, err := s.deps.FollowUps.UpdateSettings(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fu)
}
