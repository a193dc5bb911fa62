package api

import (
	"net/http"

	"github.com/david/govcapture/internal/autonomy"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleGetAutonomy(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Autonomy.Current())
}

func (s *Server) handleUpdateAutonomy(c echo.Context) error {
	var cfg autonomy.Config
	if err := c.Bind(&cfg); err != nil {
		return badRequest("invalid request body")
	}
	snap, err := s.deps.Autonomy.Update(c.Request().Context(), cfg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}
