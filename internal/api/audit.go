package api

import (
	"fmt"
	"net/http"

	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func auditFilter(c echo.Context) (models.AuditFilter, error) {
	f := models.AuditFilter{
		Portal: c.QueryParam("portal"),
		Status: c.QueryParam("status"),
		Limit:  parseLimit(c),
	}
	if raw := c.QueryParam("submission_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, badRequest("invalid submission_id")
		}
		f.SubmissionID = &id
	}
	var err error
	if f.From, err = parseTime(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListAudit(c echo.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return err
	}
	entries, err := s.deps.Vault.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// handleVerifyEntry returns the verdict for one entry. A failed verification
// is answered with IntegrityFailure and the verdict attached.
func (s *Server) handleVerifyEntry(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	verdict, err := s.deps.Vault.Verify(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !verdict.Valid {
		return c.JSON(http.StatusConflict, errorBody{
			Error:   KindIntegrityFailure,
			Message: verdict.Message,
			Details: verdict,
		})
	}
	return c.JSON(http.StatusOK, verdict)
}

func (s *Server) handleVerifyChain(c echo.Context) error {
	report, err := s.deps.Vault.VerifyChain(c.Request().Context())
	if err != nil {
		return err
	}
	if !report.Valid {
		return c.JSON(http.StatusConflict, errorBody{
			Error:   KindIntegrityFailure,
			Message: report.Message,
			Details: report,
		})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleExportAudit(c echo.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return err
	}
	if c.QueryParam("limit") == "" {
		f.Limit = 0
	}
	snap, err := s.deps.Vault.Export(c.Request().Context(), f)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("audit-export-%s.json", snap.ExportedAt.Format("20060102T150405Z"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.JSON(http.StatusOK, snap)
}
