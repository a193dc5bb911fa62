package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/david/govcapture/internal/approval"
	"github.com/david/govcapture/internal/audit"
	"github.com/david/govcapture/internal/auth"
	"github.com/david/govcapture/internal/autonomy"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/followup"
	"github.com/david/govcapture/internal/pipeline"
	"github.com/labstack/echo/v4"
)

// Error kinds returned in the "error" field of every failed response.
const (
	KindInvalidTransition  = "InvalidTransition"
	KindOutOfOrder         = "OutOfOrder"
	KindReasonRequired     = "ReasonRequired"
	KindApprovalIncomplete = "ApprovalIncomplete"
	KindIntegrityFailure   = "IntegrityFailure"
	KindExternal           = "ExternalCollaboratorError"
	KindScheduleExhausted  = "ScheduleExhausted"
	KindNotFound           = "NotFound"
	KindTaskLocked         = "TaskLocked"
	KindInvalidRequest     = "InvalidRequest"
	KindUnauthorized       = "Unauthorized"
	KindForbidden          = "Forbidden"
	KindUserExists         = "UserExists"
	KindTimeout            = "Timeout"
	KindInternal           = "Internal"
)

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

var kindRules = []struct {
	target error
	status int
	kind   string
}{
	{db.ErrNotFound, http.StatusNotFound, KindNotFound},
	{pipeline.ErrTaskNotFound, http.StatusNotFound, KindNotFound},
	{approval.ErrOutOfOrder, http.StatusConflict, KindOutOfOrder},
	{approval.ErrReasonRequired, http.StatusBadRequest, KindReasonRequired},
	{approval.ErrApprovalIncomplete, http.StatusConflict, KindApprovalIncomplete},
	{approval.ErrSubmissionClosed, http.StatusConflict, KindInvalidTransition},
	{pipeline.ErrInvalidTransition, http.StatusConflict, KindInvalidTransition},
	{pipeline.ErrTaskLocked, http.StatusConflict, KindTaskLocked},
	{followup.ErrFollowUpClosed, http.StatusConflict, KindInvalidTransition},
	{followup.ErrScheduleExhausted, http.StatusConflict, KindScheduleExhausted},
	{followup.ErrInvalidSettings, http.StatusBadRequest, KindInvalidRequest},
	{autonomy.ErrInvalidConfig, http.StatusBadRequest, KindInvalidRequest},
	{audit.ErrIntegrityFailure, http.StatusConflict, KindIntegrityFailure},
	{collab.ErrExternal, http.StatusBadGateway, KindExternal},
	{auth.ErrUserExists, http.StatusConflict, KindUserExists},
	{auth.ErrInvalidCreds, http.StatusUnauthorized, KindUnauthorized},
	{auth.ErrInvalidSignup, http.StatusBadRequest, KindInvalidRequest},
	{auth.ErrForbiddenRole, http.StatusForbidden, KindForbidden},
	{db.ErrConflict, http.StatusConflict, KindInvalidTransition},
	{errBadRequest, http.StatusBadRequest, KindInvalidRequest},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, KindTimeout},
}

// classify maps an error to its HTTP status and kind.
func classify(err error) (int, string) {
	for _, r := range kindRules {
		if errors.Is(err, r.target) {
			return r.status, r.kind
		}
	}
	return http.StatusInternalServerError, KindInternal
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return KindInvalidRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindInvalidTransition
	default:
		return KindInternal
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var status int
	body := errorBody{Message: err.Error()}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		body.Error = kindForStatus(he.Code)
		body.Message = fmt.Sprint(he.Message)
	} else {
		status, body.Error = classify(err)
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
