package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/david/govcapture/internal/models"
	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

// Middleware validates the bearer token and stores the caller's Identity in
// the echo context.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}
		id, err := s.ParseToken(parts[1])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(identityKey, id)
		return next(c)
	}
}

// RequireRole lets the request through only for the listed roles. Admins
// always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := IdentityFrom(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if id.Role == models.RoleAdmin {
				return next(c)
			}
			for _, r := range roles {
				if id.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "role "+id.Role+" may not perform this action")
		}
	}
}

func IdentityFrom(c echo.Context) (Identity, error) {
	id, ok := c.Get(identityKey).(Identity)
	if !ok {
		return Identity{}, errors.New("identity not found in context")
	}
	return id, nil
}
