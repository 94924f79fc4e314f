package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HasRole reports whether the caller holds one of roles. Super admins hold
// every role.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleSuperAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// CanAccessClinic reports whether the caller may act on the given clinic.
// Super admins reach every clinic; everyone else only their own.
func CanAccessClinic(ctx context.Context, clinicID uuid.UUID) bool {
	if HasRole(ctx, RoleSuperAdmin) {
		return true
	}
	own, ok := ClinicIDFromContext(ctx)
	return ok && own == clinicID
}

// RequireClinicScope returns middleware that restricts a route to callers
// who can access the clinic named by the path parameter param.
func RequireClinicScope(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := uuid.Parse(c.Param(param))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
			}
			if !CanAccessClinic(c.Request().Context(), id) {
				return echo.NewHTTPError(http.StatusForbidden, "clinic access denied")
			}
			return next(c)
		}
	}
}
