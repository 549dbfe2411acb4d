package auth

import (
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
)

// RequireRole admits callers holding any of roles. Admins are admitted
// everywhere. Rejections use the shared error body so clients see the same
// shape as service errors.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	need := strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			held := RolesFromContext(c.Request().Context())
			if slices.Contains(held, RoleAdmin) || slices.ContainsFunc(roles, func(r string) bool {
				return slices.Contains(held, r)
			}) {
				return next(c)
			}
			return apperr.ToHTTP(apperr.PermissionDenied("ROLE_REQUIRED", "This action requires the "+need+" role."))
		}
	}
}
