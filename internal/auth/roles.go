package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	apperrors "github.com/spec-kit/ticket-dashboard/pkg/util/errorutil"
)

// RequirePrivilege ensures the caller holds every listed privilege.
func RequirePrivilege(required ...domain.Privilege) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, p := range required {
			if !principal.Has(p) {
				return apperrors.NewForbidden("missing privilege " + string(p))
			}
		}
		return c.Next()
	}
}
