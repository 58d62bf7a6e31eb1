package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/moderation-service/internal/domain"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// PermissionChecker resolves whether an identity holds a capability.
type PermissionChecker interface {
	Require(ctx context.Context, actorID string, perm domain.Permission) error
}

// RequireAuthenticated ensures a principal was loaded.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequirePermission ensures the principal holds perm. Services check again
// on every write; this gate only fails fast at the edge.
func RequirePermission(checker PermissionChecker, perm domain.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if err := checker.Require(c.UserContext(), principal.Identity.ID, perm); err != nil {
			return err
		}
		return c.Next()
	}
}
