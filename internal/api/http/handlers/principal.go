package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/moderation-service/internal/auth"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

func actorID(c *fiber.Ctx) (string, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Identity.IsZero() {
		return "", apperrors.NewUnauthorized("authentication required")
	}
	return principal.Identity.ID, nil
}
