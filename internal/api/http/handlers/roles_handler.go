package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/moderation-service/internal/api/dto"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/service"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// RolesHandler exposes role assignment and custom role endpoints.
type RolesHandler struct {
	roles *service.RoleResolver
}

// NewRolesHandler constructs handler.
func NewRolesHandler(roles *service.RoleResolver) *RolesHandler {
	return &RolesHandler{roles: roles}
}

// Get GET /admin/roles/:identityId.
func (h *RolesHandler) Get(c *fiber.Ctx) error {
	identityID := c.Params("identityId")
	role, err := h.roles.RoleOf(c.UserContext(), identityID)
	if err != nil {
		return err
	}
	perms, err := h.roles.PermissionsOf(c.UserContext(), identityID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RoleResponse{
		IdentityID:  identityID,
		RoleID:      role,
		Permissions: perms.List(),
	}})
}

// Assign PUT /admin/roles/:identityId.
func (h *RolesHandler) Assign(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req dto.AssignRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	assignment, err := h.roles.Assign(c.UserContext(), actor, c.Params("identityId"), req.RoleID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignment})
}

// Revoke DELETE /admin/roles/:identityId.
func (h *RolesHandler) Revoke(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	if err := h.roles.Revoke(c.UserContext(), actor, c.Params("identityId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Define POST /admin/role-definitions.
func (h *RolesHandler) Define(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req dto.RoleDefinitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	def, err := h.roles.DefineRole(c.UserContext(), actor, service.RoleDefinitionInput{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Color:       req.Color,
		Permissions: req.Permissions,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": def})
}

// ListDefinitions GET /admin/role-definitions.
func (h *RolesHandler) ListDefinitions(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	defs, err := h.roles.ListDefinitions(c.UserContext(), actor)
	if err != nil {
		return err
	}
	if defs == nil {
		defs = []domain.RoleDefinition{}
	}
	return c.JSON(fiber.Map{"data": defs})
}

// DeleteDefinition DELETE /admin/role-definitions/:id.
func (h *RolesHandler) DeleteDefinition(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	if err := h.roles.DeleteDefinition(c.UserContext(), actor, domain.RoleID(c.Params("id"))); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
