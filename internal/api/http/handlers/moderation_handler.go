package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/moderation-service/internal/api/dto"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/service"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// ModerationHandler exposes bans, warnings, cleanup and audit endpoints.
type ModerationHandler struct {
	service *service.ModerationService
}

// NewModerationHandler constructs handler.
func NewModerationHandler(moderation *service.ModerationService) *ModerationHandler {
	return &ModerationHandler{service: moderation}
}

// IssueBan POST /admin/bans.
func (h *ModerationHandler) IssueBan(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req dto.IssueBanRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	sanction, err := h.service.IssueBan(c.UserContext(), actor, service.IssueBanInput{
		IdentityID: req.IdentityID,
		Reason:     req.Reason,
		Kind:       req.Kind,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": sanctionResponse(sanction)})
}

// RevokeBan DELETE /admin/bans/:identityId.
func (h *ModerationHandler) RevokeBan(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	if err := h.service.RevokeBan(c.UserContext(), actor, c.Params("identityId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// BanStatus GET /admin/bans/:identityId.
func (h *ModerationHandler) BanStatus(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	identityID := c.Params("identityId")
	res, err := h.service.BanStatus(c.UserContext(), actor, identityID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": banStatusResponse(identityID, res)})
}

// IssueWarning POST /admin/warnings.
func (h *ModerationHandler) IssueWarning(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req dto.IssueWarningRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	warning, err := h.service.IssueWarning(c.UserContext(), actor, service.IssueWarningInput{
		IdentityID:  req.IdentityID,
		Title:       req.Title,
		Message:     req.Message,
		Severity:    req.Severity,
		Dismissible: req.Dismissible,
		ExpiresIn:   time.Duration(req.ExpiresInMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": warning})
}

// MyWarnings GET /warnings.
func (h *ModerationHandler) MyWarnings(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.service.OutstandingWarnings(c.UserContext(), actor)})
}

// AcknowledgeWarning POST /warnings/:id/ack.
func (h *ModerationHandler) AcknowledgeWarning(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	warning, err := h.service.AcknowledgeWarning(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": warning})
}

// TriggerCleanup POST /admin/presence/cleanup.
func (h *ModerationHandler) TriggerCleanup(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	summary, err := h.service.TriggerCleanup(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// RecentAudit GET /admin/audit.
func (h *ModerationHandler) RecentAudit(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	entries, err := h.service.RecentAudit(c.UserContext(), actor, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return c.JSON(fiber.Map{"data": entries})
}

func sanctionResponse(s *domain.SanctionRecord) dto.SanctionResponse {
	return dto.SanctionResponse{
		SanctionID: s.SanctionID,
		IdentityID: s.IdentityID,
		Reason:     s.Reason,
		Kind:       s.Kind,
		IssuedAt:   s.IssuedAt,
		ExpiresAt:  s.ExpiresAt,
		IssuedBy:   s.IssuedBy,
	}
}

func banStatusResponse(identityID string, res service.Resolution) dto.BanStatusResponse {
	out := dto.BanStatusResponse{
		IdentityID: identityID,
		Banned:     res.Banned,
		Source:     string(res.Source),
	}
	if !res.Banned {
		return out
	}
	bannedAt := res.BannedAt
	out.SanctionID = res.SanctionID
	out.Reason = res.Reason
	out.Kind = res.Kind
	out.ExpiresAt = res.ExpiresAt
	out.TimeRemainingSeconds = int64(res.TimeRemaining / time.Second)
	out.BannedAt = &bannedAt
	out.BannedBy = res.BannedBy
	return out
}
