package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/moderation-service/internal/api/http/handlers"
	"github.com/spec-kit/moderation-service/internal/auth"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Moderation     *handlers.ModerationHandler
	Roles          *handlers.RolesHandler
	AuthMiddleware *auth.AuthMiddleware
	Permissions    auth.PermissionChecker
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	can := func(perm domain.Permission) fiber.Handler {
		return auth.RequirePermission(cfg.Permissions, perm)
	}

	warnings := app.Group("/warnings", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	warnings.Get("/", cfg.Moderation.MyWarnings)
	warnings.Post("/:id/ack", cfg.Moderation.AcknowledgeWarning)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())

	admin.Post("/bans", can(domain.PermBanIssue), cfg.Moderation.IssueBan)
	admin.Get("/bans/:identityId", can(domain.PermBanIssue), cfg.Moderation.BanStatus)
	admin.Delete("/bans/:identityId", can(domain.PermBanRevoke), cfg.Moderation.RevokeBan)

	admin.Post("/warnings", can(domain.PermWarningIssue), cfg.Moderation.IssueWarning)

	// Role writes report FIXED_ROLE before any capability failure, so the
	// resolver performs the permission check itself.
	admin.Get("/roles/:identityId", can(domain.PermRoleAssign), cfg.Roles.Get)
	admin.Put("/roles/:identityId", cfg.Roles.Assign)
	admin.Delete("/roles/:identityId", cfg.Roles.Revoke)

	admin.Post("/role-definitions", can(domain.PermRoleDefine), cfg.Roles.Define)
	admin.Get("/role-definitions", cfg.Roles.ListDefinitions)
	admin.Delete("/role-definitions/:id", can(domain.PermRoleDefine), cfg.Roles.DeleteDefinition)

	admin.Post("/presence/cleanup", can(domain.PermPresenceClean), cfg.Moderation.TriggerCleanup)
	admin.Get("/audit", can(domain.PermAuditRead), cfg.Moderation.RecentAudit)
}
