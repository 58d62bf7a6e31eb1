package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/moderation-service/internal/remote"
)

// Pinger is a backend that can report its liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LinkStatus is the health view of the remote link.
type LinkStatus interface {
	Reachable() bool
	Diagnostic() string
	LastChecked() time.Time
	BreakerState() remote.State
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	backends    map[string]Pinger
	link        LinkStatus
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, backends map[string]Pinger, link LinkStatus) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, backends: backends, link: link}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies and the link.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true

	for name, backend := range h.backends {
		if err := backend.Ping(ctx); err != nil {
			depStatus[name] = err.Error()
			ready = false
		} else {
			depStatus[name] = "ok"
		}
	}

	if h.link != nil {
		link := fiber.Map{
			"reachable": h.link.Reachable(),
			"breaker":   h.link.BreakerState().String(),
		}
		if diag := h.link.Diagnostic(); diag != "" {
			link["diagnostic"] = diag
		}
		if checked := h.link.LastChecked(); !checked.IsZero() {
			link["last_checked"] = checked
		}
		depStatus["remote"] = link
		if !h.link.Reachable() {
			ready = false
		}
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}
