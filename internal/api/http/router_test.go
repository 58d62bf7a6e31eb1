package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/api/http/handlers"
	"github.com/spec-kit/moderation-service/internal/auth"
	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/observability"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository/repofake"
	"github.com/spec-kit/moderation-service/internal/service"
)

type testServer struct {
	app    *fiber.App
	mem    *repofake.Memory
	link   *remote.Link
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	mem := repofake.New()
	store := mem.Store()
	feed := repofake.NewFeed()
	localCache := cache.NewMemory()
	bus := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	link := remote.NewLink(config.RemoteConfig{
		ProbeTimeout:         time.Second,
		FailureThreshold:     1000,
		FailureWindow:        time.Minute,
		OpenCooldown:         time.Second,
		ReadTimeout:          time.Second,
		WriteTimeout:         time.Second,
		CriticalWriteTimeout: time.Second,
		MaxAttempts:          1,
	}, map[string]remote.Prober{"store": mem}, clk, logger, metrics)

	roles := service.NewRoleResolver(service.RoleResolverDependencies{
		Store: store, Feed: feed, Link: link, Cache: localCache, Dispatcher: bus, Clock: clk, Logger: logger,
		OwnerIdentityID: "owner",
	})
	resolver := service.NewSanctionResolver(service.SanctionResolverDependencies{
		Store: store, Feed: feed, Link: link, Cache: localCache, Dispatcher: bus, Clock: clk, Logger: logger,
		Metrics: metrics, PollInterval: 30 * time.Second,
	})
	reaper := service.NewReaper(service.ReaperDependencies{
		Store: store, Feed: feed, Link: link, Dispatcher: bus, Clock: clk, Logger: logger, Metrics: metrics,
		OfflineThreshold: 2 * time.Minute, DeleteThreshold: 5 * time.Minute, CleanupInterval: time.Minute,
	})
	moderation := service.NewModerationService(service.ModerationDependencies{
		Store: store, Feed: feed, Link: link, Roles: roles, Resolver: resolver, Reaper: reaper, Clock: clk,
		Logger: logger, OwnerIdentityID: "owner",
	})

	ctx := context.Background()
	require.NoError(t, store.Roles.PutAssignment(ctx, domain.RoleAssignment{IdentityID: "admin1", RoleID: domain.RoleAdmin}))
	require.NoError(t, store.Roles.PutAssignment(ctx, domain.RoleAssignment{IdentityID: "mod1", RoleID: domain.RoleModerator}))

	tokens := auth.NewTokenManager("test-secret", 5)
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second, config.RateLimitConfig{})
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("moderation-service", "test", map[string]handlers.Pinger{"store": mem}, link),
		Moderation:     handlers.NewModerationHandler(moderation),
		Roles:          handlers.NewRolesHandler(roles),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Permissions:    roles,
		Metrics:        metrics,
	})
	return &testServer{app: app, mem: mem, link: link, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, identityID string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identityID != "" {
		token, _, err := s.tokens.GenerateToken(domain.Identity{ID: identityID})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != nethttp.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func data(body map[string]any) map[string]any {
	out, _ := body["data"].(map[string]any)
	return out
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	s.mem.SetUnreachable(errors.New("connection refused"))
	s.link.Probe(context.Background())
	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, status)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	link := details["remote"].(map[string]any)
	assert.Equal(t, false, link["reachable"])
	assert.Contains(t, link["diagnostic"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, nethttp.MethodGet, "/health/live", "", nil)

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/admin/bans", "", map[string]any{"identity_id": "u1"})
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestBanEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/admin/bans", "admin1", map[string]any{
		"identity_id": "u1", "reason": "spam", "kind": "TEMPORARY", "duration_minutes": 60,
	})
	require.Equal(t, nethttp.StatusCreated, status, body)
	sanctionID := data(body)["sanction_id"]
	assert.NotEmpty(t, sanctionID)

	status, body = s.do(t, nethttp.MethodGet, "/admin/bans/u1", "mod1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, true, data(body)["banned"])
	assert.Equal(t, sanctionID, data(body)["sanction_id"])
	assert.Equal(t, float64(3600), data(body)["time_remaining_seconds"])

	status, _ = s.do(t, nethttp.MethodDelete, "/admin/bans/u1", "mod1", nil)
	assert.Equal(t, nethttp.StatusNoContent, status)

	status, body = s.do(t, nethttp.MethodGet, "/admin/bans/u1", "mod1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, false, data(body)["banned"])
}

func TestBanValidationAndPermissions(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/admin/bans", "admin1", map[string]any{
		"identity_id": "u1", "reason": "spam", "kind": "TEMPORARY",
	})
	assert.Equal(t, nethttp.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_SANCTION_DATA", errorCode(body))

	status, body = s.do(t, nethttp.MethodPost, "/admin/bans", "someone", map[string]any{
		"identity_id": "u1", "reason": "spam", "kind": "PERMANENT",
	})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "PERMISSIONS_INSUFFICIENT", errorCode(body))

	status, body = s.do(t, nethttp.MethodPost, "/admin/bans", "admin1", map[string]any{
		"identity_id": "owner", "reason": "spam", "kind": "PERMANENT",
	})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", errorCode(body))
}

func TestRoleEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPut, "/admin/roles/owner", "mod1", map[string]any{"role_id": "moderator"})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "FIXED_ROLE", errorCode(body))

	status, body = s.do(t, nethttp.MethodPut, "/admin/roles/u5", "mod1", map[string]any{"role_id": "moderator"})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "PERMISSIONS_INSUFFICIENT", errorCode(body))

	status, _ = s.do(t, nethttp.MethodPut, "/admin/roles/u5", "admin1", map[string]any{"role_id": "moderator"})
	assert.Equal(t, nethttp.StatusOK, status)

	status, body = s.do(t, nethttp.MethodGet, "/admin/roles/u5", "admin1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "moderator", data(body)["role_id"])

	status, _ = s.do(t, nethttp.MethodDelete, "/admin/roles/u9", "admin1", nil)
	assert.Equal(t, nethttp.StatusNoContent, status, "revoking a never-assigned role succeeds")

	status, body = s.do(t, nethttp.MethodPost, "/admin/role-definitions", "admin1", map[string]any{
		"id": "helper", "display_name": "Helper", "permissions": []string{"warning.issue"},
	})
	require.Equal(t, nethttp.StatusCreated, status, body)

	status, body = s.do(t, nethttp.MethodGet, "/admin/role-definitions", "admin1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, _ = s.do(t, nethttp.MethodDelete, "/admin/role-definitions/helper", "admin1", nil)
	assert.Equal(t, nethttp.StatusNoContent, status)
}

func TestWarningEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/admin/warnings", "mod1", map[string]any{
		"identity_id": "u1", "title": "Language", "message": "Keep it civil.", "dismissible": true,
	})
	require.Equal(t, nethttp.StatusCreated, status, body)
	warningID := data(body)["id"].(string)

	status, body = s.do(t, nethttp.MethodGet, "/warnings", "u1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = s.do(t, nethttp.MethodPost, "/warnings/"+warningID+"/ack", "u2", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = s.do(t, nethttp.MethodPost, "/warnings/"+warningID+"/ack", "u1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.NotEmpty(t, data(body)["acknowledged_at"])

	status, body = s.do(t, nethttp.MethodGet, "/warnings", "u1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Empty(t, body["data"])
}

func TestCleanupAndAudit(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.mem.SeedProfile(domain.Profile{IdentityID: "u1", IsOnline: true})
	s.mem.SeedSession(domain.SessionRecord{IdentityID: "u1", StartedAt: now.Add(-time.Hour), LastHeartbeatAt: now.Add(-10 * time.Minute)})

	status, body := s.do(t, nethttp.MethodPost, "/admin/presence/cleanup", "admin1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, float64(1), data(body)["expiredSessions"])
	assert.Equal(t, float64(1), data(body)["offlineUsers"])

	status, body = s.do(t, nethttp.MethodGet, "/admin/audit?limit=5", "mod1", nil)
	require.Equal(t, nethttp.StatusOK, status)
	entries := body["data"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "MANUAL_CLEANUP", entries[0].(map[string]any)["action"])
}

func TestUnreachableStoreMapsTo503(t *testing.T) {
	s := newTestServer(t)
	s.do(t, nethttp.MethodGet, "/admin/roles/u5", "admin1", nil)
	s.mem.SetUnreachable(errors.New("connection refused"))

	status, body := s.do(t, nethttp.MethodPost, "/admin/bans", "admin1", map[string]any{
		"identity_id": "u1", "reason": "spam", "kind": "PERMANENT",
	})
	assert.Equal(t, nethttp.StatusServiceUnavailable, status)
	assert.Equal(t, "REMOTE_UNREACHABLE", errorCode(body))
}

func TestRateLimiterPerIP(t *testing.T) {
	l := newIPRateLimiter(config.RateLimitConfig{PerSecond: 1, Burst: 2})
	now := time.Now()

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now), "buckets are per client")
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))
}
