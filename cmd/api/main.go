package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/moderation-service/internal/api/http"
	"github.com/spec-kit/moderation-service/internal/api/http/handlers"
	"github.com/spec-kit/moderation-service/internal/auth"
	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/observability"
	"github.com/spec-kit/moderation-service/internal/persistence"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	"github.com/spec-kit/moderation-service/internal/service"
	"github.com/spec-kit/moderation-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(cfg.Postgres.DSN, cfg.Postgres.MigrationsPath, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	cacheDB, err := persistence.OpenSQLite(cfg.Cache, logger, cache.PrepareSchema)
	if err != nil {
		logger.Fatal("failed to open local cache", zap.Error(err))
	}
	defer cacheDB.Close() //nolint:errcheck

	clk := clock.Real()
	metrics := observability.NewMetrics()
	store := repository.NewPostgresStore(pg.PoolHandle())
	feed := repository.NewRedisChangeFeed(redis.Client, cfg.Redis.ChannelPrefix, logger)
	localCache := cache.NewSQLite(cacheDB)
	dispatcher := events.NewInMemoryDispatcher()

	backends := map[string]remote.Prober{"postgres": pg, "redis": redis}
	link := remote.NewLink(cfg.Remote, backends, clk, logger, metrics)

	roles := service.NewRoleResolver(service.RoleResolverDependencies{
		Store:           store,
		Feed:            feed,
		Link:            link,
		Cache:           localCache,
		Dispatcher:      dispatcher,
		Clock:           clk,
		Logger:          logger,
		OwnerIdentityID: cfg.App.OwnerIdentityID,
	})
	resolver := service.NewSanctionResolver(service.SanctionResolverDependencies{
		Store:        store,
		Feed:         feed,
		Link:         link,
		Cache:        localCache,
		Dispatcher:   dispatcher,
		Clock:        clk,
		Logger:       logger,
		Metrics:      metrics,
		PollInterval: cfg.Resolver.PollInterval,
	})
	presence := service.NewPresenceTracker(service.PresenceTrackerDependencies{
		Store:             store,
		Feed:              feed,
		Link:              link,
		Cache:             localCache,
		Dispatcher:        dispatcher,
		Clock:             clk,
		Logger:            logger,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		StaleAfter:        cfg.Presence.OfflineThreshold,
	})
	reaper := service.NewReaper(service.ReaperDependencies{
		Store:            store,
		Feed:             feed,
		Link:             link,
		Dispatcher:       dispatcher,
		Clock:            clk,
		Logger:           logger,
		Metrics:          metrics,
		OfflineThreshold: cfg.Presence.OfflineThreshold,
		DeleteThreshold:  cfg.Presence.DeleteThreshold,
		CleanupInterval:  cfg.Presence.CleanupInterval,
	})
	enforcement := service.NewEnforcementController(service.EnforcementDependencies{
		Dispatcher:    dispatcher,
		Cache:         localCache,
		Presenter:     service.LogPresenter{Logger: logger.Named("presenter")},
		Clock:         clk,
		Logger:        logger,
		Metrics:       metrics,
		GracePeriod:   cfg.Enforcement.GracePeriod,
		RedirectRoute: cfg.Enforcement.RedirectRoute,
	})
	moderation := service.NewModerationService(service.ModerationDependencies{
		Store:           store,
		Feed:            feed,
		Link:            link,
		Roles:           roles,
		Resolver:        resolver,
		Reaper:          reaper,
		Clock:           clk,
		Logger:          logger,
		OwnerIdentityID: cfg.App.OwnerIdentityID,
	})
	guard := service.NewGuard(service.GuardDependencies{
		Resolver:    resolver,
		Presence:    presence,
		Roles:       roles,
		Enforcement: enforcement,
		Feed:        feed,
		Cache:       localCache,
		Clock:       clk,
		Logger:      logger,
	})

	workers := worker.NewGroup(logger)
	workers.StartSubscriber("enforcement", enforcement)
	workers.StartLoop(ctx, "remote-probe", link)
	if cfg.Presence.RunReaper {
		workers.StartLoop(ctx, "reaper", reaper)
	}

	if cfg.App.LocalIdentityID != "" {
		identity := domain.Identity{ID: cfg.App.LocalIdentityID, Username: cfg.App.LocalUsername}
		if err := guard.Activate(ctx, identity); err != nil {
			logger.Error("activate local identity", zap.String("identity_id", identity.ID), zap.Error(err))
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.RateLimit)

	healthBackends := map[string]handlers.Pinger{"postgres": pg, "redis": redis}
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthBackends, link),
		Moderation:     handlers.NewModerationHandler(moderation),
		Roles:          handlers.NewRolesHandler(roles),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Permissions:    roles,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	guard.Deactivate()
	workers.Stop()
	cancel()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
