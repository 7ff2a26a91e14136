package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/sandialabs/scot4-api-sub002/internal/app"
	"github.com/sandialabs/scot4-api-sub002/internal/auth"
	"github.com/sandialabs/scot4-api-sub002/internal/entities"
	"github.com/sandialabs/scot4-api-sub002/internal/objects"
	"github.com/sandialabs/scot4-api-sub002/internal/observability"
	"github.com/sandialabs/scot4-api-sub002/internal/perm"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/cache"
	"github.com/sandialabs/scot4-api-sub002/internal/platform/db"
	"github.com/sandialabs/scot4-api-sub002/internal/roles"
	"github.com/sandialabs/scot4-api-sub002/internal/shared"
	"github.com/sandialabs/scot4-api-sub002/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	validate := validator.New()
	registry := entities.DefaultRegistry()
	auditLogger := shared.NewAuditLogger(pool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	permCache := perm.NewCache(redisClient, cfg.PermCacheTTL)
	permCache.SetMetrics(metrics)
	permStore := perm.NewStore(pool, registry)
	permResolver := perm.NewResolver(permStore, permCache)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, auditLogger, logger, cfg.RoleAutoCreate)
	rolesHandler := roles.NewHandler(logger, rolesService, validate)

	sessions := auth.NewSessionStore(redisClient, cfg.SessionTTL)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessions, auth.Config{
		EveryoneRoleID: cfg.EveryoneRole(),
		SuperuserName:  cfg.SuperuserName,
	}, logger)
	authHandler := auth.NewHandler(logger, authService, validate)
	authMiddleware := auth.Middleware{
		Service:           authService,
		Roles:             rolesService,
		Logger:            logger,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}

	systemDefaults, err := perm.ParseDefaultPermissions(cfg.DefaultPermissions)
	if err != nil {
		logger.Error("parse default permissions", slog.Any("error", err))
		os.Exit(1)
	}

	permService := perm.NewService(permStore, perm.ServiceConfig{
		EveryoneRoleID: cfg.EveryoneRole(),
		SystemDefaults: systemDefaults,
	}, auditLogger, jobClient, permCache, authService, logger)
	permHandler := perm.NewHandler(logger, permService, permResolver)
	permMiddleware := perm.Middleware{Resolver: permResolver, Logger: logger, Metrics: metrics}

	queryEngine := perm.NewQueryEngine(pool, registry, permResolver)
	objectsHandler := objects.NewHandler(logger, queryEngine, permMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		RolesHandler:   rolesHandler,
		PermHandler:    permHandler,
		PermMiddleware: permMiddleware,
		ObjectsHandler: objectsHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
