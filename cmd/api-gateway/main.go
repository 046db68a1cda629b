package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/syllabus-tracker-api/api/swagger"
	"github.com/noah-isme/syllabus-tracker-api/internal/handler"
	"github.com/noah-isme/syllabus-tracker-api/internal/middleware"
	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/internal/repository"
	"github.com/noah-isme/syllabus-tracker-api/internal/service"
	"github.com/noah-isme/syllabus-tracker-api/pkg/cache"
	"github.com/noah-isme/syllabus-tracker-api/pkg/config"
	"github.com/noah-isme/syllabus-tracker-api/pkg/database"
	"github.com/noah-isme/syllabus-tracker-api/pkg/jobs"
	"github.com/noah-isme/syllabus-tracker-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/syllabus-tracker-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/syllabus-tracker-api/pkg/middleware/requestid"
)

// @title Syllabus Tracker API
// @version 1.0.0
// @description Per-user syllabus progress tracking with admin rollups
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db)
	if err != nil {
		logr.Fatal("migrations failed", zap.Error(err))
	}
	if len(applied) > 0 {
		logr.Info("migrations applied", zap.Strings("versions", applied))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Analytics.CacheTTL, logr, redisClient != nil)
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	catalogSvc := service.NewCatalogService(catalogRepo, cacheSvc, metricsSvc, cfg.Catalog.CacheTTL, logr)
	preferenceSvc := service.NewPreferenceService(preferenceRepo, validate, logr)

	// The refresher needs the analytics service, which needs the progress
	// service, which notifies the refresher. Attach the queue last.
	refresher := service.NewAnalyticsRefresher(nil, logr)
	progressSvc := service.NewProgressService(progressRepo, catalogSvc, preferenceSvc, refresher, metricsSvc, logr)
	analyticsSvc := service.NewAnalyticsService(userRepo, progressSvc, catalogSvc, cacheSvc, metricsSvc, logr, service.AnalyticsConfig{
		Enabled:           cfg.Analytics.Enabled,
		CacheTTL:          cfg.Analytics.CacheTTL,
		FetchConcurrency:  cfg.Analytics.FetchConcurrency,
		FetchTimeout:      cfg.Analytics.FetchTimeout,
		NewUserWindowDays: cfg.Analytics.NewUserWindowDays,
	})
	refresher.SetInvalidator(analyticsSvc)

	refreshQueue := jobs.NewQueue("analytics-refresh", refresher.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: 256,
		MaxRetries: cfg.Jobs.Retries,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	refresher.Attach(refreshQueue)
	refreshQueue.Start(ctx)
	defer refreshQueue.Stop()

	if cfg.Catalog.SeedFile != "" {
		seedCatalog(ctx, logr, catalogSvc, cfg.Catalog.SeedFile)
	}

	dependents := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}
	if redisClient != nil {
		dependents["redis"] = cacheRepo
	} else {
		dependents["redis"] = nil
	}

	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	preferenceHandler := handler.NewPreferenceHandler(preferenceSvc)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, dependents)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	secured.GET("/catalog/tree", catalogHandler.Tree)
	secured.GET("/catalog/subjects/:id", catalogHandler.Subject)

	secured.GET("/progress", progressHandler.Overview)
	secured.GET("/progress/dashboard", progressHandler.Dashboard)
	secured.GET("/progress/kpis", progressHandler.KPIs)
	secured.GET("/progress/kpis/export", progressHandler.Export)
	secured.GET("/progress/subjects/:id", progressHandler.Subject)
	secured.PUT("/progress/subjects/:id/modules/:index", progressHandler.SetModule)
	secured.PUT("/progress/subjects/:id/modules/:index/topics/:topic", progressHandler.SetTopic)

	secured.GET("/preferences", preferenceHandler.Get)
	secured.PUT("/preferences", preferenceHandler.Update)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/analytics", analyticsHandler.Fleet)
	admin.GET("/analytics/users", analyticsHandler.Users)
	admin.GET("/analytics/users/:id", analyticsHandler.User)
	admin.GET("/analytics/system", analyticsHandler.System)
	admin.POST("/catalog", catalogHandler.Import)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("shutdown error", zap.Error(err))
	}
}

func seedCatalog(ctx context.Context, logr *zap.Logger, catalog *service.CatalogService, path string) {
	tree, err := service.LoadCatalogFile(path)
	if err != nil {
		logr.Warn("catalog seed skipped", zap.String("file", path), zap.Error(err))
		return
	}
	summary, err := catalog.Import(ctx, tree)
	if err != nil {
		logr.Warn("catalog seed failed", zap.String("file", path), zap.Error(err))
		return
	}
	logr.Info("catalog seeded",
		zap.String("file", path),
		zap.Int("branches", summary.Branches),
		zap.Int("subjects", summary.Subjects),
		zap.Int("modules", summary.Modules),
	)
}
