package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classroom-client/api/swagger"
	"github.com/noah-isme/classroom-client/internal/gateway"
	"github.com/noah-isme/classroom-client/internal/handler"
	internalmiddleware "github.com/noah-isme/classroom-client/internal/middleware"
	"github.com/noah-isme/classroom-client/internal/repository"
	"github.com/noah-isme/classroom-client/internal/service"
	"github.com/noah-isme/classroom-client/pkg/cache"
	"github.com/noah-isme/classroom-client/pkg/config"
	"github.com/noah-isme/classroom-client/pkg/database"
	"github.com/noah-isme/classroom-client/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-client/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-client/pkg/middleware/requestid"
)

// @title Classroom Client API
// @version 1.0.0
// @description Local API over the student classroom session and aggregation engine
// @BasePath /
// @schemes http

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var redisClient *redis.Client
	if cfg.Session.Store == config.StoreRedis || cfg.ViewCache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
	}

	var store service.SessionStore
	switch cfg.Session.Store {
	case config.StoreRedis:
		store = repository.NewRedisSessionStore(redisClient, cfg.Session.Scope)
	case config.StorePostgres:
		db, dbErr := database.NewPostgres(ctx, cfg.Database)
		if dbErr != nil {
			logr.Fatal("failed to connect database", zap.Error(dbErr))
		}
		pgStore := repository.NewPostgresSessionStore(db, cfg.Session.Scope)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logr.Fatal("failed to prepare session table", zap.Error(err))
		}
		defer pgStore.Close() //nolint:errcheck
		store = pgStore
	default:
		logr.Warn("using in-memory session store, sessions will not survive a restart")
		store = repository.NewMemorySessionStore()
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()
	session := service.NewSession(store)

	var authSvc *service.AuthService
	gw := gateway.New(gateway.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		Timeout:  cfg.Gateway.Timeout,
		Tokens:   func(ctx context.Context) (string, error) { return authSvc.Token(ctx) },
		Observer: metricsSvc,
		Logger:   logr.Named("gateway"),
	})
	authSvc = service.NewAuthService(gw, session, validate, logr.Named("auth"))

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.ViewCache.TTL, logr, cfg.ViewCache.Enabled)

	aggregator := service.NewAggregatorService(gw, metricsSvc, logr.Named("aggregator"))
	classroomSvc := service.NewClassroomSessionService(service.ClassroomSessionServiceParams{
		Session:    session,
		Aggregator: aggregator,
		Gateway:    gw,
		Cache:      cacheSvc,
		Metrics:    metricsSvc,
		Logger:     logr.Named("classroom"),
		Config:     service.ClassroomSessionConfig{Scope: cfg.Session.Scope, CacheTTL: cfg.ViewCache.TTL},
	})
	submissionSvc := service.NewSubmissionService(validate, service.SubmissionConfig{ClearOnUnsubmit: cfg.Submissions.ClearOnUnsubmit}, logr.Named("submissions"))
	exportSvc := service.NewExportService(classroomSvc, cfg.Exports.Enabled, logr.Named("export"), nil, nil)

	authSvc.OnSignOut(classroomSvc.Reset)
	authSvc.OnSignOut(submissionSvc.Reset)
	classroomSvc.OnChange(submissionSvc.Reset)

	if _, err := classroomSvc.Initialize(ctx); err != nil {
		logr.Warn("classroom not loaded at startup", zap.Error(err))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	classroomHandler := handler.NewClassroomHandler(classroomSvc, exportSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	auth := r.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", authHandler.Me)

	requireSession := internalmiddleware.RequireSession(authSvc)

	classroom := r.Group("/classroom", requireSession)
	classroom.GET("", classroomHandler.Get)
	classroom.DELETE("", classroomHandler.Leave)
	classroom.POST("/initialize", classroomHandler.Initialize)
	classroom.POST("/join", classroomHandler.Join)
	classroom.POST("/refresh", classroomHandler.Refresh)
	classroom.GET("/export", classroomHandler.Export)

	assignments := r.Group("/assignments/:id", requireSession)
	assignments.GET("/draft", submissionHandler.Draft)
	assignments.POST("/files", submissionHandler.Attach)
	assignments.DELETE("/files/:index", submissionHandler.Detach)
	assignments.POST("/submit", submissionHandler.Submit)
	assignments.POST("/unsubmit", submissionHandler.Unsubmit)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "session_store", cfg.Session.Store)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
