package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/mentorlink/mentorlink-api/api/swagger"
	"github.com/mentorlink/mentorlink-api/internal/handler"
	internalmiddleware "github.com/mentorlink/mentorlink-api/internal/middleware"
	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/repository"
	"github.com/mentorlink/mentorlink-api/internal/service"
	"github.com/mentorlink/mentorlink-api/pkg/cache"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	"github.com/mentorlink/mentorlink-api/pkg/database"
	"github.com/mentorlink/mentorlink-api/pkg/export"
	"github.com/mentorlink/mentorlink-api/pkg/jobs"
	"github.com/mentorlink/mentorlink-api/pkg/logger"
	corsmiddleware "github.com/mentorlink/mentorlink-api/pkg/middleware/cors"
	reqidmiddleware "github.com/mentorlink/mentorlink-api/pkg/middleware/requestid"
)

const (
	jobHoldSweep   = "payment_hold_sweep"
	jobHorizonRoll = "availability_horizon_roll"

	// The horizon only moves at day granularity; rolling hourly keeps the
	// chart fresh without hammering the sessions table.
	horizonRollInterval = time.Hour
)

// @title MentorLink API
// @version 0.1.0
// @description Tutoring marketplace: availability, matching, bookings and teacher progression
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	userRepo := repository.NewUserRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	windowRepo := repository.NewAvailabilityRepository(db)
	statRepo := repository.NewStatRepository(db)
	flagRepo := repository.NewFlagRepository(db)
	recordRepo := repository.NewBookingRecordRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, cfg.JWT, nil, validate, logr)
	catalogueSvc := service.NewCatalogueService(topicRepo, cacheRepo, cfg.Matching.DomainCacheTTL, cfg.Progression, logr)
	progressionSvc := service.NewProgressionService(statRepo, catalogueSvc, metrics, cfg.Progression, nil, logr)
	guard := service.NewScheduleConflictGuard(sessionRepo, cfg.Scheduling.SessionBuffer, logr)
	consumer := service.NewSlotConsumer(sessionRepo, recordRepo, windowRepo, userRepo, topicRepo, nil, logr)
	matchingSvc := service.NewMatchingService(statRepo, sessionRepo, userRepo, guard, consumer, cfg.Matching, cfg.Scheduling, nil, logr)
	availabilitySvc := service.NewAvailabilityService(windowRepo, sessionRepo, cacheRepo, metrics, cfg.Scheduling, nil, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, flagRepo, statRepo, progressionSvc, guard, windowRepo, cfg.Payments, nil, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc, export.NewPDFExporter())
	bookingHandler := handler.NewBookingHandler(matchingSvc, sessionSvc, recordRepo, metrics, export.NewCSVExporter())
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	progressionHandler := handler.NewProgressionHandler(progressionSvc)
	catalogueHandler := handler.NewCatalogueHandler(catalogueSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if metrics != nil {
		r.Use(internalmiddleware.Metrics(metrics))
	}

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/payments/webhook", bookingHandler.PaymentWebhook)

	secured := api.Group("", internalmiddleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	secured.POST("/availability/windows", internalmiddleware.RequireRoles(models.RoleTeacher), availabilityHandler.CreateWindow)
	secured.PUT("/availability/windows/:id", internalmiddleware.RequireRoles(models.RoleTeacher), availabilityHandler.UpdateWindow)
	secured.DELETE("/availability/windows/:id", internalmiddleware.RequireRoles(models.RoleTeacher), availabilityHandler.DeleteWindow)
	secured.GET("/teachers/:id/availability", availabilityHandler.Chart)
	secured.GET("/teachers/:id/availability/export", availabilityHandler.ExportChart)

	secured.POST("/bookings/free", internalmiddleware.RequireRoles(models.RoleLearner), bookingHandler.BookFree)
	secured.POST("/bookings/hold", internalmiddleware.RequireRoles(models.RoleLearner), bookingHandler.Hold)
	secured.GET("/bookings/history", internalmiddleware.RequireRoles(models.RoleLearner), bookingHandler.History)

	secured.GET("/sessions", sessionHandler.List)
	secured.GET("/sessions/:id", sessionHandler.Get)
	secured.DELETE("/sessions/:id", sessionHandler.Cancel)
	secured.POST("/sessions/:id/outcome", internalmiddleware.RequireRoles(models.RoleTeacher), sessionHandler.ReportOutcome)
	secured.GET("/sessions/:id/flags", internalmiddleware.RequireRoles(models.RoleAdmin), sessionHandler.Flags)

	secured.GET("/teachers/:id/topics/:topic/standing", progressionHandler.Standing)
	secured.POST("/teachers/:id/topics/:topic/standing", internalmiddleware.RequireRoles(models.RoleAdmin), progressionHandler.Evaluate)
	secured.PUT("/teachers/:id/topics/:topic/tier", internalmiddleware.RequireRoles(models.RoleAdmin), progressionHandler.ToggleTier)

	secured.POST("/topics", internalmiddleware.RequireRoles(models.RoleAdmin), catalogueHandler.Create)
	secured.GET("/topics/:id", catalogueHandler.Get)
	secured.GET("/topics/:id/children", catalogueHandler.Children)
	secured.GET("/topics/:id/domain", catalogueHandler.Domain)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue("maintenance", func(ctx context.Context, job jobs.Job) error {
		switch job.Type {
		case jobHoldSweep:
			released, err := sessionSvc.ExpireHolds(ctx)
			if err != nil {
				return err
			}
			if released > 0 {
				metrics.RecordHoldsExpired(released)
				logr.Info("expired payment holds released", zap.Int("count", released))
			}
			return nil
		case jobHorizonRoll:
			return availabilitySvc.MaterializeAll(ctx)
		default:
			logr.Warn("unknown job type", zap.String("type", job.Type))
			return nil
		}
	}, jobs.QueueConfig{
		Workers:    cfg.Payments.SweepWorkers,
		MaxRetries: cfg.Payments.SweepRetries,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	queue.EnqueueEvery(cfg.Payments.SweepInterval, jobHoldSweep)
	queue.EnqueueEvery(horizonRollInterval, jobHorizonRoll)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
