package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campusdesk/grievance-api/api/swagger"
	"github.com/campusdesk/grievance-api/internal/handler"
	"github.com/campusdesk/grievance-api/internal/middleware"
	"github.com/campusdesk/grievance-api/internal/models"
	"github.com/campusdesk/grievance-api/internal/repository"
	"github.com/campusdesk/grievance-api/internal/service"
	"github.com/campusdesk/grievance-api/pkg/cache"
	"github.com/campusdesk/grievance-api/pkg/config"
	"github.com/campusdesk/grievance-api/pkg/database"
	"github.com/campusdesk/grievance-api/pkg/export"
	"github.com/campusdesk/grievance-api/pkg/jobs"
	"github.com/campusdesk/grievance-api/pkg/logger"
	"github.com/campusdesk/grievance-api/pkg/mailer"
	corsmiddleware "github.com/campusdesk/grievance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusdesk/grievance-api/pkg/middleware/requestid"
	"github.com/campusdesk/grievance-api/pkg/storage"
)

// @title Grievance Desk API
// @version 1.0.0
// @description Student grievance tracking backend
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, report caching disabled", "error", err)
		redisClient = nil
	}

	blobs, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare attachment storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	grievanceRepo := repository.NewGrievanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Reports.CacheTTL, logr, cfg.Reports.CacheEnabled)
	gate := service.NewAuthorizationService()

	notifier := service.NewNotificationService(
		mailer.New(cfg.SMTP),
		userRepo,
		metricsSvc,
		logr,
		jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifier.Start(ctx)
	defer notifier.Stop()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, grievanceRepo, gate, validate, logr)
	departmentSvc := service.NewDepartmentService(departmentRepo, blobs, gate, cacheSvc, validate, logr)
	grievanceSvc := service.NewGrievanceService(grievanceRepo, departmentRepo, blobs, gate, notifier, cacheSvc, metricsSvc, validate, logr, cfg.Attachments.MaxBatchSize)
	reportSvc := service.NewReportService(grievanceRepo, gate, cacheSvc, export.NewCSVExporter(), export.NewPDFExporter(), cfg.Reports.CacheTTL, logr)

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	departmentHandler := handler.NewDepartmentHandler(departmentSvc)
	grievanceHandler := handler.NewGrievanceHandler(grievanceSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	users := authed.Group("/users")
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.PUT("/:id/password", middleware.RequireRoles(models.RoleAdmin), userHandler.ResetPassword)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	departments := authed.Group("/departments")
	{
		departments.GET("", departmentHandler.List)
		departments.GET("/:id", departmentHandler.Get)
		departments.POST("", middleware.RequireRoles(models.RoleAdmin), departmentHandler.Create)
		departments.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), departmentHandler.Update)
		departments.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), departmentHandler.Delete)
	}

	grievances := authed.Group("/grievances")
	{
		grievances.POST("", grievanceHandler.Create)
		grievances.GET("", grievanceHandler.List)
		grievances.GET("/open", grievanceHandler.ListOpen)
		grievances.GET("/resolved", grievanceHandler.ListResolved)
		grievances.GET("/:id", grievanceHandler.Get)
		grievances.GET("/:id/history", grievanceHandler.History)
		grievances.POST("/:id/attachments", grievanceHandler.Attach)
		grievances.GET("/:id/attachments/:attachmentId", grievanceHandler.DownloadAttachment)
		grievances.POST("/:id/status", middleware.RequireRoles(models.RoleAdmin), grievanceHandler.Transition)
	}

	reports := authed.Group("/reports")
	reports.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		reports.GET("/summary", reportHandler.Summary)
		reports.GET("/export", reportHandler.Export)
		reports.GET("/system", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
