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

	_ "github.com/noah-isme/checkride-sync/api/swagger"
	"github.com/noah-isme/checkride-sync/internal/handler"
	"github.com/noah-isme/checkride-sync/internal/library"
	internalmiddleware "github.com/noah-isme/checkride-sync/internal/middleware"
	"github.com/noah-isme/checkride-sync/internal/models"
	"github.com/noah-isme/checkride-sync/internal/repository"
	"github.com/noah-isme/checkride-sync/internal/service"
	"github.com/noah-isme/checkride-sync/pkg/cache"
	"github.com/noah-isme/checkride-sync/pkg/config"
	"github.com/noah-isme/checkride-sync/pkg/database"
	"github.com/noah-isme/checkride-sync/pkg/jobs"
	"github.com/noah-isme/checkride-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/checkride-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/checkride-sync/pkg/middleware/requestid"
)

// @title Checkride Sync API
// @version 1.0.0
// @description Local API of the flight-training progress core
// @BasePath /
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

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to open local store", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.Database.Driver, logr); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	lib, err := loadLibrary(cfg.Library)
	if err != nil {
		logr.Sugar().Fatalw("failed to load template library", "error", err)
	}
	logr.Info("template library loaded", zap.String("version", lib.Version()), zap.Int("templates", len(lib.Templates())))

	checks := map[string]handler.Pinger{"database": db}
	var transport service.ShareTransport
	switch cfg.Sync.Backend {
	case config.BackendRedis:
		client, err := cache.NewRedis(cfg.Redis, cfg.App.DeviceID)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect shared store", "error", err)
		}
		defer client.Close()
		transport = repository.NewRedisShareStore(client, cfg.Sync.Namespace, cfg.Sync.FeedMaxLen, cfg.App.DeviceID, logr)
		checks["share_store"] = handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	default:
		logr.Warn("using in-process shared store; shares are visible to this instance only")
		transport = repository.NewMemoryShareStore(int(cfg.Sync.FeedMaxLen), cfg.App.DeviceID)
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	calculator := service.NewProgressCalculator(lib)
	progressSvc := service.NewProgressService(studentRepo, assignmentRepo, calculator, metricsSvc, logr)
	syncSvc := service.NewSyncService(assignmentRepo, studentRepo, syncRepo, transport, calculator, progressSvc, metricsSvc, logr, service.SyncServiceConfig{
		Origin:        cfg.App.DeviceID,
		PullBatchSize: cfg.Sync.PullBatchSize,
	})
	pushQueue := jobs.NewQueue("sync-push", syncSvc.HandleJob, jobs.QueueConfig{
		Workers:      cfg.Sync.PushWorkers,
		BufferSize:   cfg.Sync.QueueBuffer,
		RetryDelay:   cfg.Sync.RetryDelay,
		DisableRetry: true,
		Logger:       logr,
	})
	syncSvc.UseDispatcher(pushQueue)

	assignmentSvc := service.NewAssignmentService(assignmentRepo, studentRepo, lib, calculator, syncSvc, progressSvc, logr)
	studentSvc := service.NewStudentService(studentRepo, syncSvc, progressSvc, validate, logr)
	shareSvc := service.NewShareService(studentRepo, syncRepo, transport, syncSvc, logr, service.ShareServiceConfig{
		PairingCodeTTL: cfg.Share.PairingCodeTTL,
		PullBatchSize:  cfg.Sync.PullBatchSize,
	})
	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		AccessTokenSecret:        cfg.JWT.Secret,
		AccessTokenExpiry:        cfg.JWT.Expiration,
		Issuer:                   cfg.JWT.Issuer,
		DeviceID:                 cfg.App.DeviceID,
		InstructorPassphraseHash: cfg.Auth.InstructorPassphraseHash,
	})

	runner := service.NewSyncRunner(syncSvc, transport, studentRepo, assignmentSvc, pushQueue, logr, service.SyncRunnerConfig{
		Schedule: cfg.Sync.ReconcileSchedule,
	})
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if err := runner.Start(runCtx); err != nil {
		logr.Sugar().Fatalw("failed to start sync runner", "error", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), cfg, routeHandlers{
		auth:        handler.NewAuthHandler(authSvc),
		templates:   handler.NewTemplateHandler(lib),
		students:    handler.NewStudentHandler(studentSvc, progressSvc),
		assignments: handler.NewAssignmentHandler(assignmentSvc, syncSvc),
		shares:      handler.NewShareHandler(shareSvc, authSvc),
		sync:        handler.NewSyncHandler(syncSvc),
		tokens:      authSvc,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "role", cfg.App.Role, "sync_backend", cfg.Sync.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown failed", "error", err)
	}
	runner.Stop()
}

type routeHandlers struct {
	auth        *handler.AuthHandler
	templates   *handler.TemplateHandler
	students    *handler.StudentHandler
	assignments *handler.AssignmentHandler
	shares      *handler.ShareHandler
	sync        *handler.SyncHandler
	tokens      internalmiddleware.TokenValidator
}

// registerRoutes mounts the API. Instructor-only routes are mounted on the
// instructor app; the student app mounts the join endpoint instead.
func registerRoutes(api *gin.RouterGroup, cfg *config.Config, h routeHandlers) {
	instructorOnly := internalmiddleware.RequireRole(models.RoleInstructor)
	instructorOrSelf := internalmiddleware.RBAC(string(models.RoleInstructor), internalmiddleware.SelfStudent)

	if cfg.App.Role == config.RoleInstructor {
		api.POST("/auth/instructor", h.auth.LoginInstructor)
	} else {
		api.POST("/shares/join", h.shares.Join)
	}

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(h.tokens))

	secured.GET("/templates", h.templates.List)
	secured.GET("/templates/:id", h.templates.Get)

	secured.GET("/students", instructorOnly, h.students.List)
	secured.GET("/students/:studentId", instructorOrSelf, h.students.Get)
	secured.PUT("/students/:studentId", instructorOrSelf, h.students.Save)
	secured.GET("/students/:studentId/progress", instructorOrSelf, h.students.Progress)
	secured.GET("/students/:studentId/assignments", instructorOrSelf, h.assignments.ListForStudent)
	secured.GET("/students/:studentId/share", instructorOrSelf, h.shares.Status)
	secured.POST("/students/:studentId/sync", instructorOrSelf, h.sync.SyncNow)

	secured.GET("/assignments/:id", h.assignments.Get)
	secured.PUT("/assignments/:id/items/:itemId", h.assignments.UpdateItem)
	secured.GET("/assignments/:id/sync", h.assignments.SyncState)

	if cfg.App.Role == config.RoleInstructor {
		secured.POST("/students", instructorOnly, h.students.Create)
		secured.POST("/students/:studentId/assignments", instructorOnly, h.assignments.Assign)
		secured.DELETE("/students/:studentId/assignments/:templateId", instructorOnly, h.assignments.Remove)
		secured.PATCH("/assignments/:id", instructorOnly, h.assignments.Edit)
		secured.POST("/students/:studentId/share", instructorOnly, h.shares.Activate)
		secured.DELETE("/students/:studentId/share", instructorOnly, h.shares.Terminate)
	}
}

func loadLibrary(cfg config.LibraryConfig) (*library.Library, error) {
	if cfg.Path != "" {
		return library.LoadFile(cfg.Path)
	}
	return library.Default()
}
