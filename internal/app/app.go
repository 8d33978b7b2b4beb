// Package app is the composition root: it builds repositories, services and
// handlers from configuration and owns the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/handler"
	"github.com/noah-isme/course-review-api/internal/repository"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/config"
)

const cacheNamespace = "course-review"

// App holds the long-lived resources of one API process.
type App struct {
	server     *http.Server
	logger     *zap.Logger
	config     *config.Config
	db         *sqlx.DB
	redis      *redis.Client
	reconciler *service.StatisticsReconciler
}

// New wires the application. redisClient may be nil when caching is disabled.
func New(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) *App {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	responseRepo := repository.NewReviewResponseRepository(db)
	statsRepo := repository.NewStatisticsRepository(db)
	txManager := repository.NewTxManager(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cacheNamespace)
	}
	cache := service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatisticsTTL, logr, cfg.Cache.Enabled)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	statsSvc := service.NewStatisticsService(reviewRepo, statsRepo, courseRepo, txManager, cache, cfg.Cache.StatisticsTTL, metrics, logr)
	reviewSvc := service.NewReviewService(reviewRepo, userRepo, courseRepo, statsSvc, txManager, metrics, logr, service.ReviewConfig{
		CommentMinLength: cfg.Reviews.CommentMinLength,
		CommentMaxLength: cfg.Reviews.CommentMaxLength,
	})
	responseSvc := service.NewReviewResponseService(responseRepo, reviewRepo, courseRepo, logr, cfg.Reviews.CommentMaxLength)
	courseSvc := service.NewCourseService(courseRepo, userRepo, cache, cfg.Cache.StatisticsTTL, validate, logr)
	userSvc := service.NewUserService(userRepo, reviewRepo, courseRepo, statsSvc, txManager, logr)
	exportSvc := service.NewExportService(statsRepo, logr)

	handlers := Handlers{
		Auth:      handler.NewAuthHandler(authSvc),
		Courses:   handler.NewCourseHandler(courseSvc, statsSvc, exportSvc),
		Reviews:   handler.NewReviewHandler(reviewSvc),
		Responses: handler.NewReviewResponseHandler(responseSvc),
		Users:     handler.NewUserHandler(userSvc),
		Metrics:   handler.NewMetricsHandler(metrics),
	}
	router := NewRouter(cfg, logr, metrics, authSvc, userRepo, userRepo, handlers)

	a := &App{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logr,
		config: cfg,
		db:     db,
		redis:  redisClient,
	}

	if cfg.Reconcile.Enabled {
		a.reconciler = service.NewStatisticsReconciler(courseRepo, statsSvc, metrics, logr, service.ReconcileConfig{
			Schedule: cfg.Reconcile.Schedule,
			Workers:  cfg.Reconcile.Workers,
		})
	}

	return a
}

// Run starts background jobs and blocks serving HTTP until Shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.reconciler != nil {
		if err := a.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("start statistics reconciler: %w", err)
		}
		a.logger.Info("statistics reconciler started", zap.String("schedule", a.config.Reconcile.Schedule))
	}

	a.logger.Info("server starting", zap.String("addr", a.server.Addr), zap.String("env", a.config.Env))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP traffic, stops background jobs and releases pools.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	err := a.server.Shutdown(ctx)

	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.logger.Error("failed to close redis client", zap.Error(cerr))
		}
	}
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.logger.Error("failed to close database pool", zap.Error(cerr))
		}
	}

	return err
}
