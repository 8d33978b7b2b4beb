package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-review-api/api/swagger"
	"github.com/noah-isme/course-review-api/internal/app"
	"github.com/noah-isme/course-review-api/pkg/cache"
	"github.com/noah-isme/course-review-api/pkg/config"
	"github.com/noah-isme/course-review-api/pkg/database"
	"github.com/noah-isme/course-review-api/pkg/logger"
)

// @title Course Review API
// @version 1.0.0
// @description Course reviews with moderation, teacher responses and rating statistics
// @BasePath /api
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Migrations.AutoMigrate {
		if err := migrate(ctx, cfg, logr); err != nil {
			logr.Fatal("auto migration failed", zap.Error(err))
		}
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// The API stays up without a cache.
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		}
	}

	application := app.New(cfg, logr, db, redisClient)

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logr.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// migrate runs on its own pool because closing the migrator closes the pool.
func migrate(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}

	migrator, err := database.NewMigrator(db, cfg.Migrations.Dir, logr)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer migrator.Close() //nolint:errcheck

	return migrator.Up()
}
