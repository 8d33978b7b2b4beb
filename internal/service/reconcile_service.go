package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/pkg/jobs"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type courseIDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

type courseRecomputer interface {
	RecomputeCourse(ctx context.Context, courseID string) error
}

// ReconcileConfig schedules the statistics sweep.
type ReconcileConfig struct {
	Schedule   string
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// StatisticsReconciler periodically recomputes every course's statistics so
// that rows drifting from the approved review set are repaired.
type StatisticsReconciler struct {
	courses  courseIDLister
	stats    courseRecomputer
	metrics  *MetricsService
	logger   *zap.Logger
	schedule string

	queue  *jobs.Queue[struct{}]
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewStatisticsReconciler wires the sweep onto a job queue.
func NewStatisticsReconciler(courses courseIDLister, stats courseRecomputer, metrics *MetricsService, logger *zap.Logger, cfg ReconcileConfig) *StatisticsReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	r := &StatisticsReconciler{
		courses:  courses,
		stats:    stats,
		metrics:  metrics,
		logger:   logger,
		schedule: cfg.Schedule,
		cron:     cron.New(),
	}
	r.queue = jobs.NewQueue("statistics-reconcile", r.recompute, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	r.queue.OnGiveUp(func(job jobs.Job[struct{}], err error) {
		r.metrics.ReconcileFailed()
	})
	return r
}

// Start registers the cron entry and starts the workers.
func (r *StatisticsReconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("statistics sweep failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule statistics reconcile %q: %w", r.schedule, err)
	}
	r.cancel = cancel
	r.queue.Start(ctx)
	r.cron.Start()
	r.logger.Info("statistics reconcile scheduled", zap.String("schedule", r.schedule))
	return nil
}

// Stop cancels a sweep still waiting for queue space, waits for it to return,
// then stops the workers.
func (r *StatisticsReconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.cron.Stop().Done()
	r.queue.Stop()
}

// Sweep enqueues one recompute per course and returns how many were queued.
// Courses whose previous job is still pending are skipped. When the buffer
// is full the sweep waits for workers to drain it.
func (r *StatisticsReconciler) Sweep(ctx context.Context) (int, error) {
	ids, err := r.courses.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list courses: %w", err)
	}

	queued := 0
	for _, id := range ids {
		err := r.queue.EnqueueWait(ctx, jobs.Job[struct{}]{Key: id})
		switch {
		case err == nil:
			queued++
		case errors.Is(err, jobs.ErrDuplicate):
		default:
			return queued, err
		}
	}
	r.logger.Info("statistics sweep queued", zap.Int("courses", len(ids)), zap.Int("queued", queued))
	return queued, nil
}

func (r *StatisticsReconciler) recompute(ctx context.Context, job jobs.Job[struct{}]) error {
	err := r.stats.RecomputeCourse(ctx, job.Key)
	if errors.Is(err, appErrors.ErrNotFound) {
		return nil
	}
	return err
}
