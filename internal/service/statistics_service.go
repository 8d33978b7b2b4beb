package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

const (
	statisticsCachePrefix      = "statistics:course:"
	statisticsGenerationPrefix = "statistics:generation:"
	topRatedCachePattern       = "courses:top-rated:*"
)

type transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type statisticsReviewRepository interface {
	ListApprovedRatingsWithTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Ratings, error)
}

type statisticsRepository interface {
	FindByCourse(ctx context.Context, courseID string) (*models.CourseStatistics, error)
	UpsertWithTx(ctx context.Context, tx *sqlx.Tx, stats *models.CourseStatistics) error
}

type statisticsCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
}

// StatisticsService maintains the cached per-course rating aggregates.
type StatisticsService struct {
	reviews  statisticsReviewRepository
	stats    statisticsRepository
	courses  statisticsCourseRepository
	tx       transactor
	cache    *CacheService
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewStatisticsService constructs the aggregator.
func NewStatisticsService(reviews statisticsReviewRepository, stats statisticsRepository, courses statisticsCourseRepository, tx transactor, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatisticsService{
		reviews:  reviews,
		stats:    stats,
		courses:  courses,
		tx:       tx,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   logger,
	}
}

type tally struct {
	tenths int64
	count  int64
}

func (t *tally) add(v *float64) {
	if v == nil {
		return
	}
	t.tenths += int64(math.Round(*v * 10))
	t.count++
}

// mean is rounded half-up to hundredths using integer arithmetic on tenths.
func (t tally) mean() *float64 {
	if t.count == 0 {
		return nil
	}
	hundredths := (20*t.tenths + t.count) / (2 * t.count)
	v := float64(hundredths) / 100
	return &v
}

// Aggregate computes component means over the given approved ratings.
// Absent components are excluded from their own mean only.
func Aggregate(ratings []models.Ratings) models.RatingAverages {
	var overall, clarity, material, pedagogy tally
	for i := range ratings {
		r := ratings[i]
		overall.add(&r.Overall)
		clarity.add(r.Clarity)
		material.add(r.Material)
		pedagogy.add(r.Pedagogy)
	}
	return models.RatingAverages{
		AvgOverall:   overall.mean(),
		AvgClarity:   clarity.mean(),
		AvgMaterial:  material.mean(),
		AvgPedagogy:  pedagogy.mean(),
		TotalReviews: len(ratings),
	}
}

// Recompute rebuilds the course's statistics inside the caller's
// transaction. The caller must hold the course lock.
func (s *StatisticsService) Recompute(ctx context.Context, tx *sqlx.Tx, courseID string) error {
	ratings, err := s.reviews.ListApprovedRatingsWithTx(ctx, tx, courseID)
	if err != nil {
		return appErrors.Internal(err, "failed to load approved ratings")
	}

	stats := &models.CourseStatistics{
		CourseID:       courseID,
		RatingAverages: Aggregate(ratings),
		LastUpdated:    time.Now().UTC(),
	}
	if err := s.stats.UpsertWithTx(ctx, tx, stats); err != nil {
		return appErrors.Internal(err, "failed to store course statistics")
	}

	s.metrics.StatisticsRecomputed()
	s.logger.Debug("course statistics recomputed",
		zap.String("course_id", courseID),
		zap.Int("total_reviews", stats.TotalReviews))
	return nil
}

// RecomputeCourse runs Recompute in its own transaction under the course lock.
func (s *StatisticsService) RecomputeCourse(ctx context.Context, courseID string) error {
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.courses.LockForUpdate(ctx, tx, courseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Internal(err, "failed to lock course")
		}
		return s.Recompute(ctx, tx, courseID)
	})
	if err != nil {
		return err
	}
	s.InvalidateCourse(ctx, courseID)
	return nil
}

// cachedStatistics tags a cached row with the course's cache generation at
// the time the row was read.
type cachedStatistics struct {
	Generation int64                    `json:"generation"`
	Stats      *models.CourseStatistics `json:"stats"`
}

// Get returns the statistics of an existing course. A course that never had
// a recompute reports zero reviews and null averages.
//
// The generation is read before the database so that a row read ahead of a
// concurrent recompute carries the old generation, and is ignored once that
// recompute's InvalidateCourse has bumped it.
func (s *StatisticsService) Get(ctx context.Context, courseID string) (*models.CourseStatistics, error) {
	key := statisticsCachePrefix + courseID
	gen, cacheable := s.cache.Generation(ctx, statisticsGenerationPrefix+courseID)
	if cacheable {
		var cached cachedStatistics
		if s.cache.Get(ctx, key, &cached) && cached.Generation == gen && cached.Stats != nil {
			return cached.Stats, nil
		}
	}

	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}

	stats, err := s.stats.FindByCourse(ctx, courseID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to load course statistics")
		}
		stats = &models.CourseStatistics{CourseID: courseID}
	}

	if cacheable {
		s.cache.Set(ctx, key, cachedStatistics{Generation: gen, Stats: stats}, s.cacheTTL)
	}
	return stats, nil
}

// InvalidateCourse drops cached views that embed the course's statistics.
// Call it after the recompute has committed.
func (s *StatisticsService) InvalidateCourse(ctx context.Context, courseID string) {
	s.cache.Bump(ctx, statisticsGenerationPrefix+courseID)
	s.cache.Invalidate(ctx, statisticsCachePrefix+courseID, topRatedCachePattern)
}
