package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
)

// StatisticsRepository persists the cached per-course aggregates.
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository constructs a StatisticsRepository.
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// FindByCourse returns the statistics row or sql.ErrNoRows when none was
// computed yet.
func (r *StatisticsRepository) FindByCourse(ctx context.Context, courseID string) (*models.CourseStatistics, error) {
	const query = `SELECT id, course_id, avg_rating_overall, avg_rating_clarity, avg_rating_material, avg_rating_pedagogy, total_reviews, last_updated
FROM course_statistics WHERE course_id = $1 LIMIT 1`
	var stats models.CourseStatistics
	if err := r.db.GetContext(ctx, &stats, query, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course statistics: %w", err)
	}
	return &stats, nil
}

// UpsertWithTx creates or overwrites the course's statistics row.
func (r *StatisticsRepository) UpsertWithTx(ctx context.Context, tx *sqlx.Tx, stats *models.CourseStatistics) error {
	if stats.ID == "" {
		stats.ID = uuid.NewString()
	}
	const query = `INSERT INTO course_statistics (id, course_id, avg_rating_overall, avg_rating_clarity, avg_rating_material, avg_rating_pedagogy, total_reviews, last_updated)
VALUES (:id, :course_id, :avg_rating_overall, :avg_rating_clarity, :avg_rating_material, :avg_rating_pedagogy, :total_reviews, :last_updated)
ON CONFLICT (course_id) DO UPDATE SET
avg_rating_overall = EXCLUDED.avg_rating_overall,
avg_rating_clarity = EXCLUDED.avg_rating_clarity,
avg_rating_material = EXCLUDED.avg_rating_material,
avg_rating_pedagogy = EXCLUDED.avg_rating_pedagogy,
total_reviews = EXCLUDED.total_reviews,
last_updated = EXCLUDED.last_updated`
	if _, err := tx.NamedExecContext(ctx, query, stats); err != nil {
		return fmt.Errorf("upsert course statistics: %w", err)
	}
	return nil
}

// ListForExport returns every course with whatever statistics it has.
func (r *StatisticsRepository) ListForExport(ctx context.Context) ([]models.CourseStatisticsRow, error) {
	const query = `SELECT c.id AS course_id, c.code AS course_code, c.name AS course_name, c.department, c.type,
s.avg_rating_overall, s.avg_rating_clarity, s.avg_rating_material, s.avg_rating_pedagogy, COALESCE(s.total_reviews, 0) AS total_reviews, s.last_updated
FROM courses c
LEFT JOIN course_statistics s ON s.course_id = c.id
ORDER BY c.code ASC, c.id DESC`
	var rows []models.CourseStatisticsRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list course statistics: %w", err)
	}
	return rows, nil
}
