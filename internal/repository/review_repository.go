package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
)

const reviewColumns = `id, user_id, course_id, rating_overall, rating_clarity, rating_material, rating_pedagogy, comment, anonymous, status, moderated_at, created_at, updated_at`

const reviewDetailSelect = `SELECT r.id, r.user_id, r.course_id, r.rating_overall, r.rating_clarity, r.rating_material, r.rating_pedagogy,
r.comment, r.anonymous, r.status, r.moderated_at, r.created_at, r.updated_at,
u.full_name AS reviewer_name, c.name AS course_name, c.code AS course_code,
rr.id AS response_id, rr.response_text, rr.teacher_id AS response_teacher_id, rr.created_at AS response_created_at
FROM reviews r
JOIN users u ON u.id = r.user_id
JOIN courses c ON c.id = r.course_id
LEFT JOIN review_responses rr ON rr.review_id = r.id`

const reviewRecencyOrder = ` ORDER BY r.created_at DESC, r.id DESC`

// ReviewRepository provides database access for reviews.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs a ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// FindByID returns a review by id.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.Review, error) {
	return r.findOne(ctx, nil, "find review", `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 LIMIT 1`, id)
}

// FindByIDForUpdate locks the review row. Callers must already hold the
// course lock.
func (r *ReviewRepository) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Review, error) {
	return r.findOne(ctx, tx, "lock review", `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 FOR UPDATE`, id)
}

func (r *ReviewRepository) findOne(ctx context.Context, tx *sqlx.Tx, op, query, id string) (*models.Review, error) {
	var review models.Review
	if err := sqlx.GetContext(ctx, ext(r.db, tx), &review, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &review, nil
}

// FindDetailByID returns a review with author, course and response.
func (r *ReviewRepository) FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error) {
	var detail models.ReviewDetail
	if err := r.db.GetContext(ctx, &detail, reviewDetailSelect+` WHERE r.id = $1 LIMIT 1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find review detail: %w", err)
	}
	return &detail, nil
}

// ExistsByUserAndCourse reports whether the user already reviewed the course.
func (r *ReviewRepository) ExistsByUserAndCourse(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM reviews WHERE user_id = $1 AND course_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID); err != nil {
		return false, fmt.Errorf("check review exists: %w", err)
	}
	return exists, nil
}

// Create inserts a review. The (user_id, course_id) constraint surfaces as
// ErrDuplicate.
func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	const query = `INSERT INTO reviews (` + reviewColumns + `)
VALUES (:id, :user_id, :course_id, :rating_overall, :rating_clarity, :rating_material, :rating_pedagogy, :comment, :anonymous, :status, :moderated_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, review); err != nil {
		return wrapWrite("create review", err)
	}
	return nil
}

// UpdateContentWithTx rewrites ratings, comment, anonymity and status.
func (r *ReviewRepository) UpdateContentWithTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	review.UpdatedAt = time.Now().UTC()
	const query = `UPDATE reviews SET rating_overall = :rating_overall, rating_clarity = :rating_clarity, rating_material = :rating_material,
rating_pedagogy = :rating_pedagogy, comment = :comment, anonymous = :anonymous, status = :status, moderated_at = :moderated_at, updated_at = :updated_at
WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, query, review)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return expectAffected(res, "update review")
}

// UpdateStatusWithTx records a moderation decision.
func (r *ReviewRepository) UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ModerationStatus, moderatedAt time.Time) error {
	const query = `UPDATE reviews SET status = $2, moderated_at = $3, updated_at = $3 WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, id, status, moderatedAt)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	return expectAffected(res, "update review status")
}

// DeleteWithTx removes a review; its response goes with it by cascade.
func (r *ReviewRepository) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return expectAffected(res, "delete review")
}

// ListApprovedRatingsWithTx reads the ratings that feed a course's statistics.
func (r *ReviewRepository) ListApprovedRatingsWithTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Ratings, error) {
	const query = `SELECT rating_overall, rating_clarity, rating_material, rating_pedagogy FROM reviews WHERE course_id = $1 AND status = $2`
	var ratings []models.Ratings
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &ratings, query, courseID, models.StatusApproved); err != nil {
		return nil, fmt.Errorf("list approved ratings: %w", err)
	}
	return ratings, nil
}

// ListCourseIDsByUserWithTx returns every course the user has reviewed, in
// any moderation state, ordered for deterministic locking.
func (r *ReviewRepository) ListCourseIDsByUserWithTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error) {
	const query = `SELECT DISTINCT course_id FROM reviews WHERE user_id = $1 ORDER BY course_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &ids, query, userID); err != nil {
		return nil, fmt.Errorf("list reviewed courses: %w", err)
	}
	return ids, nil
}

// ListApprovedByCourse pages through a course's approved reviews.
func (r *ReviewRepository) ListApprovedByCourse(ctx context.Context, courseID string, page, pageSize int) ([]models.ReviewDetail, int, error) {
	page, pageSize = normalisePage(page, pageSize)
	query := fmt.Sprintf("%s WHERE r.course_id = $1 AND r.status = $2%s LIMIT %d OFFSET %d", reviewDetailSelect, reviewRecencyOrder, pageSize, (page-1)*pageSize)

	var reviews []models.ReviewDetail
	if err := r.db.SelectContext(ctx, &reviews, query, courseID, models.StatusApproved); err != nil {
		return nil, 0, fmt.Errorf("list approved reviews: %w", err)
	}

	var total int
	const countQuery = `SELECT COUNT(*) FROM reviews WHERE course_id = $1 AND status = $2`
	if err := r.db.GetContext(ctx, &total, countQuery, courseID, models.StatusApproved); err != nil {
		return nil, 0, fmt.Errorf("count approved reviews: %w", err)
	}
	return reviews, total, nil
}

// ListByUser returns every review written by the user.
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string) ([]models.ReviewDetail, error) {
	return r.selectDetails(ctx, "list user reviews", reviewDetailSelect+` WHERE r.user_id = $1`+reviewRecencyOrder, userID)
}

// ListForTeacher returns every review on courses taught by the teacher.
func (r *ReviewRepository) ListForTeacher(ctx context.Context, teacherID string) ([]models.ReviewDetail, error) {
	return r.selectDetails(ctx, "list teacher reviews", reviewDetailSelect+` WHERE c.teacher_id = $1`+reviewRecencyOrder, teacherID)
}

// ListRecentApproved returns the latest approved reviews across courses.
func (r *ReviewRepository) ListRecentApproved(ctx context.Context, limit int) ([]models.ReviewDetail, error) {
	return r.selectDetails(ctx, "list recent reviews", reviewDetailSelect+` WHERE r.status = $1`+reviewRecencyOrder+` LIMIT $2`, models.StatusApproved, limit)
}

// ListPending pages through the moderation queue.
func (r *ReviewRepository) ListPending(ctx context.Context, page, pageSize int) ([]models.ReviewDetail, int, error) {
	page, pageSize = normalisePage(page, pageSize)
	query := fmt.Sprintf("%s WHERE r.status = $1%s LIMIT %d OFFSET %d", reviewDetailSelect, reviewRecencyOrder, pageSize, (page-1)*pageSize)
	reviews, err := r.selectDetails(ctx, "list pending reviews", query, models.StatusPending)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.CountPending(ctx)
	if err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

// CountPending returns the size of the moderation queue.
func (r *ReviewRepository) CountPending(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reviews WHERE status = $1`, models.StatusPending); err != nil {
		return 0, fmt.Errorf("count pending reviews: %w", err)
	}
	return total, nil
}

func (r *ReviewRepository) selectDetails(ctx context.Context, op, query string, args ...interface{}) ([]models.ReviewDetail, error) {
	var reviews []models.ReviewDetail
	if err := r.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reviews, nil
}
