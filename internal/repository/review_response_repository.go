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

// ReviewResponseRepository persists teacher responses.
type ReviewResponseRepository struct {
	db *sqlx.DB
}

// NewReviewResponseRepository constructs a ReviewResponseRepository.
func NewReviewResponseRepository(db *sqlx.DB) *ReviewResponseRepository {
	return &ReviewResponseRepository{db: db}
}

// FindByReview returns the response attached to a review.
func (r *ReviewResponseRepository) FindByReview(ctx context.Context, reviewID string) (*models.ReviewResponse, error) {
	const query = `SELECT id, review_id, teacher_id, response_text, created_at, updated_at FROM review_responses WHERE review_id = $1 LIMIT 1`
	var resp models.ReviewResponse
	if err := r.db.GetContext(ctx, &resp, query, reviewID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find review response: %w", err)
	}
	return &resp, nil
}

// Create inserts a response. A second response for the review surfaces as
// ErrDuplicate.
func (r *ReviewResponseRepository) Create(ctx context.Context, resp *models.ReviewResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	resp.CreatedAt = now
	resp.UpdatedAt = now

	const query = `INSERT INTO review_responses (id, review_id, teacher_id, response_text, created_at, updated_at)
VALUES (:id, :review_id, :teacher_id, :response_text, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resp); err != nil {
		return wrapWrite("create review response", err)
	}
	return nil
}

// Update rewrites the response text.
func (r *ReviewResponseRepository) Update(ctx context.Context, resp *models.ReviewResponse) error {
	resp.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE review_responses SET response_text = $2, updated_at = $3 WHERE id = $1`, resp.ID, resp.ResponseText, resp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update review response: %w", err)
	}
	return expectAffected(res, "update review response")
}

// Delete removes a response by id.
func (r *ReviewResponseRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM review_responses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review response: %w", err)
	}
	return expectAffected(res, "delete review response")
}
