package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/authz"
	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type responseRepository interface {
	FindByReview(ctx context.Context, reviewID string) (*models.ReviewResponse, error)
	Create(ctx context.Context, resp *models.ReviewResponse) error
	Update(ctx context.Context, resp *models.ReviewResponse) error
	Delete(ctx context.Context, id string) error
}

type responseReviewRepository interface {
	FindByID(ctx context.Context, id string) (*models.Review, error)
}

type responseCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// ReviewResponseService manages the single teacher reply a review may carry.
type ReviewResponseService struct {
	responses responseRepository
	reviews   responseReviewRepository
	courses   responseCourseRepository
	logger    *zap.Logger
	maxLength int
}

// NewReviewResponseService constructs a ReviewResponseService.
func NewReviewResponseService(responses responseRepository, reviews responseReviewRepository, courses responseCourseRepository, logger *zap.Logger, maxLength int) *ReviewResponseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = 2000
	}
	return &ReviewResponseService{responses: responses, reviews: reviews, courses: courses, logger: logger, maxLength: maxLength}
}

// Add attaches a response written by the course's teacher of record.
func (s *ReviewResponseService) Add(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error) {
	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Internal(err, "failed to load review")
	}

	course, err := s.courses.FindByID(ctx, review.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}

	var courseTeacher string
	if course.TeacherID != nil {
		courseTeacher = *course.TeacherID
	}
	if !authz.Decide(authz.CreateResponse, actor, authz.Resource{CourseTeacherID: courseTeacher}).Allowed() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher can respond to this review")
	}

	if _, err := s.responses.FindByReview(ctx, reviewID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "this review already has a response")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check existing response")
	}

	text, err := s.validateText(req.ResponseText)
	if err != nil {
		return nil, err
	}

	resp := &models.ReviewResponse{
		ReviewID:     reviewID,
		TeacherID:    actor.ID,
		ResponseText: text,
	}
	if err := s.responses.Create(ctx, resp); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "this review already has a response")
		}
		return nil, appErrors.Internal(err, "failed to create response")
	}

	s.logger.Info("teacher response added", zap.String("review_id", reviewID), zap.String("teacher_id", actor.ID))
	return resp, nil
}

// Edit replaces the response text. Only the response author may edit.
func (s *ReviewResponseService) Edit(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error) {
	resp, err := s.authorised(ctx, reviewID, actor, authz.EditResponse)
	if err != nil {
		return nil, err
	}

	text, err := s.validateText(req.ResponseText)
	if err != nil {
		return nil, err
	}

	resp.ResponseText = text
	if err := s.responses.Update(ctx, resp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Internal(err, "failed to update response")
	}
	return resp, nil
}

// Delete removes the response. Only the response author may delete.
func (s *ReviewResponseService) Delete(ctx context.Context, reviewID string, actor authz.Actor) error {
	resp, err := s.authorised(ctx, reviewID, actor, authz.DeleteResponse)
	if err != nil {
		return err
	}

	if err := s.responses.Delete(ctx, resp.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return appErrors.Internal(err, "failed to delete response")
	}
	return nil
}

func (s *ReviewResponseService) authorised(ctx context.Context, reviewID string, actor authz.Actor, op authz.Operation) (*models.ReviewResponse, error) {
	resp, err := s.responses.FindByReview(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Internal(err, "failed to load response")
	}
	if !authz.Decide(op, actor, authz.Resource{CourseTeacherID: resp.TeacherID}).Allowed() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only manage your own responses")
	}
	return resp, nil
}

func (s *ReviewResponseService) validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", appErrors.Clone(appErrors.ErrInvalidArgument, "response text is required")
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return "", appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("response text must be at most %d characters", s.maxLength))
	}
	return text, nil
}
