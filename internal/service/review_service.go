package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/authz"
	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type reviewRepository interface {
	FindByID(ctx context.Context, id string) (*models.Review, error)
	FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Review, error)
	FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error)
	ExistsByUserAndCourse(ctx context.Context, userID, courseID string) (bool, error)
	Create(ctx context.Context, review *models.Review) error
	UpdateContentWithTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error
	UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, id string, status models.ModerationStatus, moderatedAt time.Time) error
	DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error
	ListApprovedByCourse(ctx context.Context, courseID string, page, pageSize int) ([]models.ReviewDetail, int, error)
	ListByUser(ctx context.Context, userID string) ([]models.ReviewDetail, error)
	ListForTeacher(ctx context.Context, teacherID string) ([]models.ReviewDetail, error)
	ListPending(ctx context.Context, page, pageSize int) ([]models.ReviewDetail, int, error)
	CountPending(ctx context.Context) (int, error)
	ListRecentApproved(ctx context.Context, limit int) ([]models.ReviewDetail, error)
}

type reviewUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type reviewCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
}

type statisticsRecomputer interface {
	Recompute(ctx context.Context, tx *sqlx.Tx, courseID string) error
	InvalidateCourse(ctx context.Context, courseID string)
}

// ReviewConfig bounds review comments.
type ReviewConfig struct {
	CommentMinLength int
	CommentMaxLength int
}

// ReviewService drives the review lifecycle: submission, edits, moderation
// and deletion, keeping course statistics in step with the approved set.
type ReviewService struct {
	reviews reviewRepository
	users   reviewUserRepository
	courses reviewCourseRepository
	stats   statisticsRecomputer
	tx      transactor
	metrics *MetricsService
	logger  *zap.Logger
	config  ReviewConfig
}

// NewReviewService constructs a ReviewService.
func NewReviewService(reviews reviewRepository, users reviewUserRepository, courses reviewCourseRepository, stats statisticsRecomputer, tx transactor, metrics *MetricsService, logger *zap.Logger, config ReviewConfig) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CommentMinLength <= 0 {
		config.CommentMinLength = 10
	}
	if config.CommentMaxLength <= 0 {
		config.CommentMaxLength = 2000
	}
	return &ReviewService{
		reviews: reviews,
		users:   users,
		courses: courses,
		stats:   stats,
		tx:      tx,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// Create submits a new PENDING review for the user.
func (s *ReviewService) Create(ctx context.Context, userID string, req models.CreateReviewRequest) (*models.Review, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !authz.Decide(authz.CreateReview, authz.Actor{ID: user.ID, Role: user.Role}, authz.Resource{}).Allowed() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit reviews")
	}

	courseID := strings.TrimSpace(req.CourseID)
	if courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "course_id is required")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}

	exists, err := s.reviews.ExistsByUserAndCourse(ctx, user.ID, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check existing review")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "you have already reviewed this course")
	}

	ratings, comment, err := s.validateContent(req.Ratings, req.Comment)
	if err != nil {
		return nil, err
	}

	anonymous := true
	if req.Anonymous != nil {
		anonymous = *req.Anonymous
	}

	review := &models.Review{
		UserID:    user.ID,
		CourseID:  courseID,
		Ratings:   ratings,
		Comment:   comment,
		Anonymous: anonymous,
		Status:    models.StatusPending,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you have already reviewed this course")
		}
		return nil, appErrors.Internal(err, "failed to create review")
	}

	s.metrics.ReviewCreated()
	s.logger.Info("review submitted",
		zap.String("review_id", review.ID),
		zap.String("course_id", courseID),
		zap.String("user_id", user.ID))
	return review, nil
}

// Edit overwrites the review content and sends it back to moderation.
func (s *ReviewService) Edit(ctx context.Context, reviewID string, actor authz.Actor, req models.UpdateReviewRequest) (*models.Review, error) {
	var updated *models.Review
	err := s.withReviewLocked(ctx, reviewID, func(tx *sqlx.Tx, review *models.Review) error {
		if !authz.Decide(authz.EditReview, actor, authz.Resource{OwnerID: review.UserID}).Allowed() {
			return appErrors.Clone(appErrors.ErrForbidden, "you can only edit your own reviews")
		}

		ratings, comment, err := s.validateContent(req.Ratings, req.Comment)
		if err != nil {
			return err
		}

		prior := review.Status
		review.Ratings = ratings
		review.Comment = comment
		if req.Anonymous != nil {
			review.Anonymous = *req.Anonymous
		}
		review.Status = models.StatusPending
		review.ModeratedAt = nil

		if err := s.reviews.UpdateContentWithTx(ctx, tx, review); err != nil {
			return appErrors.Internal(err, "failed to update review")
		}
		if prior == models.StatusApproved {
			if err := s.stats.Recompute(ctx, tx, review.CourseID); err != nil {
				return err
			}
		}
		updated = review
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stats.InvalidateCourse(ctx, updated.CourseID)
	return updated, nil
}

// Delete removes a review. Its response goes with it.
func (s *ReviewService) Delete(ctx context.Context, reviewID string, actor authz.Actor) error {
	var deleted *models.Review
	err := s.withReviewLocked(ctx, reviewID, func(tx *sqlx.Tx, review *models.Review) error {
		if !authz.Decide(authz.DeleteReview, actor, authz.Resource{OwnerID: review.UserID}).Allowed() {
			return appErrors.Clone(appErrors.ErrForbidden, "you do not have permission to delete this review")
		}
		if err := s.reviews.DeleteWithTx(ctx, tx, review.ID); err != nil {
			return appErrors.Internal(err, "failed to delete review")
		}
		if review.Status == models.StatusApproved {
			if err := s.stats.Recompute(ctx, tx, review.CourseID); err != nil {
				return err
			}
		}
		deleted = review
		return nil
	})
	if err != nil {
		return err
	}

	s.stats.InvalidateCourse(ctx, deleted.CourseID)
	if actor.ID != deleted.UserID {
		s.audit(ctx, actor.ID, models.AuditActionReviewDelete, deleted.ID, map[string]interface{}{
			"status":    deleted.Status,
			"course_id": deleted.CourseID,
		}, nil)
	}
	return nil
}

// Moderate applies an admin decision. The status arrives as free text and
// must name APPROVED or REJECTED.
func (s *ReviewService) Moderate(ctx context.Context, reviewID string, actor authz.Actor, rawStatus string) (*models.Review, error) {
	status, err := models.ParseModerationStatus(rawStatus)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, fmt.Sprintf("invalid moderation status: %s", rawStatus))
	}
	if status == models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "moderation status must be APPROVED or REJECTED")
	}

	var moderated *models.Review
	var prior models.ModerationStatus
	err = s.withReviewLocked(ctx, reviewID, func(tx *sqlx.Tx, review *models.Review) error {
		if !authz.Decide(authz.ModerateReview, actor, authz.Resource{OwnerID: review.UserID}).Allowed() {
			return appErrors.Clone(appErrors.ErrForbidden, "only administrators can moderate reviews")
		}

		now := time.Now().UTC()
		if err := s.reviews.UpdateStatusWithTx(ctx, tx, review.ID, status, now); err != nil {
			return appErrors.Internal(err, "failed to update review status")
		}
		if err := s.stats.Recompute(ctx, tx, review.CourseID); err != nil {
			return err
		}

		prior = review.Status
		review.Status = status
		review.ModeratedAt = &now
		review.UpdatedAt = now
		moderated = review
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stats.InvalidateCourse(ctx, moderated.CourseID)
	s.metrics.ReviewModerated(status)
	s.audit(ctx, actor.ID, models.AuditActionReviewModerate, moderated.ID,
		map[string]interface{}{"status": prior},
		map[string]interface{}{"status": status})
	return moderated, nil
}

// withReviewLocked resolves the review's course, then locks course and
// review in that order before running fn.
func (s *ReviewService) withReviewLocked(ctx context.Context, reviewID string, fn func(tx *sqlx.Tx, review *models.Review) error) error {
	current, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return appErrors.Internal(err, "failed to load review")
	}

	return s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.courses.LockForUpdate(ctx, tx, current.CourseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "review not found")
			}
			return appErrors.Internal(err, "failed to lock course")
		}
		review, err := s.reviews.FindByIDForUpdate(ctx, tx, reviewID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "review not found")
			}
			return appErrors.Internal(err, "failed to lock review")
		}
		return fn(tx, review)
	})
}

func (s *ReviewService) validateContent(in models.RatingsInput, rawComment string) (models.Ratings, string, error) {
	if in.Overall == nil {
		return models.Ratings{}, "", appErrors.Clone(appErrors.ErrInvalidArgument, "overall rating is required")
	}
	ratings := models.Ratings{
		Overall:  *in.Overall,
		Clarity:  in.Clarity,
		Material: in.Material,
		Pedagogy: in.Pedagogy,
	}
	if err := ratings.Validate(); err != nil {
		return models.Ratings{}, "", appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, err.Error())
	}

	comment := strings.TrimSpace(rawComment)
	length := utf8.RuneCountInString(comment)
	if length == 0 {
		return models.Ratings{}, "", appErrors.Clone(appErrors.ErrInvalidArgument, "comment is required")
	}
	if length < s.config.CommentMinLength {
		return models.Ratings{}, "", appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("comment must be at least %d characters", s.config.CommentMinLength))
	}
	if length > s.config.CommentMaxLength {
		return models.Ratings{}, "", appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("comment must be at most %d characters", s.config.CommentMaxLength))
	}
	return ratings, comment, nil
}

// Get returns one review. Non-approved reviews are visible to their author,
// admins and the course teacher only; anonymous authors stay hidden from
// everyone but themselves and admins.
func (s *ReviewService) Get(ctx context.Context, reviewID string, viewer authz.Actor) (*models.ReviewDetail, error) {
	detail, err := s.reviews.FindDetailByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Internal(err, "failed to load review")
	}

	privileged := viewer.Role == models.RoleAdmin || (viewer.ID != "" && viewer.ID == detail.UserID)
	if detail.Status != models.StatusApproved && !privileged && !s.teachesCourse(ctx, viewer, detail.CourseID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
	}
	if !privileged {
		detail.Anonymize()
	}
	return detail, nil
}

func (s *ReviewService) teachesCourse(ctx context.Context, viewer authz.Actor, courseID string) bool {
	if viewer.Role != models.RoleTeacher {
		return false
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil || course.TeacherID == nil {
		return false
	}
	return *course.TeacherID == viewer.ID
}

// ListApprovedForCourse pages through a course's approved reviews with
// anonymous authors hidden.
func (s *ReviewService) ListApprovedForCourse(ctx context.Context, courseID string, page, pageSize int) ([]models.ReviewDetail, *models.Pagination, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to load course")
	}

	page, pageSize = pageOrDefault(page, pageSize)
	reviews, total, err := s.reviews.ListApprovedByCourse(ctx, courseID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list reviews")
	}
	for i := range reviews {
		reviews[i].Anonymize()
	}
	return reviews, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ListByUser returns every review of the user regardless of status.
func (s *ReviewService) ListByUser(ctx context.Context, userID string) ([]models.ReviewDetail, error) {
	reviews, err := s.reviews.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list user reviews")
	}
	return reviews, nil
}

// ListForTeacher returns every review on the teacher's courses regardless of
// status, anonymous authors hidden.
func (s *ReviewService) ListForTeacher(ctx context.Context, teacherID string) ([]models.ReviewDetail, error) {
	reviews, err := s.reviews.ListForTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list teacher reviews")
	}
	for i := range reviews {
		reviews[i].Anonymize()
	}
	return reviews, nil
}

// ListPending returns the moderation queue.
func (s *ReviewService) ListPending(ctx context.Context, page, pageSize int) ([]models.ReviewDetail, *models.Pagination, error) {
	page, pageSize = pageOrDefault(page, pageSize)
	reviews, total, err := s.reviews.ListPending(ctx, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list pending reviews")
	}
	return reviews, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// CountPending returns the size of the moderation queue.
func (s *ReviewService) CountPending(ctx context.Context) (int, error) {
	count, err := s.reviews.CountPending(ctx)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count pending reviews")
	}
	return count, nil
}

// ListRecent returns the latest approved reviews across all courses.
func (s *ReviewService) ListRecent(ctx context.Context, limit int) ([]models.ReviewDetail, error) {
	limit = limitOrDefault(limit, 10)
	reviews, err := s.reviews.ListRecentApproved(ctx, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list recent reviews")
	}
	for i := range reviews {
		reviews[i].Anonymize()
	}
	return reviews, nil
}

// HasUserReviewedCourse reports whether the user already reviewed the course.
func (s *ReviewService) HasUserReviewedCourse(ctx context.Context, userID, courseID string) (bool, error) {
	exists, err := s.reviews.ExistsByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return false, appErrors.Internal(err, "failed to check review")
	}
	return exists, nil
}

func (s *ReviewService) audit(ctx context.Context, actorID, action, reviewID string, oldValues, newValues map[string]interface{}) {
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "review",
		ResourceID: &reviewID,
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record review audit log", zap.String("action", action), zap.Error(err))
	}
}

func pageOrDefault(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func limitOrDefault(limit, fallback int) int {
	if limit <= 0 || limit > 100 {
		return fallback
	}
	return limit
}
