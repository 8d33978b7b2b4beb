package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Counts(ctx context.Context) (*models.UserCounts, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	SetActive(ctx context.Context, id string, active bool) error
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) error
	DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userReviewRepository interface {
	ListCourseIDsByUserWithTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error)
}

type userCourseLocker interface {
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
}

// AuditMeta carries request details recorded with admin actions.
type AuditMeta struct {
	ActorID   string
	IP        string
	UserAgent string
}

// UserService handles user management workflows.
type UserService struct {
	repo    userRepository
	reviews userReviewRepository
	courses userCourseLocker
	stats   statisticsRecomputer
	tx      transactor
	logger  *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, reviews userReviewRepository, courses userCourseLocker, stats statisticsRecomputer, tx transactor, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, reviews: reviews, courses: courses, stats: stats, tx: tx, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	filter.Page, filter.PageSize = pageOrDefault(filter.Page, filter.PageSize)
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// Counts returns user totals by role and activity.
func (s *UserService) Counts(ctx context.Context) (*models.UserCounts, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count users")
	}
	return counts, nil
}

// UpdateRole changes a user's role. Admins cannot change their own role.
func (s *UserService) UpdateRole(ctx context.Context, id string, req models.UpdateRoleRequest, meta AuditMeta) (*models.User, error) {
	role, err := models.ParseUserRole(req.Role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "invalid role")
	}
	if id == meta.ActorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own role")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to update role")
	}

	s.audit(ctx, meta, models.AuditActionRoleChange, id, map[string]interface{}{"role": user.Role}, map[string]interface{}{"role": role})
	user.Role = role
	return user, nil
}

// SetActive activates or deactivates an account. Reviews of deactivated
// users stay in place.
func (s *UserService) SetActive(ctx context.Context, id string, active bool, meta AuditMeta) error {
	if id == meta.ActorID && !active {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to update user status")
	}

	action := models.AuditActionUserDeactivate
	if active {
		action = models.AuditActionUserActivate
	}
	s.audit(ctx, meta, action, id, nil, map[string]interface{}{"active": active})
	return nil
}

// Delete removes a user together with their reviews, then recomputes every
// course they reviewed. The user row is locked first so no review can be
// added, and every reviewed course is locked before the cascade so a
// concurrent moderation cannot approve a review that is about to vanish.
func (s *UserService) Delete(ctx context.Context, id string, meta AuditMeta) error {
	if id == meta.ActorID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete your own account")
	}

	var affected []string
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.LockForUpdate(ctx, tx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return appErrors.Internal(err, "failed to lock user")
		}

		courseIDs, err := s.reviews.ListCourseIDsByUserWithTx(ctx, tx, id)
		if err != nil {
			return appErrors.Internal(err, "failed to list reviewed courses")
		}
		for _, courseID := range courseIDs {
			if _, err := s.courses.LockForUpdate(ctx, tx, courseID); err != nil {
				return appErrors.Internal(err, "failed to lock course")
			}
		}

		if err := s.repo.DeleteWithTx(ctx, tx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return appErrors.Internal(err, "failed to delete user")
		}

		for _, courseID := range courseIDs {
			if err := s.stats.Recompute(ctx, tx, courseID); err != nil {
				return err
			}
		}
		affected = courseIDs
		return nil
	})
	if err != nil {
		return err
	}

	for _, courseID := range affected {
		s.stats.InvalidateCourse(ctx, courseID)
	}
	s.audit(ctx, meta, models.AuditActionUserDelete, id, nil, map[string]interface{}{"recomputed_courses": len(affected)})
	s.logger.Info("user deleted", zap.String("user_id", id), zap.Int("recomputed_courses", len(affected)))
	return nil
}

func (s *UserService) audit(ctx context.Context, meta AuditMeta, action, userID string, oldValues, newValues map[string]interface{}) {
	entry := &models.AuditLog{
		UserID:     &meta.ActorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
