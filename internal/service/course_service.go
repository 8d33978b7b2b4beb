package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

const topRatedCachePrefix = "courses:top-rated:"

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindSummaryByID(ctx context.Context, id string) (*models.CourseSummary, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error)
	ListTopRated(ctx context.Context, limit int) ([]models.CourseSummary, error)
	ListRecent(ctx context.Context, limit int) ([]models.CourseSummary, error)
	Departments(ctx context.Context) ([]string, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetActive(ctx context.Context, id string, active bool) error
}

type courseTeacherLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CourseService handles the course catalogue.
type CourseService struct {
	repo      courseRepository
	users     courseTeacherLookup
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService creates a new course service.
func NewCourseService(repo courseRepository, users courseTeacherLookup, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, users: users, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns paginated course summaries.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PageSize = pageOrDefault(filter.Page, filter.PageSize)

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list courses")
	}
	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListByTeacher returns the courses assigned to the teacher. Inactive ones are
// included only when includeInactive is set.
func (s *CourseService) ListByTeacher(ctx context.Context, teacherID string, includeInactive bool) ([]models.CourseSummary, error) {
	courses, _, err := s.repo.List(ctx, models.CourseFilter{TeacherID: teacherID, IncludeInactive: includeInactive, Page: 1, PageSize: 100})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list teacher courses")
	}
	return courses, nil
}

// Get returns a course with its teacher name and statistics. Inactive courses
// are visible to admins only.
func (s *CourseService) Get(ctx context.Context, id string, includeInactive bool) (*models.CourseSummary, error) {
	course, err := s.repo.FindSummaryByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if !course.Active && !includeInactive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return course, nil
}

// Departments lists departments that have active courses.
func (s *CourseService) Departments(ctx context.Context) ([]string, error) {
	departments, err := s.repo.Departments(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list departments")
	}
	if departments == nil {
		departments = []string{}
	}
	return departments, nil
}

// TopRated returns the best rated active courses. Courses without approved
// reviews never appear.
func (s *CourseService) TopRated(ctx context.Context, limit int) ([]models.CourseSummary, error) {
	limit = limitOrDefault(limit, 10)
	key := fmt.Sprintf("%s%d", topRatedCachePrefix, limit)

	var cached []models.CourseSummary
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	courses, err := s.repo.ListTopRated(ctx, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list top rated courses")
	}
	s.cache.Set(ctx, key, courses, s.cacheTTL)
	return courses, nil
}

// Recent returns the newest active courses.
func (s *CourseService) Recent(ctx context.Context, limit int) ([]models.CourseSummary, error) {
	courses, err := s.repo.ListRecent(ctx, limitOrDefault(limit, 10))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list recent courses")
	}
	return courses, nil
}

// Create adds a course. Codes are unique case-insensitively.
func (s *CourseService) Create(ctx context.Context, req models.CourseRequest) (*models.Course, error) {
	course := &models.Course{Active: true}
	if err := s.apply(ctx, course, req); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, course); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Internal(err, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update overwrites a course's mutable fields.
func (s *CourseService) Update(ctx context.Context, id string, req models.CourseRequest) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}

	if err := s.apply(ctx, course, req); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, course); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to update course")
	}
	s.cache.Invalidate(ctx, topRatedCachePattern)
	return course, nil
}

// SetActive shows or hides a course. Its reviews and statistics are kept.
func (s *CourseService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Internal(err, "failed to update course status")
	}
	s.cache.Invalidate(ctx, topRatedCachePattern)
	return nil
}

func (s *CourseService) apply(ctx context.Context, course *models.Course, req models.CourseRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	courseType, err := models.ParseCourseType(req.Type)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, fmt.Sprintf("invalid course type: %s", req.Type))
	}

	if req.TeacherID != nil {
		teacher, err := s.users.FindByID(ctx, *req.TeacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
			}
			return appErrors.Internal(err, "failed to load teacher")
		}
		if teacher.Role != models.RoleTeacher {
			return appErrors.Clone(appErrors.ErrInvalidArgument, "assigned user is not a teacher")
		}
	}

	course.Name = strings.TrimSpace(req.Name)
	course.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	course.Description = trimmedOrNil(req.Description)
	course.Type = courseType
	course.TeacherID = req.TeacherID
	course.Department = trimmedOrNil(req.Department)
	course.Semester = trimmedOrNil(req.Semester)
	course.Credits = req.Credits
	return nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
