package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
)

const courseColumns = `c.id, c.name, c.code, c.description, c.type, c.teacher_id, c.department, c.semester, c.credits, c.active, c.created_at, c.updated_at`

const courseSummarySelect = `SELECT ` + courseColumns + `, u.full_name AS teacher_name,
s.avg_rating_overall, s.avg_rating_clarity, s.avg_rating_material, s.avg_rating_pedagogy, COALESCE(s.total_reviews, 0) AS total_reviews
FROM courses c
LEFT JOIN users u ON u.id = c.teacher_id
LEFT JOIN course_statistics s ON s.course_id = c.id`

// CourseRepository provides database access for courses and services.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns the bare course row.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses c WHERE c.id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindSummaryByID returns the course with its teacher name and statistics.
func (r *CourseRepository) FindSummaryByID(ctx context.Context, id string) (*models.CourseSummary, error) {
	var summary models.CourseSummary
	if err := r.db.GetContext(ctx, &summary, courseSummarySelect+` WHERE c.id = $1 LIMIT 1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course summary: %w", err)
	}
	return &summary, nil
}

// LockForUpdate takes the per-course row lock that serialises review
// transitions and statistics recomputation for the course.
func (r *CourseRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses c WHERE c.id = $1 FOR UPDATE`
	var course models.Course
	if err := tx.GetContext(ctx, &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}
	return &course, nil
}

// List returns course summaries matching the filter with the total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error) {
	var conditions []string
	var args []interface{}

	if !filter.IncludeInactive {
		conditions = append(conditions, "c.active = TRUE")
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(c.code) LIKE $%d OR LOWER(COALESCE(c.description, '')) LIKE $%d)", idx, idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("c.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("c.type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf("%s%s ORDER BY c.name ASC, c.id DESC LIMIT %d OFFSET %d", courseSummarySelect, where, pageSize, (page-1)*pageSize)

	var courses []models.CourseSummary
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses c"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// ListTopRated returns active courses with at least one approved review,
// best average first.
func (r *CourseRepository) ListTopRated(ctx context.Context, limit int) ([]models.CourseSummary, error) {
	query := courseSummarySelect + ` WHERE c.active = TRUE AND s.avg_rating_overall IS NOT NULL AND s.total_reviews > 0
ORDER BY s.avg_rating_overall DESC, s.total_reviews DESC, c.id DESC LIMIT $1`
	var courses []models.CourseSummary
	if err := r.db.SelectContext(ctx, &courses, query, limit); err != nil {
		return nil, fmt.Errorf("list top rated courses: %w", err)
	}
	return courses, nil
}

// ListRecent returns the newest active courses.
func (r *CourseRepository) ListRecent(ctx context.Context, limit int) ([]models.CourseSummary, error) {
	query := courseSummarySelect + ` WHERE c.active = TRUE ORDER BY c.created_at DESC, c.id DESC LIMIT $1`
	var courses []models.CourseSummary
	if err := r.db.SelectContext(ctx, &courses, query, limit); err != nil {
		return nil, fmt.Errorf("list recent courses: %w", err)
	}
	return courses, nil
}

// Departments lists the distinct departments of active courses.
func (r *CourseRepository) Departments(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT department FROM courses WHERE active = TRUE AND department IS NOT NULL ORDER BY department`
	var departments []string
	if err := r.db.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// ListIDs returns every course id, active or not.
func (r *CourseRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM courses ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list course ids: %w", err)
	}
	return ids, nil
}

// Create inserts a course. A code clash surfaces as ErrDuplicate.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	const query = `INSERT INTO courses (id, name, code, description, type, teacher_id, department, semester, credits, active, created_at, updated_at)
VALUES (:id, :name, :code, :description, :type, :teacher_id, :department, :semester, :credits, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return wrapWrite("create course", err)
	}
	return nil
}

// Update overwrites the mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, code = :code, description = :description, type = :type, teacher_id = :teacher_id,
department = :department, semester = :semester, credits = :credits, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return wrapWrite("update course", err)
	}
	return expectAffected(res, "update course")
}

// SetActive toggles course visibility.
func (r *CourseRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE courses SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set course active: %w", err)
	}
	return expectAffected(res, "set course active")
}
