package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
)

var courseRowColumns = []string{"id", "name", "code", "description", "type", "teacher_id", "department", "semester", "credits", "active", "created_at", "updated_at"}

func TestLockForUpdateMissingCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses c WHERE c.id = $1 FOR UPDATE")).
		WithArgs("c404").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := NewTxManager(db).WithinTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := repo.LockForUpdate(context.Background(), tx, "c404")
		return err
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTopRatedExcludesUnratedCourses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	columns := append(append([]string{}, courseRowColumns...), "teacher_name", "avg_rating_overall", "avg_rating_clarity", "avg_rating_material", "avg_rating_pedagogy", "total_reviews")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.avg_rating_overall DESC, s.total_reviews DESC, c.id DESC LIMIT $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c1", "Physics", "PHY101", nil, "COURSE", "t1", "Science", nil, 6, true, now, now, "Tina", 4.75, nil, nil, nil, 4))

	courses, err := repo.ListTopRated(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "PHY101", courses[0].Code)
	require.NotNil(t, courses[0].AvgOverall)
	assert.Equal(t, 4.75, *courses[0].AvgOverall)
	assert.Equal(t, 4, courses[0].TotalReviews)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCourseDuplicateCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "courses_code_key"})

	err := repo.Create(context.Background(), &models.Course{Name: "Physics", Code: "PHY101", Type: models.CourseTypeCourse, Active: true})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCoursesBuildsFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	courseType := models.CourseTypeService
	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.active = TRUE AND c.department = $1 AND c.type = $2 ORDER BY c.name ASC, c.id DESC LIMIT 20 OFFSET 0")).
		WithArgs("Library", courseType).
		WillReturnRows(sqlmock.NewRows(courseRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses c WHERE c.active = TRUE AND c.department = $1 AND c.type = $2")).
		WithArgs("Library", courseType).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{Department: "Library", Type: &courseType})
	require.NoError(t, err)
	assert.Empty(t, courses)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
