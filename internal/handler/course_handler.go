package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error)
	ListByTeacher(ctx context.Context, teacherID string, includeInactive bool) ([]models.CourseSummary, error)
	Get(ctx context.Context, id string, includeInactive bool) (*models.CourseSummary, error)
	Departments(ctx context.Context) ([]string, error)
	TopRated(ctx context.Context, limit int) ([]models.CourseSummary, error)
	Recent(ctx context.Context, limit int) ([]models.CourseSummary, error)
	Create(ctx context.Context, req models.CourseRequest) (*models.Course, error)
	Update(ctx context.Context, id string, req models.CourseRequest) (*models.Course, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type courseStatisticsService interface {
	Get(ctx context.Context, courseID string) (*models.CourseStatistics, error)
}

type statisticsExporter interface {
	ExportStatistics(ctx context.Context, rawFormat string) (*service.ExportResult, error)
}

// CourseHandler serves the course catalogue and its statistics.
type CourseHandler struct {
	courses  courseService
	stats    courseStatisticsService
	exporter statisticsExporter
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(courses courseService, stats courseStatisticsService, exporter statisticsExporter) *CourseHandler {
	return &CourseHandler{courses: courses, stats: stats, exporter: exporter}
}

// List godoc
// @Summary List courses
// @Description Search active courses by name, code or description. Admins may include inactive ones.
// @Tags Courses
// @Produce json
// @Param search query string false "Free text search"
// @Param department query string false "Department"
// @Param type query string false "COURSE or SERVICE"
// @Param teacher_id query string false "Teacher ID"
// @Param include_inactive query bool false "Admin only"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		Search:     c.Query("search"),
		Department: strings.TrimSpace(c.Query("department")),
		TeacherID:  strings.TrimSpace(c.Query("teacher_id")),
		Page:       queryInt(c, "page"),
		PageSize:   queryInt(c, "page_size"),
	}
	if raw := c.Query("type"); raw != "" {
		courseType, err := models.ParseCourseType(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrInvalidArgument, err.Error()))
			return
		}
		filter.Type = &courseType
	}
	if include := queryBool(c, "include_inactive"); include != nil && *include && isAdmin(c) {
		filter.IncludeInactive = true
	}

	courses, pagination, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course
// @Description Course with teacher name and rating averages
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"), isAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Departments godoc
// @Summary List departments
// @Tags Courses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /courses/departments [get]
func (h *CourseHandler) Departments(c *gin.Context) {
	departments, err := h.courses.Departments(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, departments)
}

// TopRated godoc
// @Summary Top rated courses
// @Description Courses with at least one approved review, best overall average first
// @Tags Courses
// @Produce json
// @Param limit query int false "Maximum number of courses"
// @Success 200 {object} response.Envelope
// @Router /courses/top-rated [get]
func (h *CourseHandler) TopRated(c *gin.Context) {
	courses, err := h.courses.TopRated(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, courses)
}

// Recent godoc
// @Summary Recently added courses
// @Tags Courses
// @Produce json
// @Param limit query int false "Maximum number of courses"
// @Success 200 {object} response.Envelope
// @Router /courses/recent [get]
func (h *CourseHandler) Recent(c *gin.Context) {
	courses, err := h.courses.Recent(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, courses)
}

// ListMine godoc
// @Summary Courses taught by the caller
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /courses/mine [get]
func (h *CourseHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	courses, err := h.courses.ListByTeacher(c.Request.Context(), claims.UserID, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, courses)
}

// ListByTeacher godoc
// @Summary Courses taught by a teacher
// @Tags Courses
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /courses/teacher/{teacherId} [get]
func (h *CourseHandler) ListByTeacher(c *gin.Context) {
	courses, err := h.courses.ListByTeacher(c.Request.Context(), c.Param("teacherId"), isAdmin(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, courses)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req models.CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}

	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body models.CourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req models.CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}

	course, err := h.courses.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Activate godoc
// @Summary Activate course
// @Tags Courses
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/activate [patch]
func (h *CourseHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate godoc
// @Summary Deactivate course
// @Description Hidden from public listings; reviews and statistics are kept
// @Tags Courses
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/deactivate [patch]
func (h *CourseHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *CourseHandler) setActive(c *gin.Context, active bool) {
	if err := h.courses.SetActive(c.Request.Context(), c.Param("id"), active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics godoc
// @Summary Course statistics
// @Description Averages over approved reviews; null when no approved review carries the component
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/statistics [get]
func (h *CourseHandler) Statistics(c *gin.Context) {
	stats, err := h.stats.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// ExportStatistics godoc
// @Summary Export statistics of every course
// @Tags Courses
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /courses/statistics/export [get]
func (h *CourseHandler) ExportStatistics(c *gin.Context) {
	result, err := h.exporter.ExportStatistics(c.Request.Context(), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}

func isAdmin(c *gin.Context) bool {
	claims := claimsFromContext(c)
	return claims != nil && claims.Role == models.RoleAdmin
}
