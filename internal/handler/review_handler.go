package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/authz"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type reviewService interface {
	Create(ctx context.Context, userID string, req models.CreateReviewRequest) (*models.Review, error)
	Edit(ctx context.Context, reviewID string, actor authz.Actor, req models.UpdateReviewRequest) (*models.Review, error)
	Delete(ctx context.Context, reviewID string, actor authz.Actor) error
	Moderate(ctx context.Context, reviewID string, actor authz.Actor, rawStatus string) (*models.Review, error)
	Get(ctx context.Context, reviewID string, viewer authz.Actor) (*models.ReviewDetail, error)
	ListApprovedForCourse(ctx context.Context, courseID string, page, pageSize int) ([]models.ReviewDetail, *models.Pagination, error)
	ListByUser(ctx context.Context, userID string) ([]models.ReviewDetail, error)
	ListForTeacher(ctx context.Context, teacherID string) ([]models.ReviewDetail, error)
	ListPending(ctx context.Context, page, pageSize int) ([]models.ReviewDetail, *models.Pagination, error)
	CountPending(ctx context.Context) (int, error)
	ListRecent(ctx context.Context, limit int) ([]models.ReviewDetail, error)
	HasUserReviewedCourse(ctx context.Context, userID, courseID string) (bool, error)
}

// ReviewHandler exposes the review lifecycle and review listings.
type ReviewHandler struct {
	service reviewService
}

// NewReviewHandler constructs the handler.
func NewReviewHandler(svc reviewService) *ReviewHandler {
	return &ReviewHandler{service: svc}
}

// Create godoc
// @Summary Submit review
// @Description Submit a review for a course. New reviews wait for moderation.
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateReviewRequest true "Review payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reviews [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	review, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// Update godoc
// @Summary Edit review
// @Description Edit own review. The review returns to PENDING.
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param payload body models.UpdateReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [put]
func (h *ReviewHandler) Update(c *gin.Context) {
	var req models.UpdateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	review, err := h.service.Edit(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// Delete godoc
// @Summary Delete review
// @Tags Reviews
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [delete]
func (h *ReviewHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Moderate godoc
// @Summary Moderate review
// @Description Approve or reject a review
// @Tags Reviews
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param payload body models.ModerateReviewRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id}/moderate [patch]
func (h *ReviewHandler) Moderate(c *gin.Context) {
	var req models.ModerateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid moderation payload"))
		return
	}

	review, err := h.service.Moderate(c.Request.Context(), c.Param("id"), actorFromContext(c), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// Get godoc
// @Summary Get review
// @Description Approved reviews are public; others are visible to their author, the course teacher and admins.
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	review, err := h.service.Get(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// ListForCourse godoc
// @Summary List approved reviews of a course
// @Tags Reviews
// @Produce json
// @Param id path string true "Course ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/reviews [get]
func (h *ReviewHandler) ListForCourse(c *gin.Context) {
	reviews, pagination, err := h.service.ListApprovedForCourse(c.Request.Context(), c.Param("id"), queryInt(c, "page"), queryInt(c, "page_size"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, pagination)
}

// ListMine godoc
// @Summary List own reviews
// @Description All reviews of the caller regardless of status
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /reviews/me [get]
func (h *ReviewHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reviews, err := h.service.ListByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reviews)
}

// ListForTeacher godoc
// @Summary List reviews of the caller's courses
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /reviews/teacher [get]
func (h *ReviewHandler) ListForTeacher(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reviews, err := h.service.ListForTeacher(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reviews)
}

// ListPending godoc
// @Summary List reviews awaiting moderation
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reviews/pending [get]
func (h *ReviewHandler) ListPending(c *gin.Context) {
	reviews, pagination, err := h.service.ListPending(c.Request.Context(), queryInt(c, "page"), queryInt(c, "page_size"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, pagination)
}

// CountPending godoc
// @Summary Count reviews awaiting moderation
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /reviews/pending/count [get]
func (h *ReviewHandler) CountPending(c *gin.Context) {
	count, err := h.service.CountPending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"count": count})
}

// ListRecent godoc
// @Summary List recently approved reviews
// @Tags Reviews
// @Produce json
// @Param limit query int false "Maximum number of reviews"
// @Success 200 {object} response.Envelope
// @Router /reviews/recent [get]
func (h *ReviewHandler) ListRecent(c *gin.Context) {
	reviews, err := h.service.ListRecent(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reviews)
}

// Check godoc
// @Summary Check whether the caller reviewed a course
// @Tags Reviews
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /reviews/check/{courseId} [get]
func (h *ReviewHandler) Check(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	courseID := c.Param("courseId")
	reviewed, err := h.service.HasUserReviewedCourse(c.Request.Context(), claims.UserID, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, models.ReviewCheck{CourseID: courseID, Reviewed: reviewed})
}
