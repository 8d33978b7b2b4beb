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

type reviewResponseService interface {
	Add(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error)
	Edit(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error)
	Delete(ctx context.Context, reviewID string, actor authz.Actor) error
}

// ReviewResponseHandler manages the teacher reply attached to a review.
type ReviewResponseHandler struct {
	service reviewResponseService
}

// NewReviewResponseHandler constructs the handler.
func NewReviewResponseHandler(svc reviewResponseService) *ReviewResponseHandler {
	return &ReviewResponseHandler{service: svc}
}

// Add godoc
// @Summary Respond to review
// @Description The teacher of the reviewed course adds a single response
// @Tags Responses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param payload body models.ReviewResponseRequest true "Response payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reviews/{id}/response [post]
func (h *ReviewResponseHandler) Add(c *gin.Context) {
	var req models.ReviewResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid response payload"))
		return
	}

	resp, err := h.service.Add(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Update godoc
// @Summary Edit review response
// @Tags Responses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Param payload body models.ReviewResponseRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id}/response [put]
func (h *ReviewResponseHandler) Update(c *gin.Context) {
	var req models.ReviewResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid response payload"))
		return
	}

	resp, err := h.service.Edit(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// Delete godoc
// @Summary Delete review response
// @Tags Responses
// @Security BearerAuth
// @Param id path string true "Review ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id}/response [delete]
func (h *ReviewResponseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
