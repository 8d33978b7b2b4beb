package handler

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/authz"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type responseServiceMock struct {
	addErr     error
	lastActor  authz.Actor
	lastReview string
	lastText   string
	deleted    bool
}

func (m *responseServiceMock) Add(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error) {
	m.lastReview, m.lastActor, m.lastText = reviewID, actor, req.ResponseText
	if m.addErr != nil {
		return nil, m.addErr
	}
	return &models.ReviewResponse{ID: "resp-1", ReviewID: reviewID, TeacherID: actor.ID, ResponseText: req.ResponseText}, nil
}

func (m *responseServiceMock) Edit(ctx context.Context, reviewID string, actor authz.Actor, req models.ReviewResponseRequest) (*models.ReviewResponse, error) {
	m.lastReview, m.lastActor, m.lastText = reviewID, actor, req.ResponseText
	return &models.ReviewResponse{ID: "resp-1", ReviewID: reviewID, ResponseText: req.ResponseText}, nil
}

func (m *responseServiceMock) Delete(ctx context.Context, reviewID string, actor authz.Actor) error {
	m.lastReview, m.lastActor = reviewID, actor
	m.deleted = true
	return nil
}

func responseRouter(svc *responseServiceMock) *gin.Engine {
	h := NewReviewResponseHandler(svc)
	return newTestRouter(func(r *gin.Engine) {
		r.POST("/reviews/:id/response", h.Add)
		r.PUT("/reviews/:id/response", h.Update)
		r.DELETE("/reviews/:id/response", h.Delete)
	})
}

func TestReviewResponseHandlerAdd(t *testing.T) {
	svc := &responseServiceMock{}
	req, _ := http.NewRequest(http.MethodPost, "/reviews/review-1/response", bytes.NewReader([]byte(`{"response_text":"Thanks, slides are now online."}`)))
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	req.Header.Set("X-Test-User", "teacher-1")

	w := performRequest(responseRouter(svc), req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "review-1", svc.lastReview)
	assert.Equal(t, authz.Actor{ID: "teacher-1", Role: models.RoleTeacher}, svc.lastActor)
	assert.Equal(t, "Thanks, slides are now online.", svc.lastText)
}

func TestReviewResponseHandlerAddErrors(t *testing.T) {
	svc := &responseServiceMock{addErr: appErrors.Clone(appErrors.ErrConflict, "review already has a response")}
	req, _ := http.NewRequest(http.MethodPost, "/reviews/review-1/response", bytes.NewReader([]byte(`{"response_text":"again"}`)))
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	w := performRequest(responseRouter(svc), req)
	assert.Equal(t, http.StatusConflict, w.Code)

	req, _ = http.NewRequest(http.MethodPost, "/reviews/review-1/response", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	w = performRequest(responseRouter(&responseServiceMock{}), req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewResponseHandlerEditAndDelete(t *testing.T) {
	svc := &responseServiceMock{}
	router := responseRouter(svc)

	req, _ := http.NewRequest(http.MethodPut, "/reviews/review-2/response", bytes.NewReader([]byte(`{"response_text":"Updated note"}`)))
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	w := performRequest(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Updated note", svc.lastText)

	req, _ = http.NewRequest(http.MethodDelete, "/reviews/review-2/response", nil)
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	w = performRequest(router, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.deleted)
}
