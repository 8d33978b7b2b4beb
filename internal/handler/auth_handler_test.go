package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type authServiceMock struct {
	loginErr     error
	lastLogin    models.LoginRequest
	lastRegister models.RegisterRequest
	lastUserID   string
	lastChange   models.ChangePasswordRequest
}

func (m *authServiceMock) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	m.lastRegister = req
	return &models.UserInfo{ID: "user-1", Username: req.Username, Role: models.RoleStudent}, nil
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "token", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	m.lastUserID = userID
	return &models.UserInfo{ID: userID, Username: "alice"}, nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	m.lastUserID = userID
	m.lastChange = req
	return nil
}

func (m *authServiceMock) UsernameAvailable(ctx context.Context, username string) (*models.Availability, error) {
	if username == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "username is required")
	}
	return &models.Availability{Value: username, Available: username != "alice"}, nil
}

func (m *authServiceMock) EmailAvailable(ctx context.Context, email string) (*models.Availability, error) {
	return &models.Availability{Value: email, Available: true}, nil
}

func authRouter(svc *authServiceMock) *gin.Engine {
	h := NewAuthHandler(svc)
	return newTestRouter(func(r *gin.Engine) {
		r.POST("/auth/register", h.Register)
		r.POST("/auth/login", h.Login)
		r.GET("/auth/me", h.Me)
		r.POST("/auth/change-password", h.ChangePassword)
		r.GET("/auth/check-username", h.CheckUsername)
		r.GET("/auth/check-email", h.CheckEmail)
	})
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{"login":"alice","password":"secret1"}`)))
	req.Header.Set("User-Agent", "handler-test")

	w := performRequest(authRouter(svc), req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", svc.lastLogin.Login)
	assert.Equal(t, "handler-test", svc.lastLogin.UserAgent)

	var res models.LoginResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &res))
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	svc := &authServiceMock{loginErr: appErrors.ErrInvalidCredentials}
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{"login":"alice","password":"wrong"}`)))

	w := performRequest(authRouter(svc), req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, decodeEnvelope(t, w).Error.Code)
}

func TestAuthHandlerRegister(t *testing.T) {
	svc := &authServiceMock{}
	req, _ := http.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte(`{"username":"alice","email":"alice@example.edu","password":"secret1","full_name":"Alice"}`)))

	w := performRequest(authRouter(svc), req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice@example.edu", svc.lastRegister.Email)
}

func TestAuthHandlerMeRequiresClaims(t *testing.T) {
	svc := &authServiceMock{}
	router := authRouter(svc)

	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	w := performRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set("X-Test-Role", string(models.RoleStudent))
	req.Header.Set("X-Test-User", "user-42")
	w = performRequest(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", svc.lastUserID)
}

func TestAuthHandlerChangePassword(t *testing.T) {
	svc := &authServiceMock{}
	req, _ := http.NewRequest(http.MethodPost, "/auth/change-password", bytes.NewReader([]byte(`{"old_password":"secret1","new_password":"secret2"}`)))
	req.Header.Set("X-Test-Role", string(models.RoleTeacher))
	req.Header.Set("X-Test-User", "teacher-1")

	w := performRequest(authRouter(svc), req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "teacher-1", svc.lastUserID)
	assert.Equal(t, "secret2", svc.lastChange.NewPassword)
}

func TestAuthHandlerAvailabilityChecks(t *testing.T) {
	router := authRouter(&authServiceMock{})

	req, _ := http.NewRequest(http.MethodGet, "/auth/check-username?username=alice", nil)
	w := performRequest(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	var taken models.Availability
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &taken))
	assert.False(t, taken.Available)

	req, _ = http.NewRequest(http.MethodGet, "/auth/check-email?email=bob@example.edu", nil)
	w = performRequest(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	var free models.Availability
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &free))
	assert.True(t, free.Available)
	assert.Equal(t, "bob@example.edu", free.Value)

	req, _ = http.NewRequest(http.MethodGet, "/auth/check-username", nil)
	assert.Equal(t, http.StatusBadRequest, performRequest(router, req).Code)
}
