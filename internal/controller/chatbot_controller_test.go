package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campus-qa-be/internal/dto"
	"campus-qa-be/internal/pkg/serverutils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChatbotService struct {
	mock.Mock
}

func (m *MockChatbotService) ProcessQuery(ctx context.Context, request *dto.ProcessQueryRequest) (*dto.AnswerResult, error) {
	args := m.Called(ctx, request)
	res, _ := args.Get(0).(*dto.AnswerResult)
	return res, args.Error(1)
}

func (m *MockChatbotService) ClearSession(ctx context.Context, sessionId string) error {
	return m.Called(ctx, sessionId).Error(0)
}

func (m *MockChatbotService) GetSessionStats(ctx context.Context, sessionId string) (*dto.SessionStats, error) {
	args := m.Called(ctx, sessionId)
	res, _ := args.Get(0).(*dto.SessionStats)
	return res, args.Error(1)
}

func (m *MockChatbotService) Health(ctx context.Context) *dto.HealthResponse {
	return m.Called(ctx).Get(0).(*dto.HealthResponse)
}

const testSecret = "test-secret"

func newTestApp(svc *MockChatbotService) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewChatbotController(svc, testSecret).RegisterRoutes(app.Group("/api"))
	return app
}

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "GV001",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func decode(t *testing.T, body io.Reader) serverutils.Response {
	t.Helper()
	var res serverutils.Response
	require.NoError(t, json.NewDecoder(body).Decode(&res))
	return res
}

func TestProcessQuery_PassesTokenToService(t *testing.T) {
	svc := new(MockChatbotService)
	token := signedToken(t, testSecret)
	svc.On("ProcessQuery", mock.Anything, mock.MatchedBy(func(r *dto.ProcessQueryRequest) bool {
		return r.Query == "lịch dạy hôm nay" && r.SessionId == "s-1" && r.AuthToken == token
	})).Return(&dto.AnswerResult{Status: "success", SessionId: "s-1", Response: "Dạ thầy An, ..."}, nil)

	req := httptest.NewRequest("POST", "/api/chat/v1/query", strings.NewReader(`{"query":"lịch dạy hôm nay","session_id":"s-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := newTestApp(svc).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, decode(t, resp.Body).Success)
	svc.AssertExpectations(t)
}

func TestProcessQuery_WithoutTokenStillAnswers(t *testing.T) {
	svc := new(MockChatbotService)
	svc.On("ProcessQuery", mock.Anything, mock.MatchedBy(func(r *dto.ProcessQueryRequest) bool {
		return r.AuthToken == ""
	})).Return(&dto.AnswerResult{Status: "success"}, nil)

	req := httptest.NewRequest("POST", "/api/chat/v1/query", strings.NewReader(`{"query":"học phí"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := newTestApp(svc).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestProcessQuery_InvalidTokenIsRejected(t *testing.T) {
	svc := new(MockChatbotService)

	req := httptest.NewRequest("POST", "/api/chat/v1/query", strings.NewReader(`{"query":"học phí"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "other-secret"))

	resp, err := newTestApp(svc).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	svc.AssertNotCalled(t, "ProcessQuery", mock.Anything, mock.Anything)
}

func TestProcessQuery_ValidationAndBodyErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"query":`, fiber.StatusBadRequest},
		{"query too long", `{"query":"` + strings.Repeat("a", 4001) + `"}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockChatbotService)
			req := httptest.NewRequest("POST", "/api/chat/v1/query", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := newTestApp(svc).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.False(t, decode(t, resp.Body).Success)
			svc.AssertNotCalled(t, "ProcessQuery", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessQuery_ServiceErrorIs500(t *testing.T) {
	svc := new(MockChatbotService)
	svc.On("ProcessQuery", mock.Anything, mock.Anything).Return(nil, errors.New("record turn: context canceled"))

	req := httptest.NewRequest("POST", "/api/chat/v1/query", strings.NewReader(`{"query":"học phí"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := newTestApp(svc).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestClearSessionAndStats(t *testing.T) {
	svc := new(MockChatbotService)
	svc.On("ClearSession", mock.Anything, "s-9").Return(nil)
	svc.On("GetSessionStats", mock.Anything, "s-9").Return(&dto.SessionStats{SessionId: "s-9", Exists: false}, nil)
	app := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/api/chat/v1/sessions/s-9", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/chat/v1/sessions/s-9/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp.Body)
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "s-9", data["session_id"])
	svc.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	svc := new(MockChatbotService)
	svc.On("Health", mock.Anything).Return(&dto.HealthResponse{Status: "degraded"}).Once()

	resp, err := newTestApp(svc).Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
