package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"backoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubUserService struct {
	created *service.CreateUserRequest
}

func (s *stubUserService) CreateUser(ctx context.Context, req service.CreateUserRequest) (*service.UserResponse, error) {
	s.created = &req
	return &service.UserResponse{ID: uuid.New(), Username: req.Username, Role: req.Role}, nil
}

func (s *stubUserService) Login(ctx context.Context, req service.LoginUserRequest) (*service.TokenResponse, error) {
	return &service.TokenResponse{}, nil
}

func (s *stubUserService) RefreshToken(ctx context.Context, req service.RefreshTokenRequest) (*service.TokenResponse, error) {
	return &service.TokenResponse{}, nil
}

func (s *stubUserService) GetUserByID(ctx context.Context, id string) (*service.UserResponse, error) {
	return &service.UserResponse{}, nil
}

func (s *stubUserService) ListUsers(ctx context.Context, page, limit int) ([]service.UserResponse, int64, error) {
	return nil, 0, nil
}

func (s *stubUserService) UpdateUser(ctx context.Context, id string, req service.UpdateUserRequest) (*service.UserResponse, error) {
	return &service.UserResponse{}, nil
}

func (s *stubUserService) DeleteUser(ctx context.Context, id string) error { return nil }

func tempAdminStatus(stub *stubUserService) int {
	router := gin.New()
	NewUserHandler(stub).RegisterRoutes(router.Group(""))

	w := httptest.NewRecorder()
	body := `{"username":"root","email":"root@example.com","phone":"123","password":"secret1","role":"staff"}`
	req := httptest.NewRequest(http.MethodPost, "/temp-admin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w.Code
}

func TestTempAdminDisabledInReleaseMode(t *testing.T) {
	defer gin.SetMode(gin.TestMode)

	gin.SetMode(gin.ReleaseMode)
	if code := tempAdminStatus(&stubUserService{}); code != http.StatusNotFound {
		t.Errorf("release mode status = %d, want 404", code)
	}

	gin.SetMode(gin.TestMode)
	stub := &stubUserService{}
	if code := tempAdminStatus(stub); code != http.StatusCreated {
		t.Errorf("dev mode status = %d, want 201", code)
	}
	if stub.created == nil || stub.created.Role != "admin" {
		t.Errorf("created = %+v, want forced admin role", stub.created)
	}
}
