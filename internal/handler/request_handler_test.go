package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"backoffice/internal/model"
	"backoffice/internal/service"
	"backoffice/internal/workflow"
	"backoffice/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRequestService returns canned values so handler tests only exercise
// binding, identity resolution and response mapping.
type stubRequestService struct {
	request *model.Request
	err     error

	gotType  string
	gotActor workflow.Actor
	gotDTO   service.UpdateStatusDTO
}

func (s *stubRequestService) Create(ctx context.Context, requestType string, actor workflow.Actor, dto service.CreateRequestDTO) (*model.Request, error) {
	s.gotType, s.gotActor = requestType, actor
	return s.request, s.err
}

func (s *stubRequestService) Get(ctx context.Context, requestType, id string, actor workflow.Actor) (*model.Request, error) {
	s.gotType, s.gotActor = requestType, actor
	return s.request, s.err
}

func (s *stubRequestService) List(ctx context.Context, requestType string, actor workflow.Actor, filter service.ListRequestsFilter) ([]model.Request, int64, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return []model.Request{*s.request}, 1, nil
}

func (s *stubRequestService) Update(ctx context.Context, requestType, id string, actor workflow.Actor, dto service.UpdateRequestDTO) (*model.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) UpdateStatus(ctx context.Context, requestType, id string, actor workflow.Actor, dto service.UpdateStatusDTO) (*model.Request, error) {
	s.gotType, s.gotActor, s.gotDTO = requestType, actor, dto
	return s.request, s.err
}

func (s *stubRequestService) Dispatch(ctx context.Context, requestType, id string, actor workflow.Actor, target string) (*model.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) Reassign(ctx context.Context, requestType, id string, actor workflow.Actor, dto service.ReassignDTO) (*model.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) Share(ctx context.Context, requestType, id string, actor workflow.Actor, userIDs []string) (*model.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) Delete(ctx context.Context, requestType, id string, actor workflow.Actor) error {
	return s.err
}

func (s *stubRequestService) AttachFile(ctx context.Context, requestType, id string, actor workflow.Actor, file *model.Attachment) (*model.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) Stats(ctx context.Context, requestType string) (*service.RequestStatsResponse, error) {
	return &service.RequestStatsResponse{RequestType: requestType}, s.err
}

func (s *stubRequestService) DashboardStats(ctx context.Context) ([]service.RequestStatsResponse, error) {
	return nil, s.err
}

type stubCommentService struct {
	comment *model.Comment
	err     error
}

func (s *stubCommentService) Add(ctx context.Context, requestType, requestID string, actor workflow.Actor, dto service.AddCommentDTO) (*model.Comment, error) {
	return s.comment, s.err
}

func (s *stubCommentService) Update(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor, dto service.UpdateCommentDTO) (*model.Comment, error) {
	return s.comment, s.err
}

func (s *stubCommentService) Delete(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor) error {
	return s.err
}

func testContext(t *testing.T, method, path, body string) (*gin.Context, *httptest.ResponseRecorder, uuid.UUID) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req

	userID := uuid.New()
	c.Set("userID", userID.String())
	c.Set("userRole", model.RoleReviewer)
	return c, w, userID
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUpdateStatusHandlerSuccess(t *testing.T) {
	stub := &stubRequestService{request: &model.Request{
		ID:          uuid.New(),
		Code:        "PCR-0001",
		RequestType: model.TypePurchaseRequest,
		Status:      model.StatusReviewed,
	}}
	h := NewRequestHandler(stub, &stubCommentService{}, t.TempDir())

	c, w, userID := testContext(t, http.MethodPatch, "/api/purchase-requests/update-status/x", `{"status":"reviewed","comment":"ok"}`)
	h.updateStatus(model.TypePurchaseRequest)(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if stub.gotActor.ID != userID || stub.gotActor.Role != model.RoleReviewer {
		t.Errorf("actor = %+v", stub.gotActor)
	}
	if stub.gotDTO.Status != model.StatusReviewed || stub.gotDTO.Comment != "ok" {
		t.Errorf("dto = %+v", stub.gotDTO)
	}

	env := decodeEnvelope(t, w)
	if env["status"] != "success" {
		t.Errorf("envelope status = %v", env["status"])
	}
}

func TestHandlerMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"forbidden", apperr.Forbidden("no"), http.StatusForbidden},
		{"not found", apperr.NotFound("gone"), http.StatusNotFound},
		{"conflict", apperr.Conflict("raced"), http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubRequestService{err: tc.err}
			h := NewRequestHandler(stub, &stubCommentService{}, t.TempDir())

			c, w, _ := testContext(t, http.MethodGet, "/api/purchase-requests/x", "")
			h.get(model.TypePurchaseRequest)(c)

			if w.Code != tc.code {
				t.Fatalf("status = %d, want %d", w.Code, tc.code)
			}
			env := decodeEnvelope(t, w)
			if env["status"] != "error" {
				t.Errorf("envelope status = %v", env["status"])
			}
		})
	}
}

func TestHandlerValidationErrorCarriesFields(t *testing.T) {
	stub := &stubRequestService{err: apperr.Validation(map[string]string{"title": "title is required"})}
	h := NewRequestHandler(stub, &stubCommentService{}, t.TempDir())

	c, w, _ := testContext(t, http.MethodPost, "/api/purchase-requests", `{"title":"x"}`)
	h.create(model.TypePurchaseRequest)(c)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	fields, _ := env["errors"].(map[string]interface{})
	if fields["title"] != "title is required" {
		t.Errorf("errors = %v", env["errors"])
	}
}

func TestHandlerHidesInternalErrors(t *testing.T) {
	stub := &stubRequestService{err: apperr.Internal("pq: connection reset", nil)}
	h := NewRequestHandler(stub, &stubCommentService{}, t.TempDir())

	c, w, _ := testContext(t, http.MethodGet, "/api/purchase-requests/x", "")
	h.get(model.TypePurchaseRequest)(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("driver error leaked to the client: %s", w.Body.String())
	}
}

func TestHandlerRejectsMissingIdentity(t *testing.T) {
	h := NewRequestHandler(&stubRequestService{}, &stubCommentService{}, t.TempDir())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/purchase-requests/x", nil)

	h.get(model.TypePurchaseRequest)(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
