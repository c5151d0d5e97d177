package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"backoffice/pkg/apperr"
)

func TestCreateRetriesOnRateLimit(t *testing.T) {
	var calls, created int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/purchase-requests" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}

		n := atomic.AddInt32(&calls, 1)
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var body CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		atomic.AddInt32(&created, 1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "success",
			"status_code": 201,
			"data": map[string]interface{}{
				"id":           "8b5a0d5e-21a7-4f7e-9e54-1f6f7f3d9f00",
				"code":         "PCR-0001",
				"request_type": "purchase_request",
				"status":       "pending",
				"title":        body.Title,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("tok"), WithRetry(time.Millisecond, 3))

	req, err := c.Create(context.Background(), "purchase-requests", CreateRequest{
		Title:  "Office chairs",
		Submit: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if req.Code != "PCR-0001" {
		t.Errorf("code = %q, want PCR-0001", req.Code)
	}
	if req.Status != "pending" {
		t.Errorf("status = %q, want pending", req.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d calls, want 4 (three rate-limited, one success)", got)
	}
	if got := atomic.LoadInt32(&created); got != 1 {
		t.Errorf("server created %d resources, want exactly 1", got)
	}
}

func TestCreateSurfacesFailureAfterRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(time.Millisecond, 3))

	_, err := c.Create(context.Background(), "purchase-requests", CreateRequest{Title: "x", Submit: true})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Errorf("error kind = %v, want internal after budget exhausted", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d calls, want 4 (initial plus three retries)", got)
	}
}

func TestNoRetryOnPermanentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "error",
			"status_code": 403,
			"error":       "access denied",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(time.Millisecond, 3))

	_, err := c.UpdateStatus(context.Background(), "purchase-requests", "some-id", StatusUpdate{Status: "approved"})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("error = %v, want forbidden", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 403)", got)
	}
}

func TestValidationErrorsCarryFieldMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "error",
			"status_code": 422,
			"error":       "validation failed",
			"errors": map[string]string{
				"title":      "title is required",
				"department": "department is required",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	_, err := c.Create(context.Background(), "purchase-requests", CreateRequest{Submit: true})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	fields := apperr.FieldErrors(err)
	if fields["title"] != "title is required" {
		t.Errorf("fields[title] = %q", fields["title"])
	}
	if fields["department"] != "department is required" {
		t.Errorf("fields[department] = %q", fields["department"])
	}
}

func TestGetDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rfqs/abc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "success",
			"status_code": 200,
			"data": map[string]interface{}{
				"id":              "abc",
				"code":            "RFQ-0007",
				"request_type":    "rfq",
				"status":          "approved",
				"dispatch_status": "sent",
				"total_amount":    "350",
				"version":         3,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	req, err := c.Get(context.Background(), "rfqs", "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.DispatchStatus != "sent" {
		t.Errorf("dispatch_status = %q, want sent", req.DispatchStatus)
	}
	if req.TotalAmount.String() != "350" {
		t.Errorf("total_amount = %s, want 350", req.TotalAmount)
	}
	if req.Version != 3 {
		t.Errorf("version = %d, want 3", req.Version)
	}
}
