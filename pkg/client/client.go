// Package client is a Go consumer of the back office REST API. It attaches a
// bearer token to every call, decodes the standard response envelope, and
// transparently retries rate-limited requests with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"backoffice/pkg/apperr"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// Client calls the back office API on behalf of one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	retryBase  time.Duration
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetry overrides the rate-limit retry policy. base is the first delay,
// doubled on each subsequent attempt; maxRetries is the number of retries
// after the initial attempt.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.retryBase = base
		c.maxRetries = maxRetries
	}
}

// NewClient returns a client for the API at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryBase:  time.Second,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- Wire types ---

// envelope is the standard response wrapper returned by every endpoint.
type envelope struct {
	Status     string            `json:"status"`
	StatusCode int               `json:"status_code"`
	Message    string            `json:"message"`
	Data       json.RawMessage   `json:"data"`
	Error      string            `json:"error"`
	Errors     map[string]string `json:"errors"`
}

// Request mirrors the server-side request document.
type Request struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	RequestType    string          `json:"request_type"`
	Status         string          `json:"status"`
	DispatchStatus string          `json:"dispatch_status,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Department     string          `json:"department,omitempty"`
	AccountCode    string          `json:"account_code,omitempty"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	CreatedBy      string          `json:"created_by"`
	ReviewedBy     *string         `json:"reviewed_by"`
	ReviewedAt     *time.Time      `json:"reviewed_at"`
	ApprovedBy     *string         `json:"approved_by"`
	ApprovedAt     *time.Time      `json:"approved_at"`
	Version        int             `json:"version"`
	LineItems      []LineItem      `json:"line_items,omitempty"`
	Comments       []Comment       `json:"comments,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LineItem is one costed row on a request.
type LineItem struct {
	ID          string          `json:"id,omitempty"`
	Description string          `json:"description"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Quantity    int             `json:"quantity"`
	Frequency   int             `json:"frequency"`
	Total       decimal.Decimal `json:"total,omitempty"`
}

// Comment is one entry in a request's discussion thread.
type Comment struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	UserID    string     `json:"user_id"`
	Text      string     `json:"text"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateRequest is the payload for creating a document, either as a draft
// (Submit false) or submitted straight into review (Submit true).
type CreateRequest struct {
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Department       string     `json:"department,omitempty"`
	ExpenseChargedTo string     `json:"expense_charged_to,omitempty"`
	AccountCode      string     `json:"account_code,omitempty"`
	GrossAmount      string     `json:"gross_amount,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	LineItems        []LineItem `json:"line_items,omitempty"`
	Submit           bool       `json:"submit"`
}

// UpdateRequest is the payload for editing a document in place.
type UpdateRequest struct {
	Title            string      `json:"title,omitempty"`
	Description      string      `json:"description,omitempty"`
	Department       string      `json:"department,omitempty"`
	ExpenseChargedTo string      `json:"expense_charged_to,omitempty"`
	AccountCode      string      `json:"account_code,omitempty"`
	GrossAmount      string      `json:"gross_amount,omitempty"`
	StartDate        *time.Time  `json:"start_date,omitempty"`
	EndDate          *time.Time  `json:"end_date,omitempty"`
	LineItems        *[]LineItem `json:"line_items,omitempty"`
}

// StatusUpdate advances a document through its workflow. ExpectedVersion, if
// set, makes the update fail with a conflict when someone else got there first.
type StatusUpdate struct {
	Status          string `json:"status"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

// ListQuery carries pagination and filter params for list endpoints.
type ListQuery struct {
	Status string
	Search string
	Sort   string
	Page   int
	Limit  int
}

// ListPage is one page of list results.
type ListPage struct {
	Items       []Request `json:"items"`
	Total       int64     `json:"total"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
}

// Stats holds aggregate counts for one request type.
type Stats struct {
	RequestType string           `json:"request_type"`
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
}

// --- Resource operations ---

// List fetches one page of documents from a resource, e.g. "purchase-requests".
func (c *Client) List(ctx context.Context, resource string, q ListQuery) (*ListPage, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/" + resource
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page ListPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get fetches a single document by id.
func (c *Client) Get(ctx context.Context, resource, id string) (*Request, error) {
	var req Request
	if err := c.do(ctx, http.MethodGet, "/api/"+resource+"/"+id, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Stats fetches aggregate status counts for a resource.
func (c *Client) Stats(ctx context.Context, resource string) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/"+resource+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Create creates a document. With Submit true the document enters the review
// workflow immediately; otherwise it is saved as a draft where the variant
// supports drafts.
func (c *Client) Create(ctx context.Context, resource string, body CreateRequest) (*Request, error) {
	var req Request
	if err := c.do(ctx, http.MethodPost, "/api/"+resource, body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveDraft creates or updates a draft without submitting it.
func (c *Client) SaveDraft(ctx context.Context, resource string, body map[string]interface{}) (*Request, error) {
	var req Request
	if err := c.do(ctx, http.MethodPost, "/api/"+resource+"/save", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Update edits a document in place.
func (c *Client) Update(ctx context.Context, resource, id string, body UpdateRequest) (*Request, error) {
	var req Request
	if err := c.do(ctx, http.MethodPut, "/api/"+resource+"/"+id, body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus moves a document to a new workflow status.
func (c *Client) UpdateStatus(ctx context.Context, resource, id string, body StatusUpdate) (*Request, error) {
	var req Request
	if err := c.do(ctx, http.MethodPatch, "/api/"+resource+"/update-status/"+id, body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Share copies a document to additional users. Sharing is idempotent; users
// already on the copy list are skipped.
func (c *Client) Share(ctx context.Context, resource, id string, userIDs []string) (*Request, error) {
	var req Request
	body := map[string][]string{"userIds": userIDs}
	if err := c.do(ctx, http.MethodPatch, "/api/"+resource+"/"+id+"/copy", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// AddComment appends a comment to a document's thread.
func (c *Client) AddComment(ctx context.Context, resource, id, text string) (*Comment, error) {
	var comment Comment
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/api/"+resource+"/"+id+"/comments", body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateComment replaces a comment's text. Only the author or an admin may edit.
func (c *Client) UpdateComment(ctx context.Context, resource, id, commentID, text string) (*Comment, error) {
	var comment Comment
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPatch, "/api/"+resource+"/"+id+"/comments/"+commentID, body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// DeleteComment removes a comment from a document's thread.
func (c *Client) DeleteComment(ctx context.Context, resource, id, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/"+resource+"/"+id+"/comments/"+commentID, nil, nil)
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/"+resource+"/"+id, nil, nil)
}

// Dispatch moves an approved RFQ through its send lifecycle
// (preview, sent, cancelled).
func (c *Client) Dispatch(ctx context.Context, resource, id, target string) (*Request, error) {
	var req Request
	body := map[string]string{"dispatch_status": target}
	if err := c.do(ctx, http.MethodPatch, "/api/"+resource+"/"+id+"/dispatch", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// --- Transport ---

// do performs one API call, retrying on HTTP 429 with exponential backoff
// before surfacing the failure. The request body is buffered so each retry
// resends identical bytes.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return apperr.Internal("encode request body", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		return c.doOnce(ctx, method, path, payload, out)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil && apperr.IsKind(err, apperr.KindRateLimited) {
		// Retry budget exhausted; surface as a server-side failure.
		return apperr.Internal(fmt.Sprintf("rate limited after %d attempts", attempts), err)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(apperr.Internal("build request", err))
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return backoff.Permanent(apperr.Internal("request failed", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Retryable; everything else is final.
		io.Copy(io.Discard, resp.Body)
		return apperr.RateLimited("rate limited")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return backoff.Permanent(apperr.Internal("read response", err))
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return backoff.Permanent(apperr.Internal(fmt.Sprintf("malformed response (HTTP %d)", resp.StatusCode), err))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backoff.Permanent(errorFromEnvelope(resp.StatusCode, env))
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return backoff.Permanent(apperr.Internal("decode response data", err))
		}
	}
	return nil
}

// errorFromEnvelope maps an HTTP failure back onto the shared error taxonomy.
func errorFromEnvelope(status int, env envelope) error {
	msg := env.Error
	if msg == "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized:
		return apperr.Unauthorized(msg)
	case http.StatusForbidden:
		return apperr.Forbidden(msg)
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusConflict:
		return apperr.Conflict(msg)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		if len(env.Errors) > 0 {
			return apperr.Validation(env.Errors)
		}
		return apperr.Validationf("request", "%s", msg)
	default:
		return apperr.Internal(msg, nil)
	}
}
