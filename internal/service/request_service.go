package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"
	"backoffice/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type LineItemDTO struct {
	Description string          `json:"description" binding:"required"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Quantity    int             `json:"quantity"`
	Frequency   int             `json:"frequency"`
}

type CreateRequestDTO struct {
	Title            string          `json:"title" binding:"required"`
	Description      string          `json:"description"`
	Department       string          `json:"department"`
	ExpenseChargedTo string          `json:"expense_charged_to"`
	AccountCode      string          `json:"account_code"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	StartDate        *time.Time      `json:"start_date"`
	EndDate          *time.Time      `json:"end_date"`
	LineItems        []LineItemDTO   `json:"line_items"`
	Submit           bool            `json:"submit"` // false = save as draft (where the variant allows drafts)
}

type UpdateRequestDTO struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Department       string          `json:"department"`
	ExpenseChargedTo string          `json:"expense_charged_to"`
	AccountCode      string          `json:"account_code"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	StartDate        *time.Time      `json:"start_date"`
	EndDate          *time.Time      `json:"end_date"`
	LineItems        *[]LineItemDTO  `json:"line_items"` // nil = leave untouched
}

type UpdateStatusDTO struct {
	Status          string `json:"status" binding:"required"`
	Comment         string `json:"comment"`
	ExpectedVersion *int   `json:"expectedVersion"`
}

type ShareRequestDTO struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

type ReassignDTO struct {
	ReviewerID string `json:"reviewerId" binding:"required"`
}

type ListRequestsFilter struct {
	Status string
	Search string
	Order  string
	Page   int
	Limit  int
}

type RequestStatsResponse struct {
	RequestType string           `json:"request_type"`
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
}

// --- Interface ---

type RequestService interface {
	Create(ctx context.Context, requestType string, actor workflow.Actor, dto CreateRequestDTO) (*model.Request, error)
	Get(ctx context.Context, requestType, id string, actor workflow.Actor) (*model.Request, error)
	List(ctx context.Context, requestType string, actor workflow.Actor, filter ListRequestsFilter) ([]model.Request, int64, error)
	Update(ctx context.Context, requestType, id string, actor workflow.Actor, dto UpdateRequestDTO) (*model.Request, error)
	UpdateStatus(ctx context.Context, requestType, id string, actor workflow.Actor, dto UpdateStatusDTO) (*model.Request, error)
	Dispatch(ctx context.Context, requestType, id string, actor workflow.Actor, target string) (*model.Request, error)
	Reassign(ctx context.Context, requestType, id string, actor workflow.Actor, dto ReassignDTO) (*model.Request, error)
	Share(ctx context.Context, requestType, id string, actor workflow.Actor, userIDs []string) (*model.Request, error)
	Delete(ctx context.Context, requestType, id string, actor workflow.Actor) error
	AttachFile(ctx context.Context, requestType, id string, actor workflow.Actor, file *model.Attachment) (*model.Request, error)
	Stats(ctx context.Context, requestType string) (*RequestStatsResponse, error)
	DashboardStats(ctx context.Context) ([]RequestStatsResponse, error)
}

// EventPublisher pushes lifecycle events to connected dashboard clients
type EventPublisher interface {
	BroadcastEvent(eventType string, payload interface{})
}

type requestService struct {
	requestRepo repository.RequestRepository
	commentRepo repository.CommentRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	events      EventPublisher
	log         zerolog.Logger
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	commentRepo repository.CommentRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
	log zerolog.Logger,
) RequestService {
	return &requestService{
		requestRepo: requestRepo,
		commentRepo: commentRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		events:      events,
		log:         log,
	}
}

// --- Implementation ---

func (s *requestService) Create(ctx context.Context, requestType string, actor workflow.Actor, dto CreateRequestDTO) (*model.Request, error) {
	variant, ok := workflow.VariantFor(requestType)
	if !ok {
		return nil, apperr.NotFound("unknown request type: " + requestType)
	}

	req := &model.Request{
		RequestType:      requestType,
		Status:           variant.InitialStatus(dto.Submit),
		Title:            dto.Title,
		Description:      dto.Description,
		Department:       dto.Department,
		ExpenseChargedTo: dto.ExpenseChargedTo,
		AccountCode:      dto.AccountCode,
		GrossAmount:      dto.GrossAmount,
		StartDate:        dto.StartDate,
		EndDate:          dto.EndDate,
		CreatedBy:        actor.ID,
		Version:          1,
		LineItems:        toLineItems(dto.LineItems),
	}
	workflow.RecomputeTotals(req)

	if err := workflow.Validate(variant, req); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		code, codeErr := s.requestRepo.NextCode(txCtx, variant.CodePrefix)
		if codeErr != nil {
			return fmt.Errorf("failed to generate request code: %w", codeErr)
		}
		req.Code = code

		if createErr := s.requestRepo.Create(txCtx, req); createErr != nil {
			return fmt.Errorf("failed to create request: %w", createErr)
		}

		action := model.ActionCreateRequest
		if req.Status == model.StatusPending {
			action = model.ActionSubmitRequest
		}
		return s.audit(txCtx, actor, action, req, map[string]interface{}{
			"status": req.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("code", req.Code).
		Str("type", req.RequestType).
		Str("status", req.Status).
		Msg("request created")
	s.publish("request.created", req)

	return s.requestRepo.FindByID(ctx, req.ID)
}

func (s *requestService) Get(ctx context.Context, requestType, id string, actor workflow.Actor) (*model.Request, error) {
	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}
	if !workflow.CanView(req, actor) {
		return nil, apperr.Forbidden("no access to this request")
	}
	return req, nil
}

func (s *requestService) List(ctx context.Context, requestType string, actor workflow.Actor, filter ListRequestsFilter) ([]model.Request, int64, error) {
	if _, ok := workflow.VariantFor(requestType); !ok {
		return nil, 0, apperr.NotFound("unknown request type: " + requestType)
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	repoFilter := repository.RequestFilter{
		RequestType: requestType,
		Status:      filter.Status,
		Search:      filter.Search,
		Order:       filter.Order,
		Page:        filter.Page,
		Limit:       filter.Limit,
	}
	// Staff only see their own requests and ones copied to them; the
	// approval chain and admins see everything in the variant.
	if !actor.CanReview() {
		viewer := actor.ID
		repoFilter.ViewerID = &viewer
	}

	return s.requestRepo.List(ctx, repoFilter)
}

func (s *requestService) Update(ctx context.Context, requestType, id string, actor workflow.Actor, dto UpdateRequestDTO) (*model.Request, error) {
	variant, _ := workflow.VariantFor(requestType)

	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanEdit(req, actor); err != nil {
		return nil, err
	}

	if dto.Title != "" {
		req.Title = dto.Title
	}
	if dto.Description != "" {
		req.Description = dto.Description
	}
	if dto.Department != "" {
		req.Department = dto.Department
	}
	if dto.ExpenseChargedTo != "" {
		req.ExpenseChargedTo = dto.ExpenseChargedTo
	}
	if dto.AccountCode != "" {
		req.AccountCode = dto.AccountCode
	}
	if !dto.GrossAmount.IsZero() {
		req.GrossAmount = dto.GrossAmount
	}
	if dto.StartDate != nil {
		req.StartDate = dto.StartDate
	}
	if dto.EndDate != nil {
		req.EndDate = dto.EndDate
	}
	if dto.LineItems != nil {
		req.LineItems = toLineItems(*dto.LineItems)
	}
	workflow.RecomputeTotals(req)

	if err := workflow.Validate(variant, req); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if dto.LineItems != nil {
			if itemErr := s.requestRepo.ReplaceLineItems(txCtx, req, req.LineItems); itemErr != nil {
				return fmt.Errorf("failed to update line items: %w", itemErr)
			}
		}
		req.Version++
		if saveErr := s.requestRepo.Save(txCtx, req); saveErr != nil {
			return fmt.Errorf("failed to update request: %w", saveErr)
		}
		return s.audit(txCtx, actor, model.ActionUpdateRequest, req, map[string]interface{}{
			"total_amount": req.TotalAmount.StringFixed(4),
		})
	})
	if err != nil {
		return nil, err
	}

	return s.requestRepo.FindByID(ctx, req.ID)
}

func (s *requestService) UpdateStatus(ctx context.Context, requestType, id string, actor workflow.Actor, dto UpdateStatusDTO) (*model.Request, error) {
	variant, _ := workflow.VariantFor(requestType)

	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}

	from := req.Status
	now := time.Now()
	if err := workflow.Transition(variant, req, actor, dto.Status, now); err != nil {
		return nil, err
	}

	expected := req.Version
	if dto.ExpectedVersion != nil {
		expected = *dto.ExpectedVersion
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		matched, saveErr := s.requestRepo.SaveVersioned(txCtx, req, expected)
		if saveErr != nil {
			return fmt.Errorf("failed to update request status: %w", saveErr)
		}
		if !matched {
			return apperr.Conflict("request was modified concurrently, reload and retry")
		}

		if dto.Comment != "" {
			comment := &model.Comment{
				RequestID: req.ID,
				UserID:    actor.ID,
				Text:      dto.Comment,
			}
			if commentErr := s.commentRepo.Create(txCtx, comment); commentErr != nil {
				return fmt.Errorf("failed to record status comment: %w", commentErr)
			}
		}

		return s.audit(txCtx, actor, transitionAction(dto.Status), req, map[string]interface{}{
			"from":    from,
			"to":      dto.Status,
			"comment": dto.Comment,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("code", req.Code).
		Str("from", from).
		Str("to", dto.Status).
		Str("actor", actor.ID.String()).
		Msg("request status changed")
	s.publish("request.status_changed", map[string]interface{}{
		"id":     req.ID,
		"code":   req.Code,
		"type":   req.RequestType,
		"from":   from,
		"status": dto.Status,
	})

	return s.requestRepo.FindByID(ctx, req.ID)
}

func (s *requestService) Dispatch(ctx context.Context, requestType, id string, actor workflow.Actor, target string) (*model.Request, error) {
	variant, _ := workflow.VariantFor(requestType)

	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}

	if err := workflow.TransitionDispatch(variant, req, actor, target); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		matched, saveErr := s.requestRepo.SaveVersioned(txCtx, req, req.Version)
		if saveErr != nil {
			return fmt.Errorf("failed to update dispatch status: %w", saveErr)
		}
		if !matched {
			return apperr.Conflict("request was modified concurrently, reload and retry")
		}

		action := model.ActionDispatchRFQ
		if target == model.DispatchCancelled {
			action = model.ActionCancelRFQ
		}
		return s.audit(txCtx, actor, action, req, map[string]interface{}{
			"dispatch_status": target,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.requestRepo.FindByID(ctx, req.ID)
}

// Reassign replaces the recorded reviewer on a reviewed request. Admin-only;
// the replacement must hold review capability and cannot be the creator, so
// the self-review invariant survives the override.
func (s *requestService) Reassign(ctx context.Context, requestType, id string, actor workflow.Actor, dto ReassignDTO) (*model.Request, error) {
	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanReassign(req, actor); err != nil {
		return nil, err
	}

	reviewerID, err := uuid.Parse(dto.ReviewerID)
	if err != nil {
		return nil, apperr.Validationf("reviewerId", "invalid user id: %s", dto.ReviewerID)
	}
	reviewer, err := s.userRepo.GetByID(ctx, reviewerID.String())
	if err != nil {
		return nil, apperr.NotFound("user not found: " + dto.ReviewerID)
	}
	if reviewer.ID == req.CreatedBy {
		return nil, apperr.Forbidden("the creator cannot be assigned as reviewer")
	}
	if !(workflow.Actor{ID: reviewer.ID, Role: reviewer.Role}).CanReview() {
		return nil, apperr.Validationf("reviewerId", "user %s cannot review requests", reviewer.Username)
	}

	previous := ""
	if req.ReviewedBy != nil {
		previous = req.ReviewedBy.String()
	}
	now := time.Now()
	req.ReviewedBy = &reviewer.ID
	req.ReviewedAt = &now

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		matched, saveErr := s.requestRepo.SaveVersioned(txCtx, req, req.Version)
		if saveErr != nil {
			return fmt.Errorf("failed to reassign request: %w", saveErr)
		}
		if !matched {
			return apperr.Conflict("request was modified concurrently, reload and retry")
		}
		return s.audit(txCtx, actor, model.ActionReassignRequest, req, map[string]interface{}{
			"from": previous,
			"to":   reviewer.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("code", req.Code).
		Str("reviewer", reviewer.ID.String()).
		Str("actor", actor.ID.String()).
		Msg("request reassigned")

	return s.requestRepo.FindByID(ctx, req.ID)
}

// Share grows the copied-to set by the given users. Idempotent: users
// already in the set, unknown duplicates within the payload, and the
// creator are silently skipped.
func (s *requestService) Share(ctx context.Context, requestType, id string, actor workflow.Actor, userIDs []string) (*model.Request, error) {
	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanShare(req, actor); err != nil {
		return nil, err
	}

	existing := make(map[uuid.UUID]bool, len(req.CopiedTo)+1)
	existing[req.CreatedBy] = true
	for _, u := range req.CopiedTo {
		existing[u.ID] = true
	}

	var added []model.User
	for _, raw := range userIDs {
		userID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return nil, apperr.Validationf("userIds", "invalid user id: %s", raw)
		}
		if existing[userID] {
			continue
		}
		user, userErr := s.userRepo.GetByID(ctx, userID.String())
		if userErr != nil {
			return nil, apperr.NotFound("user not found: " + raw)
		}
		existing[userID] = true
		added = append(added, *user)
	}

	if len(added) > 0 {
		err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			if shareErr := s.requestRepo.AddCopiedTo(txCtx, req, added); shareErr != nil {
				return fmt.Errorf("failed to share request: %w", shareErr)
			}
			names := make([]string, 0, len(added))
			for _, u := range added {
				names = append(names, u.Username)
			}
			return s.audit(txCtx, actor, model.ActionShareRequest, req, map[string]interface{}{
				"shared_with": names,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	return s.requestRepo.FindByID(ctx, req.ID)
}

func (s *requestService) Delete(ctx context.Context, requestType, id string, actor workflow.Actor) error {
	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return err
	}
	if err := workflow.CanDelete(req, actor); err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.requestRepo.Delete(txCtx, req.ID); delErr != nil {
			return fmt.Errorf("failed to delete request: %w", delErr)
		}
		return s.audit(txCtx, actor, model.ActionDeleteRequest, req, nil)
	})
}

func (s *requestService) AttachFile(ctx context.Context, requestType, id string, actor workflow.Actor, file *model.Attachment) (*model.Request, error) {
	req, err := s.load(ctx, requestType, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanAttach(req, actor); err != nil {
		return nil, err
	}

	file.RequestID = req.ID
	file.UploadedBy = actor.ID

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if fileErr := s.requestRepo.AddFile(txCtx, file); fileErr != nil {
			return fmt.Errorf("failed to record attachment: %w", fileErr)
		}
		return s.audit(txCtx, actor, model.ActionUploadFile, req, map[string]interface{}{
			"file_name": file.FileName,
			"size":      file.Size,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.requestRepo.FindByID(ctx, req.ID)
}

func (s *requestService) Stats(ctx context.Context, requestType string) (*RequestStatsResponse, error) {
	if _, ok := workflow.VariantFor(requestType); !ok {
		return nil, apperr.NotFound("unknown request type: " + requestType)
	}

	counts, err := s.requestRepo.CountByStatus(ctx, requestType)
	if err != nil {
		return nil, err
	}

	stats := &RequestStatsResponse{RequestType: requestType, ByStatus: map[string]int64{}}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}
	return stats, nil
}

func (s *requestService) DashboardStats(ctx context.Context) ([]RequestStatsResponse, error) {
	counts, err := s.requestRepo.CountAllByStatus(ctx)
	if err != nil {
		return nil, err
	}

	byType := map[string]*RequestStatsResponse{}
	for _, c := range counts {
		stats, ok := byType[c.RequestType]
		if !ok {
			stats = &RequestStatsResponse{RequestType: c.RequestType, ByStatus: map[string]int64{}}
			byType[c.RequestType] = stats
		}
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}

	out := make([]RequestStatsResponse, 0, len(byType))
	for _, v := range workflow.Variants() {
		if stats, ok := byType[v.Type]; ok {
			out = append(out, *stats)
		}
	}
	return out, nil
}

// --- Helpers ---

func (s *requestService) load(ctx context.Context, requestType, id string) (*model.Request, error) {
	if _, ok := workflow.VariantFor(requestType); !ok {
		return nil, apperr.NotFound("unknown request type: " + requestType)
	}
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.NotFound("invalid request id")
	}

	req, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request not found")
		}
		return nil, err
	}
	// Resources are per-variant: an id from another variant is a 404 here
	if req.RequestType != requestType {
		return nil, apperr.NotFound("request not found")
	}
	return req, nil
}

func (s *requestService) audit(ctx context.Context, actor workflow.Actor, action string, req *model.Request, extra map[string]interface{}) error {
	if extra == nil {
		extra = map[string]interface{}{}
	}
	extra["request_type"] = req.RequestType
	details, _ := json.Marshal(extra)

	actorID := actor.ID
	entry := &model.AuditLog{
		UserID:     &actorID,
		Action:     action,
		EntityID:   req.ID.String(),
		EntityName: req.Code,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *requestService) publish(eventType string, payload interface{}) {
	if s.events != nil {
		s.events.BroadcastEvent(eventType, payload)
	}
}

func toLineItems(dtos []LineItemDTO) []model.LineItem {
	items := make([]model.LineItem, 0, len(dtos))
	for _, dto := range dtos {
		items = append(items, model.LineItem{
			Description: dto.Description,
			UnitCost:    dto.UnitCost,
			Quantity:    dto.Quantity,
			Frequency:   dto.Frequency,
		})
	}
	return items
}

func transitionAction(target string) string {
	switch target {
	case model.StatusReviewed:
		return model.ActionReviewRequest
	case model.StatusApproved:
		return model.ActionApproveRequest
	case model.StatusRejected:
		return model.ActionRejectRequest
	default:
		return model.ActionSubmitRequest
	}
}
