package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/workflow"
	"backoffice/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AddCommentDTO struct {
	Text string `json:"text" binding:"required"`
}

type UpdateCommentDTO struct {
	Text string `json:"text" binding:"required"`
}

type CommentService interface {
	Add(ctx context.Context, requestType, requestID string, actor workflow.Actor, dto AddCommentDTO) (*model.Comment, error)
	Update(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor, dto UpdateCommentDTO) (*model.Comment, error)
	Delete(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor) error
}

type commentService struct {
	requestRepo repository.RequestRepository
	commentRepo repository.CommentRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	events      EventPublisher
}

func NewCommentService(
	requestRepo repository.RequestRepository,
	commentRepo repository.CommentRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
) CommentService {
	return &commentService{
		requestRepo: requestRepo,
		commentRepo: commentRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		events:      events,
	}
}

func (s *commentService) Add(ctx context.Context, requestType, requestID string, actor workflow.Actor, dto AddCommentDTO) (*model.Comment, error) {
	req, err := s.loadRequest(ctx, requestType, requestID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanComment(req, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dto.Text) == "" {
		return nil, apperr.Validationf("text", "comment text must not be empty")
	}

	comment := &model.Comment{
		RequestID: req.ID,
		UserID:    actor.ID,
		Text:      dto.Text,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.commentRepo.Create(txCtx, comment); createErr != nil {
			return fmt.Errorf("failed to add comment: %w", createErr)
		}
		return s.audit(txCtx, actor, model.ActionAddComment, req, comment)
	})
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.BroadcastEvent("request.commented", map[string]interface{}{
			"request_id":   req.ID,
			"request_type": req.RequestType,
			"code":         req.Code,
			"comment_id":   comment.ID,
			"user_id":      actor.ID,
		})
	}

	return s.commentRepo.FindByID(ctx, req.ID, comment.ID)
}

func (s *commentService) Update(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor, dto UpdateCommentDTO) (*model.Comment, error) {
	req, comment, err := s.loadComment(ctx, requestType, requestID, commentID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanModifyComment(comment, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dto.Text) == "" {
		return nil, apperr.Validationf("text", "comment text must not be empty")
	}

	// Edits overwrite in place; no history is kept
	now := time.Now()
	comment.Text = dto.Text
	comment.EditedAt = &now

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if updateErr := s.commentRepo.Update(txCtx, comment); updateErr != nil {
			return fmt.Errorf("failed to update comment: %w", updateErr)
		}
		return s.audit(txCtx, actor, model.ActionEditComment, req, comment)
	})
	if err != nil {
		return nil, err
	}

	return s.commentRepo.FindByID(ctx, req.ID, comment.ID)
}

func (s *commentService) Delete(ctx context.Context, requestType, requestID, commentID string, actor workflow.Actor) error {
	req, comment, err := s.loadComment(ctx, requestType, requestID, commentID)
	if err != nil {
		return err
	}
	if err := workflow.CanModifyComment(comment, actor); err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.commentRepo.Delete(txCtx, req.ID, comment.ID); delErr != nil {
			return fmt.Errorf("failed to delete comment: %w", delErr)
		}
		return s.audit(txCtx, actor, model.ActionDeleteComment, req, comment)
	})
}

// --- Helpers ---

func (s *commentService) loadRequest(ctx context.Context, requestType, requestID string) (*model.Request, error) {
	if _, ok := workflow.VariantFor(requestType); !ok {
		return nil, apperr.NotFound("unknown request type: " + requestType)
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperr.NotFound("invalid request id")
	}
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request not found")
		}
		return nil, err
	}
	if req.RequestType != requestType {
		return nil, apperr.NotFound("request not found")
	}
	return req, nil
}

func (s *commentService) loadComment(ctx context.Context, requestType, requestID, commentID string) (*model.Request, *model.Comment, error) {
	req, err := s.loadRequest(ctx, requestType, requestID)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuid.Parse(commentID)
	if err != nil {
		return nil, nil, apperr.NotFound("invalid comment id")
	}
	comment, err := s.commentRepo.FindByID(ctx, req.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("comment not found")
		}
		return nil, nil, err
	}
	return req, comment, nil
}

func (s *commentService) audit(ctx context.Context, actor workflow.Actor, action string, req *model.Request, comment *model.Comment) error {
	details, _ := json.Marshal(map[string]interface{}{
		"request_type": req.RequestType,
		"comment_id":   comment.ID.String(),
	})
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
