package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CommentRepository interface {
	Create(ctx context.Context, comment *model.Comment) error
	FindByID(ctx context.Context, requestID, commentID uuid.UUID) (*model.Comment, error)
	Update(ctx context.Context, comment *model.Comment) error
	Delete(ctx context.Context, requestID, commentID uuid.UUID) error
}

type commentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *model.Comment) error {
	return GetDB(ctx, r.db).Create(comment).Error
}

func (r *commentRepository) FindByID(ctx context.Context, requestID, commentID uuid.UUID) (*model.Comment, error) {
	var comment model.Comment
	err := GetDB(ctx, r.db).
		Preload("User").
		First(&comment, "id = ? AND request_id = ?", commentID, requestID).Error
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) Update(ctx context.Context, comment *model.Comment) error {
	return GetDB(ctx, r.db).Save(comment).Error
}

func (r *commentRepository) Delete(ctx context.Context, requestID, commentID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("id = ? AND request_id = ?", commentID, requestID).
		Delete(&model.Comment{}).Error
}
