package repository

import (
	"context"
	"fmt"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestFilter narrows request listings
type RequestFilter struct {
	RequestType string
	Status      string
	Search      string // matches code and title
	CreatedBy   *uuid.UUID
	ViewerID    *uuid.UUID // restrict to rows the viewer created or is copied on
	Order       string
	Page        int
	Limit       int
}

// StatusCount is one row of a per-status aggregate
type StatusCount struct {
	RequestType string `json:"request_type,omitempty"`
	Status      string `json:"status"`
	Count       int64  `json:"count"`
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	Save(ctx context.Context, req *model.Request) error
	// SaveVersioned persists the request only if the stored row still carries
	// expectedVersion; it bumps the version on success and reports whether a
	// row matched.
	SaveVersioned(ctx context.Context, req *model.Request, expectedVersion int) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	NextCode(ctx context.Context, prefix string) (string, error)
	AddCopiedTo(ctx context.Context, req *model.Request, users []model.User) error
	ReplaceLineItems(ctx context.Context, req *model.Request, items []model.LineItem) error
	AddFile(ctx context.Context, file *model.Attachment) error
	CountByStatus(ctx context.Context, requestType string) ([]StatusCount, error)
	CountAllByStatus(ctx context.Context) ([]StatusCount, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	err := GetDB(ctx, r.db).
		Preload("Creator").
		Preload("Reviewer").
		Preload("Approver").
		Preload("LineItems").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("comments.created_at ASC")
		}).
		Preload("Comments.User").
		Preload("CopiedTo").
		Preload("Files").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	db := GetDB(ctx, r.db)

	base := db.Model(&model.Request{})
	if filter.RequestType != "" {
		base = base.Where("request_type = ?", filter.RequestType)
	}
	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		base = base.Where("code ILIKE ? OR title ILIKE ?", pattern, pattern)
	}
	if filter.CreatedBy != nil {
		base = base.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.ViewerID != nil {
		base = base.Where(
			"created_by = ? OR id IN (SELECT request_id FROM request_copies WHERE user_id = ?)",
			*filter.ViewerID, *filter.ViewerID,
		)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := filter.Order
	if order == "" {
		order = "created_at DESC"
	}

	offset := (filter.Page - 1) * filter.Limit
	var requests []model.Request
	if err := base.
		Preload("Creator").
		Preload("Reviewer").
		Preload("Approver").
		Order(order).
		Offset(offset).
		Limit(filter.Limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) Save(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit("LineItems", "Comments", "CopiedTo", "Files").Save(req).Error
}

func (r *requestRepository) SaveVersioned(ctx context.Context, req *model.Request, expectedVersion int) (bool, error) {
	req.Version = expectedVersion + 1
	result := GetDB(ctx, r.db).
		Model(&model.Request{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Select("status", "dispatch_status", "reviewed_by", "reviewed_at", "approved_by", "approved_at", "version").
		Updates(req)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Request{}).Error
}

// NextCode generates the next human-readable sequence number for a prefix,
// e.g. "PCR-0042". An advisory lock keyed on the prefix prevents concurrent
// duplicates within a transaction. The sequence continues from the highest
// suffix ever issued to a live row, so deleting a request never causes a
// later create to collide with a surviving code.
func (r *requestRepository) NextCode(ctx context.Context, prefix string) (string, error) {
	db := GetDB(ctx, r.db)
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
		return "", err
	}

	var last int64
	if err := db.Model(&model.Request{}).
		Where("code LIKE ?", prefix+"-%").
		Select("COALESCE(MAX(SPLIT_PART(code, '-', 2)::int), 0)").
		Scan(&last).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%04d", prefix, last+1), nil
}

func (r *requestRepository) AddCopiedTo(ctx context.Context, req *model.Request, users []model.User) error {
	return GetDB(ctx, r.db).Model(req).Association("CopiedTo").Append(users)
}

func (r *requestRepository) ReplaceLineItems(ctx context.Context, req *model.Request, items []model.LineItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", req.ID).Delete(&model.LineItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].ID = uuid.Nil
		items[i].RequestID = req.ID
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(&items).Error
}

func (r *requestRepository) AddFile(ctx context.Context, file *model.Attachment) error {
	return GetDB(ctx, r.db).Create(file).Error
}

func (r *requestRepository) CountByStatus(ctx context.Context, requestType string) ([]StatusCount, error) {
	var counts []StatusCount
	err := GetDB(ctx, r.db).
		Model(&model.Request{}).
		Select("status, COUNT(*) as count").
		Where("request_type = ?", requestType).
		Group("status").
		Scan(&counts).Error
	return counts, err
}

func (r *requestRepository) CountAllByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := GetDB(ctx, r.db).
		Model(&model.Request{}).
		Select("request_type, status, COUNT(*) as count").
		Group("request_type, status").
		Scan(&counts).Error
	return counts, err
}
