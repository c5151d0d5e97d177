package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest = "CREATE_REQUEST"
	ActionUpdateRequest = "UPDATE_REQUEST"
	ActionDeleteRequest = "DELETE_REQUEST"
	ActionSubmitRequest = "SUBMIT_REQUEST"

	// Lifecycle transition actions
	ActionReviewRequest   = "REVIEW_REQUEST"
	ActionApproveRequest  = "APPROVE_REQUEST"
	ActionRejectRequest   = "REJECT_REQUEST"
	ActionReassignRequest = "REASSIGN_REQUEST"

	// RFQ dispatch actions
	ActionDispatchRFQ = "DISPATCH_RFQ"
	ActionCancelRFQ   = "CANCEL_RFQ"

	ActionAddComment    = "ADD_COMMENT"
	ActionEditComment   = "EDIT_COMMENT"
	ActionDeleteComment = "DELETE_COMMENT"
	ActionShareRequest  = "SHARE_REQUEST"
	ActionUploadFile    = "UPLOAD_FILE"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated bot
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name (request code)
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
