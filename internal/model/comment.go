package model

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a timestamped, user-attributed remark on a request.
// Edits overwrite the text in place; only EditedAt records that one happened.
type Comment struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID  `gorm:"type:uuid;not null;index" json:"request_id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Text      string     `gorm:"type:text;not null" json:"text"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Attachment is file metadata attached to a request; the bytes live on disk
// under the configured upload directory. Append-only from the API's view.
type Attachment struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID   uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"file_name"`
	StoragePath string    `gorm:"type:text;not null" json:"-"`
	ContentType string    `gorm:"type:varchar(100)" json:"content_type"`
	Size        int64     `gorm:"not null;default:0" json:"size"`
	UploadedBy  uuid.UUID `gorm:"type:uuid;not null" json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}
