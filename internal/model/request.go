package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enum constants shared by every request type
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusReviewed = "reviewed"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// DispatchStatus enum constants for the RFQ send lifecycle, orthogonal to Status
const (
	DispatchNone      = ""
	DispatchPreview   = "preview"
	DispatchSent      = "sent"
	DispatchCancelled = "cancelled"
)

// RequestType enum constants: the workflow-tracked document variants
const (
	TypePurchaseRequest   = "purchase_request"
	TypeAdvanceRequest    = "advance_request"
	TypeTravelRequest     = "travel_request"
	TypeExpenseClaim      = "expense_claim"
	TypeConceptNote       = "concept_note"
	TypeLeave             = "leave"
	TypePaymentVoucher    = "payment_voucher"
	TypeRFQ               = "rfq"
	TypePurchaseOrder     = "purchase_order"
	TypeGoodsReceivedNote = "goods_received_note"
)

// Request is the shared entity behind every workflow-tracked document.
// Variant-specific fields are nullable columns; which ones are required is
// decided by the workflow validation layer, not the schema.
type Request struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code        string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"` // e.g. "PCR-0001", assigned at creation
	RequestType string    `gorm:"type:varchar(30);not null;index" json:"request_type"`
	Status      string    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`

	// RFQ dispatch lifecycle; empty for every other variant
	DispatchStatus string `gorm:"type:varchar(20);not null;default:''" json:"dispatch_status,omitempty"`

	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	// Procurement fields
	Department       string          `gorm:"type:varchar(100)" json:"department,omitempty"`
	ExpenseChargedTo string          `gorm:"type:varchar(100)" json:"expense_charged_to,omitempty"`
	AccountCode      string          `gorm:"type:varchar(50)" json:"account_code,omitempty"`
	GrossAmount      decimal.Decimal `gorm:"type:decimal(18,4);default:0" json:"gross_amount"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,4);default:0" json:"total_amount"` // always Σ line totals, recomputed on edit

	// Leave / travel date range
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null;index" json:"created_by"`
	Creator   *User     `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`

	ReviewedBy *uuid.UUID `gorm:"type:uuid" json:"reviewed_by"`
	Reviewer   *User      `gorm:"foreignKey:ReviewedBy" json:"reviewer,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at"`

	ApprovedBy *uuid.UUID `gorm:"type:uuid" json:"approved_by"`
	Approver   *User      `gorm:"foreignKey:ApprovedBy" json:"approver,omitempty"`
	ApprovedAt *time.Time `json:"approved_at"`

	// Optimistic concurrency guard for status updates
	Version int `gorm:"not null;default:1" json:"version"`

	LineItems []LineItem   `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"line_items,omitempty"`
	Comments  []Comment    `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
	CopiedTo  []User       `gorm:"many2many:request_copies;" json:"copied_to,omitempty"`
	Files     []Attachment `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"files,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineItem is a costed row on a request. Total is derived from the other
// three columns and must never be set independently of them.
type LineItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"request_id"`
	Description string          `gorm:"type:varchar(255);not null" json:"description"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_cost"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	Frequency   int             `gorm:"not null;default:1" json:"frequency"`
	Total       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total"` // = unit_cost * quantity * frequency
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
