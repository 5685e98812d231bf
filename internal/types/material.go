package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApprovalUploaded  = "uploaded"
	ApprovalSubmitted = "submitted"
	ApprovalApproved  = "approved"
	ApprovalRejected  = "rejected"
)

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

const (
	IndexStatusPending  = "pending"
	IndexStatusIndexing = "indexing"
	IndexStatusIndexed  = "indexed"
	IndexStatusFailed   = "failed"
)

// Material is an uploaded document. Only approved materials may be indexed
// or retrieved; index status transitions belong to the ingestion service.
type Material struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Title          string     `gorm:"column:title;not null" json:"title"`
	MimeType       string     `gorm:"column:mime_type" json:"mime_type"`
	StorageURL     string     `gorm:"column:storage_url" json:"storage_url"`
	ApprovalStatus string     `gorm:"column:approval_status;not null;default:'uploaded'" json:"approval_status"`
	Visibility     string     `gorm:"column:visibility;not null;default:'private'" json:"visibility"`
	IndexStatus    string     `gorm:"column:index_status;not null;default:'pending'" json:"index_status"`
	IndexError     string     `gorm:"column:index_error" json:"index_error,omitempty"`
	IndexedAt      *time.Time `gorm:"column:indexed_at" json:"indexed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (Material) TableName() string { return "material" }

func (m *Material) Approved() bool { return m.ApprovalStatus == ApprovalApproved }

func (m *Material) AccessibleBy(userID uuid.UUID) bool {
	if !m.Approved() {
		return false
	}
	return m.OwnerUserID == userID || m.Visibility == VisibilityPublic
}
