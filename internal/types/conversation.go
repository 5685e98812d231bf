package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ConversationChat    = "chat"
	ConversationSummary = "summary"
	ConversationExam    = "exam"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups messages of one kind for one user. Created lazily on
// first interaction or reused via an explicit id.
type Conversation struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind        string         `gorm:"column:kind;not null" json:"kind"`
	Title       string         `gorm:"column:title" json:"title"`
	MaterialIDs datatypes.JSON `gorm:"type:jsonb;column:material_ids" json:"material_ids"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }

type Message struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID     `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Conversation   *Conversation `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationID;references:ID" json:"conversation,omitempty"`
	Role           string        `gorm:"column:role;not null" json:"role"`
	Content        string        `gorm:"column:content;not null" json:"content"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (Message) TableName() string { return "message" }

// MessageReference is an ordered citation on an assistant message: source
// number as it appeared in the prompt's sources block, mapped to a chunk.
type MessageReference struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID    uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	Message      *Message  `gorm:"constraint:OnDelete:CASCADE;foreignKey:MessageID;references:ID" json:"message,omitempty"`
	SourceNumber int       `gorm:"column:source_number;not null" json:"source_number"`
	ChunkID      uuid.UUID `gorm:"type:uuid;not null" json:"chunk_id"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (MessageReference) TableName() string { return "message_reference" }
