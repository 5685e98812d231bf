package types

import (
	"time"

	"github.com/google/uuid"
)

// QueryLog records one asked question. Append-only except for the answer
// fill once generation completes.
type QueryLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	MaterialID *uuid.UUID `gorm:"type:uuid;index" json:"material_id,omitempty"`
	Question   string     `gorm:"column:question;not null" json:"question"`
	Answer     *string    `gorm:"column:answer" json:"answer,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (QueryLog) TableName() string { return "query_log" }

// RetrievalRecord links a query log row to one retrieved chunk with its
// similarity score and rank. Immutable once written.
type RetrievalRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	QueryLogID uuid.UUID      `gorm:"type:uuid;not null;index" json:"query_log_id"`
	QueryLog   *QueryLog      `gorm:"constraint:OnDelete:CASCADE;foreignKey:QueryLogID;references:ID" json:"query_log,omitempty"`
	ChunkID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"chunk_id"`
	Chunk      *MaterialChunk `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChunkID;references:ID" json:"chunk,omitempty"`
	Score      float64        `gorm:"column:score;not null" json:"score"`
	Rank       int            `gorm:"column:rank;not null" json:"rank"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (RetrievalRecord) TableName() string { return "retrieval_record" }
