package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChunkEmbedding stores one vector per (chunk, model) pair. Upsert semantics
// are enforced by the vector store, backed by the composite unique index.
type ChunkEmbedding struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChunkID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_chunk_model" json:"chunk_id"`
	Chunk     *MaterialChunk `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChunkID;references:ID" json:"chunk,omitempty"`
	Model     string         `gorm:"column:model;not null;uniqueIndex:uq_chunk_model" json:"model"`
	Dims      int            `gorm:"column:dims;not null" json:"dims"`
	Vector    datatypes.JSON `gorm:"type:jsonb;column:vector;not null" json:"vector"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (ChunkEmbedding) TableName() string { return "chunk_embedding" }
