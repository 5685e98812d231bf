package types

import (
	"time"

	"github.com/google/uuid"
)

// MaterialChunk is a contiguous slice of a material's extracted text, the
// unit of embedding and retrieval. Chunking runs per page, so a chunk never
// spans pages: PageStart == PageEnd.
type MaterialChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MaterialID uuid.UUID `gorm:"type:uuid;not null;index" json:"material_id"`
	Material   *Material `gorm:"constraint:OnDelete:CASCADE;foreignKey:MaterialID;references:ID" json:"material,omitempty"`
	ChunkIndex int       `gorm:"column:chunk_index;not null" json:"chunk_index"`
	Text       string    `gorm:"column:text;not null" json:"text"`
	PageStart  int       `gorm:"column:page_start;not null" json:"page_start"`
	PageEnd    int       `gorm:"column:page_end;not null" json:"page_end"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (MaterialChunk) TableName() string { return "material_chunk" }
