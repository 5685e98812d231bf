package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/types"
)

// Embedding is the write-side record for one chunk vector under one model.
type Embedding struct {
	ChunkID uuid.UUID
	Model   string
	Dims    int
	Vector  []float32
}

// Match is a scored search hit, higher is better.
type Match struct {
	ChunkID uuid.UUID
	Score   float64
}

type SearchParams struct {
	MaterialIDs []uuid.UUID
	Model       string
	Query       []float32
	TopK        int
}

// Store persists chunk embeddings and answers nearest-neighbor queries
// scoped to a material set and a model id. The scan is brute force over
// all candidate rows, which holds up at material-scoped cardinalities;
// a global corpus would need an indexed ANN store behind this interface.
type Store interface {
	UpsertEmbedding(ctx context.Context, tx *gorm.DB, emb Embedding) error
	Search(ctx context.Context, params SearchParams) ([]Match, error)
	DeleteByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) error
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("service", "VectorStore")}
}

// UpsertEmbedding is idempotent on (chunk_id, model): a second call replaces
// the vector and dims, leaving exactly one row.
func (s *store) UpsertEmbedding(ctx context.Context, tx *gorm.DB, emb Embedding) error {
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}
	if emb.ChunkID == uuid.Nil {
		return fmt.Errorf("chunk id required")
	}
	if strings.TrimSpace(emb.Model) == "" {
		return fmt.Errorf("model required")
	}
	raw, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	updates := map[string]any{
		"dims":       emb.Dims,
		"vector":     datatypes.JSON(raw),
		"updated_at": time.Now(),
	}
	res := transaction.WithContext(ctx).
		Model(&types.ChunkEmbedding{}).
		Where("chunk_id = ? AND model = ?", emb.ChunkID, emb.Model).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := &types.ChunkEmbedding{
		ID:      uuid.New(),
		ChunkID: emb.ChunkID,
		Model:   emb.Model,
		Dims:    emb.Dims,
		Vector:  datatypes.JSON(raw),
	}
	return transaction.WithContext(ctx).Create(row).Error
}

type candidateRow struct {
	ChunkID uuid.UUID      `gorm:"column:chunk_id"`
	Vector  datatypes.JSON `gorm:"column:vector"`
}

// Search restricts candidates to chunks of the given materials embedded
// under the given model, scores all of them by cosine similarity and
// returns the top K descending. Ties break by chunk id ascending so the
// ranking is reproducible.
func (s *store) Search(ctx context.Context, params SearchParams) ([]Match, error) {
	if len(params.MaterialIDs) == 0 || len(params.Query) == 0 || params.TopK <= 0 {
		return []Match{}, nil
	}

	var rows []candidateRow
	if err := s.db.WithContext(ctx).
		Table("chunk_embedding").
		Select("chunk_embedding.chunk_id, chunk_embedding.vector").
		Joins("JOIN material_chunk ON material_chunk.id = chunk_embedding.chunk_id").
		Where("material_chunk.material_id IN ?", params.MaterialIDs).
		Where("chunk_embedding.model = ?", params.Model).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		vec, ok := DecodeVector(row.Vector)
		if !ok {
			continue
		}
		matches = append(matches, Match{ChunkID: row.ChunkID, Score: Cosine(params.Query, vec)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID.String() < matches[j].ChunkID.String()
	})

	if len(matches) > params.TopK {
		matches = matches[:params.TopK]
	}
	return matches, nil
}

func (s *store) DeleteByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("chunk_id IN ?", chunkIDs).
		Delete(&types.ChunkEmbedding{}).Error
}

func DecodeVector(raw datatypes.JSON) ([]float32, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	if len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// Cosine is dot(a,b) / (||a|| * ||b||), defined as 0 when either vector has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
