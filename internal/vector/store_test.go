package vector

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache DB so every pooled connection sees the same
	// in-memory database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Material{}, &types.MaterialChunk{}, &types.ChunkEmbedding{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func seedChunk(t *testing.T, db *gorm.DB, materialID uuid.UUID) uuid.UUID {
	t.Helper()
	chunk := &types.MaterialChunk{
		ID:         uuid.New(),
		MaterialID: materialID,
		ChunkIndex: 0,
		Text:       "chunk text",
		PageStart:  1,
		PageEnd:    1,
	}
	if err := db.Create(chunk).Error; err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	return chunk.ID
}

func TestCosine_Bounds(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-3, 1, 0.5}

	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("cosine(a,a) = %v, want 1", got)
	}
	if got := Cosine(a, b); got < -1 || got > 1 {
		t.Fatalf("cosine out of bounds: %v", got)
	}
	if got := Cosine(a, []float32{0, 0, 0}); got != 0 {
		t.Fatalf("cosine with zero vector = %v, want 0", got)
	}
	if got := Cosine(a, []float32{1, 2}); got != 0 {
		t.Fatalf("cosine with mismatched lengths = %v, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Fatalf("cosine of empty vectors = %v, want 0", got)
	}
}

func TestUpsertEmbedding_Idempotent(t *testing.T) {
	db := testDB(t)
	store := NewStore(db, testLogger(t))
	ctx := context.Background()
	chunkID := seedChunk(t, db, uuid.New())

	first := Embedding{ChunkID: chunkID, Model: "m1", Dims: 2, Vector: []float32{1, 0}}
	if err := store.UpsertEmbedding(ctx, nil, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := Embedding{ChunkID: chunkID, Model: "m1", Dims: 2, Vector: []float32{0, 1}}
	if err := store.UpsertEmbedding(ctx, nil, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var rows []types.ChunkEmbedding
	if err := db.Where("chunk_id = ? AND model = ?", chunkID, "m1").Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(rows))
	}
	vec, ok := DecodeVector(rows[0].Vector)
	if !ok {
		t.Fatalf("decode vector failed")
	}
	if vec[0] != 0 || vec[1] != 1 {
		t.Fatalf("expected latest vector [0 1], got %v", vec)
	}
}

func TestSearch_ScopesByMaterialAndModel(t *testing.T) {
	db := testDB(t)
	store := NewStore(db, testLogger(t))
	ctx := context.Background()

	wantedMaterial := uuid.New()
	otherMaterial := uuid.New()
	inScope := seedChunk(t, db, wantedMaterial)
	wrongMaterial := seedChunk(t, db, otherMaterial)
	wrongModel := seedChunk(t, db, wantedMaterial)

	for _, e := range []Embedding{
		{ChunkID: inScope, Model: "m1", Dims: 2, Vector: []float32{1, 0}},
		{ChunkID: wrongMaterial, Model: "m1", Dims: 2, Vector: []float32{1, 0}},
		{ChunkID: wrongModel, Model: "m2", Dims: 2, Vector: []float32{1, 0}},
	} {
		if err := store.UpsertEmbedding(ctx, nil, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	matches, err := store.Search(ctx, SearchParams{
		MaterialIDs: []uuid.UUID{wantedMaterial},
		Model:       "m1",
		Query:       []float32{1, 0},
		TopK:        10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ChunkID != inScope {
		t.Fatalf("expected chunk %s, got %s", inScope, matches[0].ChunkID)
	}
}

func TestSearch_RanksByScoreAndHonorsTopK(t *testing.T) {
	db := testDB(t)
	store := NewStore(db, testLogger(t))
	ctx := context.Background()
	materialID := uuid.New()

	near := seedChunk(t, db, materialID)
	mid := seedChunk(t, db, materialID)
	far := seedChunk(t, db, materialID)
	for _, e := range []Embedding{
		{ChunkID: near, Model: "m1", Dims: 2, Vector: []float32{1, 0}},
		{ChunkID: mid, Model: "m1", Dims: 2, Vector: []float32{1, 1}},
		{ChunkID: far, Model: "m1", Dims: 2, Vector: []float32{-1, 0}},
	} {
		if err := store.UpsertEmbedding(ctx, nil, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	matches, err := store.Search(ctx, SearchParams{
		MaterialIDs: []uuid.UUID{materialID},
		Model:       "m1",
		Query:       []float32{1, 0},
		TopK:        2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ChunkID != near || matches[1].ChunkID != mid {
		t.Fatalf("unexpected ranking: %v then %v", matches[0].ChunkID, matches[1].ChunkID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("scores not descending: %v then %v", matches[0].Score, matches[1].Score)
	}
}

func TestSearch_EmptyInputs(t *testing.T) {
	db := testDB(t)
	store := NewStore(db, testLogger(t))
	ctx := context.Background()

	matches, err := store.Search(ctx, SearchParams{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestDeleteByChunkIDs(t *testing.T) {
	db := testDB(t)
	store := NewStore(db, testLogger(t))
	ctx := context.Background()
	materialID := uuid.New()
	chunkID := seedChunk(t, db, materialID)

	if err := store.UpsertEmbedding(ctx, nil, Embedding{ChunkID: chunkID, Model: "m1", Dims: 1, Vector: []float32{1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.DeleteByChunkIDs(ctx, nil, []uuid.UUID{chunkID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var count int64
	if err := db.Model(&types.ChunkEmbedding{}).Where("chunk_id = ?", chunkID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows, got %d", count)
	}
}
