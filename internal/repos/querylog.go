package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/types"
)

type QueryLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, log *types.QueryLog) (*types.QueryLog, error)
	FillAnswer(ctx context.Context, tx *gorm.DB, id uuid.UUID, answer string) error
}

type queryLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueryLogRepo(db *gorm.DB, baseLog *logger.Logger) QueryLogRepo {
	return &queryLogRepo{db: db, log: baseLog.With("repo", "QueryLogRepo")}
}

func (r *queryLogRepo) Create(ctx context.Context, tx *gorm.DB, log *types.QueryLog) (*types.QueryLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(log).Error; err != nil {
		return nil, err
	}
	return log, nil
}

func (r *queryLogRepo) FillAnswer(ctx context.Context, tx *gorm.DB, id uuid.UUID, answer string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.QueryLog{}).
		Where("id = ?", id).
		Updates(map[string]any{"answer": answer, "updated_at": time.Now()}).Error
}

type RetrievalRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, records []*types.RetrievalRecord) ([]*types.RetrievalRecord, error)
	DeleteByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) error
}

type retrievalRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalRecordRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalRecordRepo {
	return &retrievalRecordRepo{db: db, log: baseLog.With("repo", "RetrievalRecordRepo")}
}

func (r *retrievalRecordRepo) Create(ctx context.Context, tx *gorm.DB, records []*types.RetrievalRecord) ([]*types.RetrievalRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return []*types.RetrievalRecord{}, nil
	}
	if err := transaction.WithContext(ctx).Create(records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *retrievalRecordRepo) DeleteByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("chunk_id IN ?", chunkIDs).
		Delete(&types.RetrievalRecord{}).Error
}
