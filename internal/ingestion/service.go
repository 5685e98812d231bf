package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/types"
	"github.com/brightpath/brightpath-backend/internal/vector"
)

const mimePDF = "application/pdf"

// IngestionError is a terminal precondition or pipeline failure for one
// ingestion attempt. It is recorded on the material and not retried.
type IngestionError struct {
	MaterialID uuid.UUID
	Reason     string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest material %s: %s", e.MaterialID, e.Reason)
}

// Embedder is the slice of the embedding provider ingestion needs.
type Embedder interface {
	ModelName() string
	Dims() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service drives fetch, parse, chunk, embed and store for one material,
// owning every transition of the material's index status.
type Service interface {
	IngestMaterial(ctx context.Context, materialID uuid.UUID) error
}

type service struct {
	db            *gorm.DB
	materialRepo  repos.MaterialRepo
	chunkRepo     repos.MaterialChunkRepo
	retrievalRepo repos.RetrievalRecordRepo
	store         vector.Store
	fetcher       Fetcher
	parser        Parser
	chunker       *Chunker
	embedder      Embedder
	log           *logger.Logger
}

func NewService(
	db *gorm.DB,
	materialRepo repos.MaterialRepo,
	chunkRepo repos.MaterialChunkRepo,
	retrievalRepo repos.RetrievalRecordRepo,
	store vector.Store,
	fetcher Fetcher,
	parser Parser,
	chunker *Chunker,
	embedder Embedder,
	baseLog *logger.Logger,
) Service {
	return &service{
		db:            db,
		materialRepo:  materialRepo,
		chunkRepo:     chunkRepo,
		retrievalRepo: retrievalRepo,
		store:         store,
		fetcher:       fetcher,
		parser:        parser,
		chunker:       chunker,
		embedder:      embedder,
		log:           baseLog.With("service", "IngestionService"),
	}
}

// IngestMaterial runs the full pipeline for one material. The INDEXING
// write happens before any fallible step so a crash mid-ingest is
// observably INDEXING rather than silently stale. Failures are persisted
// as FAILED plus the error text and then returned to the caller, which is
// expected to log rather than surface them to a user.
func (s *service) IngestMaterial(ctx context.Context, materialID uuid.UUID) error {
	if err := s.materialRepo.UpdateIndexStatus(ctx, nil, materialID, types.IndexStatusIndexing, "", nil); err != nil {
		return err
	}

	if err := s.run(ctx, materialID); err != nil {
		s.log.Error("ingestion failed", "material_id", materialID.String(), "error", err.Error())
		if uerr := s.materialRepo.UpdateIndexStatus(ctx, nil, materialID, types.IndexStatusFailed, err.Error(), nil); uerr != nil {
			s.log.Error("failed to record ingestion failure", "material_id", materialID.String(), "error", uerr.Error())
		}
		return err
	}

	now := time.Now()
	if err := s.materialRepo.UpdateIndexStatus(ctx, nil, materialID, types.IndexStatusIndexed, "", &now); err != nil {
		return err
	}
	s.log.Info("material indexed", "material_id", materialID.String())
	return nil
}

func (s *service) run(ctx context.Context, materialID uuid.UUID) error {
	material, err := s.materialRepo.GetByID(ctx, nil, materialID)
	if err != nil {
		return &IngestionError{MaterialID: materialID, Reason: "material not found"}
	}
	if !material.Approved() {
		return &IngestionError{MaterialID: materialID, Reason: "material is not approved"}
	}
	if material.StorageURL == "" {
		return &IngestionError{MaterialID: materialID, Reason: "material has no storage url"}
	}
	if material.MimeType != mimePDF {
		return &IngestionError{MaterialID: materialID, Reason: fmt.Sprintf("unsupported mime type %q", material.MimeType)}
	}

	data, err := s.fetcher.Fetch(ctx, material.StorageURL)
	if err != nil {
		return err
	}
	pages, err := s.parser.Parse(data)
	if err != nil {
		return err
	}

	// Chunk page by page so a chunk never spans a page boundary; the
	// chunk index keeps counting across pages.
	var chunks []*types.MaterialChunk
	for _, page := range pages {
		for _, piece := range s.chunker.Split(page.Text) {
			chunks = append(chunks, &types.MaterialChunk{
				ID:         uuid.New(),
				MaterialID: materialID,
				ChunkIndex: len(chunks),
				Text:       piece.Text,
				PageStart:  page.Number,
				PageEnd:    page.Number,
			})
		}
	}
	if len(chunks) == 0 {
		return &IngestionError{MaterialID: materialID, Reason: "no extractable text"}
	}

	// Embed one chunk at a time. This bounds memory and keeps us under
	// the embedding backend's rate limits.
	model := s.embedder.ModelName()
	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		out, err := s.embedder.Embed(ctx, []string{chunk.Text})
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", chunk.ChunkIndex, err)
		}
		if len(out) != 1 {
			return fmt.Errorf("embed chunk %d: expected 1 vector, got %d", chunk.ChunkIndex, len(out))
		}
		vectors[i] = out[0]
	}

	// Replace the old chunk set atomically so readers never see a mix of
	// old and new chunks.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.chunkRepo.GetByMaterialIDs(ctx, tx, []uuid.UUID{materialID})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			oldIDs := make([]uuid.UUID, 0, len(existing))
			for _, c := range existing {
				oldIDs = append(oldIDs, c.ID)
			}
			if err := s.retrievalRepo.DeleteByChunkIDs(ctx, tx, oldIDs); err != nil {
				return err
			}
			if err := s.store.DeleteByChunkIDs(ctx, tx, oldIDs); err != nil {
				return err
			}
			if err := s.chunkRepo.DeleteByMaterialID(ctx, tx, materialID); err != nil {
				return err
			}
		}
		if _, err := s.chunkRepo.Create(ctx, tx, chunks); err != nil {
			return err
		}
		for i, chunk := range chunks {
			emb := vector.Embedding{
				ChunkID: chunk.ID,
				Model:   model,
				Dims:    len(vectors[i]),
				Vector:  vectors[i],
			}
			if err := s.store.UpsertEmbedding(ctx, tx, emb); err != nil {
				return err
			}
		}
		return nil
	})
}
