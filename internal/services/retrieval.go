package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/types"
	"github.com/brightpath/brightpath-backend/internal/vector"
)

// RetrievedChunk is one hydrated search hit. Rank is 1-based in score
// order and doubles as the source number in prompts and references.
type RetrievedChunk struct {
	Chunk    *types.MaterialChunk
	Material *types.Material
	Score    float64
	Rank     int
}

// RetrievalService embeds a query, searches the vector store and hydrates
// the hits back into chunk and material records.
type RetrievalService interface {
	Retrieve(ctx context.Context, materialIDs []uuid.UUID, query string, topK int) ([]RetrievedChunk, error)
}

type retrievalService struct {
	embedder     EmbeddingProvider
	store        vector.Store
	chunkRepo    repos.MaterialChunkRepo
	materialRepo repos.MaterialRepo
	log          *logger.Logger
}

func NewRetrievalService(
	embedder EmbeddingProvider,
	store vector.Store,
	chunkRepo repos.MaterialChunkRepo,
	materialRepo repos.MaterialRepo,
	baseLog *logger.Logger,
) RetrievalService {
	return &retrievalService{
		embedder:     embedder,
		store:        store,
		chunkRepo:    chunkRepo,
		materialRepo: materialRepo,
		log:          baseLog.With("service", "RetrievalService"),
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, materialIDs []uuid.UUID, query string, topK int) ([]RetrievedChunk, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	matches, err := s.store.Search(ctx, vector.SearchParams{
		MaterialIDs: materialIDs,
		Model:       s.embedder.ModelName(),
		Query:       vecs[0],
		TopK:        topK,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return []RetrievedChunk{}, nil
	}

	chunkIDs := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		chunkIDs = append(chunkIDs, m.ChunkID)
	}

	var (
		chunks    []*types.MaterialChunk
		materials []*types.Material
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = s.chunkRepo.GetByIDs(gctx, nil, chunkIDs)
		return err
	})
	g.Go(func() error {
		var err error
		materials, err = s.materialRepo.GetByIDs(gctx, nil, materialIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunkByID := make(map[uuid.UUID]*types.MaterialChunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}
	materialByID := make(map[uuid.UUID]*types.Material, len(materials))
	for _, m := range materials {
		materialByID[m.ID] = m
	}

	// The store's ranked order is authoritative; hydration returns rows in
	// arbitrary order, and a chunk deleted since the search simply drops.
	results := make([]RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		chunk, ok := chunkByID[match.ChunkID]
		if !ok {
			s.log.Warn("retrieved chunk no longer exists", "chunk_id", match.ChunkID.String())
			continue
		}
		material, ok := materialByID[chunk.MaterialID]
		if !ok {
			continue
		}
		results = append(results, RetrievedChunk{
			Chunk:    chunk,
			Material: material,
			Score:    match.Score,
			Rank:     len(results) + 1,
		})
	}
	return results, nil
}
