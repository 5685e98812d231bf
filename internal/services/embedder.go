package services

import (
	"context"
	"fmt"

	"github.com/brightpath/brightpath-backend/internal/platform/envutil"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/platform/openai"
)

// EmbeddingProvider turns text into fixed-dimension vectors. ModelName is
// the stable identifier persisted alongside vectors; changing it makes all
// prior vectors invisible to search, since search filters by model id.
type EmbeddingProvider interface {
	ModelName() string
	Dims() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type openaiEmbedder struct {
	client openai.Client
	model  string
	dims   int
	log    *logger.Logger
}

func NewOpenAIEmbedder(client openai.Client, baseLog *logger.Logger) EmbeddingProvider {
	return &openaiEmbedder{
		client: client,
		model:  envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		dims:   envutil.Int("OPENAI_EMBED_DIMS", 1536),
		log:    baseLog.With("service", "EmbeddingProvider"),
	}
}

func (e *openaiEmbedder) ModelName() string { return e.model }

func (e *openaiEmbedder) Dims() int { return e.dims }

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := e.client.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}
