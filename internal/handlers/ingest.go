package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightpath/brightpath-backend/internal/ingestion"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
)

type IngestHandler struct {
	log       *logger.Logger
	ingestion ingestion.Service
}

func NewIngestHandler(svc ingestion.Service, baseLog *logger.Logger) *IngestHandler {
	return &IngestHandler{
		log:       baseLog.With("handler", "IngestHandler"),
		ingestion: svc,
	}
}

// POST /api/materials/:id/ingest
//
// Fire and forget: the approval workflow calls this and moves on. Progress
// and failures land on the material's index status, not on this response.
func (h *IngestHandler) IngestMaterial(c *gin.Context) {
	materialID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_material_id", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := h.ingestion.IngestMaterial(ctx, materialID); err != nil {
			h.log.Error("background ingestion failed", "material_id", materialID.String(), "error", err.Error())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "queued",
		"material_id": materialID,
	})
}
