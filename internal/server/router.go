package server

import (
	"github.com/gin-gonic/gin"

	"github.com/brightpath/brightpath-backend/internal/handlers"
	"github.com/brightpath/brightpath-backend/internal/middleware"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AIHandler           *handlers.AIHandler
	IngestHandler       *handlers.IngestHandler
	ConversationHandler *handlers.ConversationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORS())

	r.GET("/healthcheck", handlers.HealthCheck)

	api := r.Group("/api")
	api.Use(middleware.RequireUser(cfg.Log))
	{
		if cfg.AIHandler != nil {
			api.POST("/ai/question", cfg.AIHandler.AnswerQuestion)
			api.POST("/ai/question/stream", cfg.AIHandler.StreamAnswerQuestion)
			api.POST("/ai/summary", cfg.AIHandler.Summarize)
			api.POST("/ai/exam", cfg.AIHandler.GenerateExam)
			api.POST("/ai/advise", cfg.AIHandler.Advise)
		}
		if cfg.IngestHandler != nil {
			api.POST("/materials/:id/ingest", cfg.IngestHandler.IngestMaterial)
		}
		if cfg.ConversationHandler != nil {
			api.GET("/conversations", cfg.ConversationHandler.ListConversations)
			api.GET("/conversations/:id/messages", cfg.ConversationHandler.ListMessages)
		}
	}

	return r
}
