package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brightpath/brightpath-backend/internal/db"
	"github.com/brightpath/brightpath-backend/internal/handlers"
	"github.com/brightpath/brightpath-backend/internal/ingestion"
	"github.com/brightpath/brightpath-backend/internal/platform/envutil"
	"github.com/brightpath/brightpath-backend/internal/platform/logger"
	"github.com/brightpath/brightpath-backend/internal/platform/openai"
	"github.com/brightpath/brightpath-backend/internal/repos"
	"github.com/brightpath/brightpath-backend/internal/server"
	"github.com/brightpath/brightpath-backend/internal/services"
	"github.com/brightpath/brightpath-backend/internal/vector"
)

func main() {
	_ = godotenv.Load()

	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err.Error())
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err.Error())
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	materialRepo := repos.NewMaterialRepo(thePG, log)
	materialChunkRepo := repos.NewMaterialChunkRepo(thePG, log)
	queryLogRepo := repos.NewQueryLogRepo(thePG, log)
	retrievalRecordRepo := repos.NewRetrievalRecordRepo(thePG, log)
	conversationRepo := repos.NewConversationRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err.Error())
		os.Exit(1)
	}
	vectorStore := vector.NewStore(thePG, log)
	embedder := services.NewOpenAIEmbedder(openaiClient, log)
	accessService := services.NewAccessService(materialRepo, log)
	retrievalService := services.NewRetrievalService(embedder, vectorStore, materialChunkRepo, materialRepo, log)
	aiService := services.NewAIService(
		accessService,
		retrievalService,
		openaiClient,
		queryLogRepo,
		retrievalRecordRepo,
		conversationRepo,
		messageRepo,
		log,
	)
	ingestionService := ingestion.NewService(
		thePG,
		materialRepo,
		materialChunkRepo,
		retrievalRecordRepo,
		vectorStore,
		ingestion.NewHTTPFetcher(),
		ingestion.NewPDFParser(),
		ingestion.NewChunker(
			envutil.Int("CHUNK_SIZE", ingestion.DefaultChunkSize),
			envutil.Int("CHUNK_OVERLAP", ingestion.DefaultChunkOverlap),
		),
		embedder,
		log,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	aiHandler := handlers.NewAIHandler(aiService, log)
	ingestHandler := handlers.NewIngestHandler(ingestionService, log)
	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, log)

	router := server.NewRouter(server.RouterConfig{
		Log:                 log,
		AIHandler:           aiHandler,
		IngestHandler:       ingestHandler,
		ConversationHandler: conversationHandler,
	})

	port := envutil.Str("PORT", "8080")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "error", err.Error())
	}
}
