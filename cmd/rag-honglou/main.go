package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rag-honglou/internal/api"
	"rag-honglou/internal/api/handlers"
	"rag-honglou/internal/repository"
	"rag-honglou/internal/service"
	"rag-honglou/pkg/config"
	"rag-honglou/pkg/logger"
	"rag-honglou/pkg/postgres"

	"go.uber.org/zap"
)

// @title Honglou RAG API
// @version 1.0
// @description Question answering over a Dream of the Red Chamber knowledge base with cited sources

// @host localhost:5000
// @BasePath /api

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting Honglou RAG service")

	// Initialize database
	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	chunkRepo := repository.NewChunkRepository(db, appLogger)
	if err := chunkRepo.EnsureSchema(ctx); err != nil {
		appLogger.Fatal("Failed to prepare database schema", zap.Error(err))
	}

	// Initialize services
	llmService, err := service.NewLLMService(&cfg.GigaChat, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize LLM service", zap.Error(err))
	}
	defer llmService.Close()

	storeService := service.NewStoreService(chunkRepo, llmService, &cfg.RAG, appLogger)

	// The engine is built once and shared by all requests. Warmup is the
	// one-time blocking initialization performed before serving begins.
	ragService := service.NewRAGService(storeService, llmService, &cfg.RAG, appLogger)
	if err := ragService.Warmup(ctx); err != nil {
		appLogger.Fatal("Failed to warm up RAG engine", zap.Error(err))
	}

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(ragService, storeService, cfg.RAG.TopK, cfg.RAG.Temperature, appLogger)

	// Setup router
	app := api.SetupRouter(chatHandler, appLogger)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
