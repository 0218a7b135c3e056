package main

import (
	"context"
	"fmt"
	"os"

	"rag-honglou/internal/repository"
	"rag-honglou/internal/service"
	"rag-honglou/pkg/config"
	"rag-honglou/pkg/logger"
	"rag-honglou/pkg/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ingest drives the data pipeline: web scraping, PDF processing with
// OCR fallback, and the knowledge base rebuild. Subcommands select the
// entry point; `full` runs everything in order.
func main() {
	var (
		urls    []string
		folders []string
	)

	rootCmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Build the Honglou knowledge base from web pages and PDFs",
		SilenceUsage: true,
	}

	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch web pages into the raw data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(false, func(ctx context.Context, p *service.PipelineService) error {
				_, err := p.RunScrape(ctx, urls)
				return err
			})
		},
	}
	scrapeCmd.Flags().StringSliceVar(&urls, "urls", nil, "URLs to scrape instead of the default site list")

	pdfCmd := &cobra.Command{
		Use:   "pdf",
		Short: "Extract PDFs, routing scanned ones through OCR",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(false, func(ctx context.Context, p *service.PipelineService) error {
				_, err := p.RunPDF(folders)
				return err
			})
		},
	}
	pdfCmd.Flags().StringSliceVar(&folders, "folder", nil, "PDF folder to process (e.g. Book or Article)")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Chunk all normalized documents and rebuild the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(true, func(ctx context.Context, p *service.PipelineService) error {
				return p.RunBuild(ctx)
			})
		},
	}

	fullCmd := &cobra.Command{
		Use:   "full",
		Short: "Run the complete pipeline: scrape, pdf, build",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(true, func(ctx context.Context, p *service.PipelineService) error {
				return p.RunFull(ctx, urls, folders)
			})
		},
	}
	fullCmd.Flags().StringSliceVar(&urls, "urls", nil, "URLs to scrape instead of the default site list")
	fullCmd.Flags().StringSliceVar(&folders, "folder", nil, "PDF folder to process (e.g. Book or Article)")

	rootCmd.AddCommand(scrapeCmd, pdfCmd, buildCmd, fullCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withPipeline wires the pipeline services and runs fn. The database
// and embedding provider are only connected when the run rebuilds the
// store, so scrape-only and pdf-only runs work without them.
func withPipeline(needStore bool, fn func(ctx context.Context, p *service.PipelineService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logger.Level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	ctx := context.Background()

	var store service.Rebuilder
	if needStore {
		db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to database", zap.Error(err))
			return err
		}
		defer db.Close()

		chunkRepo := repository.NewChunkRepository(db, appLogger)
		if err := chunkRepo.EnsureSchema(ctx); err != nil {
			appLogger.Error("Failed to prepare database schema", zap.Error(err))
			return err
		}

		llmService, err := service.NewLLMService(&cfg.GigaChat, appLogger)
		if err != nil {
			appLogger.Error("Failed to initialize LLM service", zap.Error(err))
			return err
		}
		defer llmService.Close()

		store = service.NewStoreService(chunkRepo, llmService, &cfg.RAG, appLogger)
	}

	pipeline := service.NewPipelineService(
		service.NewScraperService(&cfg.Scraper, cfg.Paths.RawDir, appLogger),
		service.NewExtractService(&cfg.PDF, cfg.Paths.PDFDir, cfg.Paths.ProcessedDir, appLogger),
		service.NewOCRService(&cfg.OCR, cfg.Paths.OCRDir, appLogger),
		service.NewChunker(&cfg.RAG, appLogger),
		store,
		&cfg.Paths,
		appLogger,
	)

	return fn(ctx, pipeline)
}
