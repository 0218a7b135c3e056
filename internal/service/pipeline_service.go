package service

import (
	"context"
	"fmt"
	"path/filepath"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"go.uber.org/zap"
)

// Stage boundaries of the ingestion pipeline. The concrete services
// implement them; tests substitute fakes.
type Acquirer interface {
	Scrape(ctx context.Context, urls []string) ([]string, error)
}

type PDFProcessor interface {
	ProcessPDFs(folders []string) (*ExtractReport, error)
}

type OCRRunner interface {
	RecognizeQueue(paths []string) []string
}

type DocumentChunker interface {
	ChunkDocuments(paths []string, format models.DocFormat) []models.Chunk
}

type Rebuilder interface {
	Rebuild(ctx context.Context, chunks []models.Chunk) (int, error)
	Stats(ctx context.Context) (*StoreStats, error)
}

// PipelineService sequences acquisition, extraction, OCR, chunking and
// the knowledge store rebuild. Every stage is fault-isolated: a failed
// stage is logged and the pipeline continues with whatever the stage
// produced. Only a failed rebuild fails the run.
type PipelineService struct {
	scraper   Acquirer
	extractor PDFProcessor
	ocr       OCRRunner
	chunker   DocumentChunker
	store     Rebuilder
	paths     *config.PathsConfig
	logger    *zap.Logger
}

func NewPipelineService(
	scraper Acquirer,
	extractor PDFProcessor,
	ocr OCRRunner,
	chunker DocumentChunker,
	store Rebuilder,
	paths *config.PathsConfig,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		scraper:   scraper,
		extractor: extractor,
		ocr:       ocr,
		chunker:   chunker,
		store:     store,
		paths:     paths,
		logger:    logger,
	}
}

// RunScrape acquires web pages into the raw data directory.
func (s *PipelineService) RunScrape(ctx context.Context, urls []string) ([]string, error) {
	s.logger.Info("Starting web scraping")
	files, err := s.scraper.Scrape(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("web scraping failed: %w", err)
	}
	return files, nil
}

// RunPDF extracts text-bearing PDFs and routes scan-only ones through
// OCR. The OCR queue is driven by the extractor verdicts and nothing
// else.
func (s *PipelineService) RunPDF(folders []string) (*ExtractReport, error) {
	s.logger.Info("Starting PDF processing")
	report, err := s.extractor.ProcessPDFs(folders)
	if err != nil {
		return nil, fmt.Errorf("PDF processing failed: %w", err)
	}

	if len(report.NeedsOCR) > 0 {
		s.logger.Info("Running OCR for scanned PDFs", zap.Int("count", len(report.NeedsOCR)))
		recognized := s.ocr.RecognizeQueue(report.NeedsOCR)
		s.logger.Info("OCR stage completed",
			zap.Int("queued", len(report.NeedsOCR)),
			zap.Int("recognized", len(recognized)),
		)
	}
	return report, nil
}

// RunBuild rebuilds the knowledge store from all normalized text files:
// scraped pages, extracted PDFs and OCR output. With no source files it
// leaves the current collection untouched.
func (s *PipelineService) RunBuild(ctx context.Context) error {
	s.logger.Info("Starting knowledge base build")

	var chunks []models.Chunk
	total := 0
	for _, src := range []struct {
		dir    string
		format models.DocFormat
	}{
		{s.paths.RawDir, models.DocFormatWeb},
		{s.paths.ProcessedDir, models.DocFormatPDFText},
		{s.paths.OCRDir, models.DocFormatPDFScan},
	} {
		files, err := filepath.Glob(filepath.Join(src.dir, "*.md"))
		if err != nil {
			s.logger.Error("Failed to list documents", zap.String("dir", src.dir), zap.Error(err))
			continue
		}
		total += len(files)
		chunks = append(chunks, s.chunker.ChunkDocuments(files, src.format)...)
	}

	if total == 0 {
		s.logger.Warn("No documents found, run acquisition first")
		return nil
	}

	count, err := s.store.Rebuild(ctx, chunks)
	if err != nil {
		return fmt.Errorf("knowledge base rebuild failed: %w", err)
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("Failed to read store stats after rebuild", zap.Error(err))
	} else {
		s.logger.Info("Knowledge base built",
			zap.Int("chunks", count),
			zap.Int("document_count", stats.DocumentCount),
		)
	}
	return nil
}

// RunFull executes the complete pipeline. Acquisition stages degrade the
// corpus on failure but never abort the run; only a failed rebuild
// returns an error.
func (s *PipelineService) RunFull(ctx context.Context, urls, folders []string) error {
	if _, err := s.RunScrape(ctx, urls); err != nil {
		s.logger.Error("Scraping stage failed", zap.Error(err))
	}

	if _, err := s.RunPDF(folders); err != nil {
		s.logger.Error("PDF stage failed", zap.Error(err))
	}

	if err := s.RunBuild(ctx); err != nil {
		return err
	}

	s.logger.Info("Full pipeline completed")
	return nil
}
