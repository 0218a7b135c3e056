package service

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"rag-honglou/pkg/config"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// OCRService converts scan-only PDFs to text: go-fitz renders each page
// to an image, Tesseract recognizes it.
type OCRService struct {
	config *config.OCRConfig
	ocrDir string
	logger *zap.Logger
}

func NewOCRService(cfg *config.OCRConfig, ocrDir string, logger *zap.Logger) *OCRService {
	return &OCRService{
		config: cfg,
		ocrDir: ocrDir,
		logger: logger,
	}
}

// RecognizeQueue runs Recognize over the needs-OCR queue. Each document
// gets a single attempt; a failure is logged with the offending path
// and the queue continues. Failed documents are not marked processed,
// so the next pipeline run retries them. Returns the paths written.
func (s *OCRService) RecognizeQueue(paths []string) []string {
	var written []string
	for _, path := range paths {
		outPath, err := s.Recognize(path)
		if err != nil {
			s.logger.Error("OCR failed",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		written = append(written, outPath)
	}
	return written
}

// Recognize OCRs one PDF and writes the recognized text as a normalized
// text file in the OCR output directory. A document whose output file
// already exists is skipped, so reruns only pay for previously failed
// documents.
func (s *OCRService) Recognize(pdfPath string) (string, error) {
	if err := os.MkdirAll(s.ocrDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create OCR directory: %w", err)
	}

	outPath := s.outputPath(pdfPath)
	if _, err := os.Stat(outPath); err == nil {
		s.logger.Info("OCR output already exists, skipping",
			zap.String("file", pdfPath),
		)
		return outPath, nil
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(s.config.Languages...); err != nil {
		return "", fmt.Errorf("failed to set OCR languages: %w", err)
	}

	var textBuilder strings.Builder
	pages := doc.NumPage()
	for i := 0; i < pages; i++ {
		pageText, err := s.recognizePage(doc, client, i)
		if err != nil {
			s.logger.Warn("Failed to recognize page",
				zap.Int("page", i+1),
				zap.String("file", pdfPath),
				zap.Error(err),
			)
			continue
		}
		if pageText != "" {
			textBuilder.WriteString(pageText)
			textBuilder.WriteString("\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	if text == "" {
		return "", fmt.Errorf("no text recognized in %s", pdfPath)
	}

	if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write OCR text: %w", err)
	}

	s.logger.Info("OCR completed",
		zap.String("file", pdfPath),
		zap.Int("pages", pages),
		zap.Int("text_length", len(text)),
	)
	return outPath, nil
}

func (s *OCRService) recognizePage(doc *fitz.Document, client *gosseract.Client, page int) (string, error) {
	img, err := doc.Image(page)
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode page image: %w", err)
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to load page image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (s *OCRService) outputPath(pdfPath string) string {
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(s.ocrDir, base+".md")
}
