package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// ExtractReport tallies the outcome of a PDF processing batch.
// NeedsOCR holds the paths of scan-only PDFs for the OCR stage.
type ExtractReport struct {
	Success  int
	Skipped  int
	Failed   int
	NeedsOCR []string
}

// ExtractService opens PDFs, classifies them by text-layer density and
// writes extractable ones as normalized text files.
type ExtractService struct {
	config       *config.PDFConfig
	pdfDir       string
	processedDir string
	logger       *zap.Logger
}

func NewExtractService(cfg *config.PDFConfig, pdfDir, processedDir string, logger *zap.Logger) *ExtractService {
	return &ExtractService{
		config:       cfg,
		pdfDir:       pdfDir,
		processedDir: processedDir,
		logger:       logger,
	}
}

// ProcessPDFs walks the selected folders and processes every PDF found.
// folders == nil means the configured default folders; a PDF whose
// output already exists is skipped, so reruns are idempotent. Corrupt
// PDFs are counted as failures and appear in neither Success nor
// NeedsOCR.
func (s *ExtractService) ProcessPDFs(folders []string) (*ExtractReport, error) {
	if len(folders) == 0 {
		folders = s.config.Folders
	}

	if err := os.MkdirAll(s.processedDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create processed directory: %w", err)
	}

	report := &ExtractReport{}
	for _, folder := range folders {
		dir := filepath.Join(s.pdfDir, folder)
		paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
		if err != nil {
			s.logger.Error("Failed to list PDF folder", zap.String("dir", dir), zap.Error(err))
			continue
		}

		for _, path := range paths {
			s.processOne(path, report)
		}
	}

	s.logger.Info("PDF processing completed",
		zap.Int("success", report.Success),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("needs_ocr", len(report.NeedsOCR)),
	)
	return report, nil
}

func (s *ExtractService) processOne(path string, report *ExtractReport) {
	outPath := s.outputPath(path)
	if _, err := os.Stat(outPath); err == nil {
		report.Skipped++
		return
	}

	verdict, text, err := s.classifyAndExtract(path)
	if err != nil {
		report.Failed++
		s.logger.Error("Failed to read PDF", zap.String("file", path), zap.Error(err))
		return
	}

	if verdict.Verdict == models.VerdictScanOnly {
		report.NeedsOCR = append(report.NeedsOCR, path)
		s.logger.Info("PDF routed to OCR",
			zap.String("file", path),
			zap.Int("chars_per_page", verdict.CharsPerPage),
		)
		return
	}

	if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
		report.Failed++
		s.logger.Error("Failed to write extracted text", zap.String("file", outPath), zap.Error(err))
		return
	}

	report.Success++
	s.logger.Info("PDF text extracted",
		zap.String("file", path),
		zap.Int("pages", verdict.Pages),
		zap.Int("text_length", verdict.Chars),
	)
}

// classifyAndExtract pulls the text layer from every page and applies
// the density threshold.
func (s *ExtractService) classifyAndExtract(path string) (*models.ExtractionVerdict, string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	pages := doc.NumPage()
	for i := 0; i < pages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			s.logger.Warn("Failed to extract text from page",
				zap.Int("page", i+1),
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			textBuilder.WriteString(pageText)
			textBuilder.WriteString("\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	verdict := ClassifyDensity(path, pages, utf8.RuneCountInString(text), s.config.MinCharsPerPage)
	return verdict, text, nil
}

// ClassifyDensity decides extractable vs scan-only from the character
// count relative to page count. The cutoff is configuration, not a
// constant: scanned books produce a near-empty text layer while even
// sparse native PDFs clear a modest per-page minimum.
func ClassifyDensity(path string, pages, chars, minCharsPerPage int) *models.ExtractionVerdict {
	verdict := &models.ExtractionVerdict{
		Path:  path,
		Pages: pages,
		Chars: chars,
	}
	if pages > 0 {
		verdict.CharsPerPage = chars / pages
	}

	if pages > 0 && verdict.CharsPerPage >= minCharsPerPage {
		verdict.Verdict = models.VerdictExtractable
	} else {
		verdict.Verdict = models.VerdictScanOnly
	}
	return verdict
}

func (s *ExtractService) outputPath(pdfPath string) string {
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(s.processedDir, base+".md")
}
