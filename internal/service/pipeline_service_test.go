package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAcquirer struct {
	files []string
	err   error
	calls int
}

func (f *fakeAcquirer) Scrape(context.Context, []string) ([]string, error) {
	f.calls++
	return f.files, f.err
}

type fakeExtractor struct {
	report *ExtractReport
	err    error
}

func (f *fakeExtractor) ProcessPDFs([]string) (*ExtractReport, error) {
	return f.report, f.err
}

type fakeOCR struct {
	queues [][]string
}

func (f *fakeOCR) RecognizeQueue(paths []string) []string {
	f.queues = append(f.queues, paths)
	return paths
}

type fakeChunker struct {
	perFile int
}

func (f *fakeChunker) ChunkDocuments(paths []string, format models.DocFormat) []models.Chunk {
	var chunks []models.Chunk
	for _, path := range paths {
		for i := 0; i < f.perFile; i++ {
			chunks = append(chunks, models.Chunk{
				ID:   models.ChunkID(filepath.Base(path), format, i),
				Text: "text",
				Metadata: models.ChunkMetadata{
					Source:    filepath.Base(path),
					Position:  i,
					DocFormat: format,
				},
			})
		}
	}
	return chunks
}

type fakeRebuilder struct {
	rebuilt    [][]models.Chunk
	rebuildErr error
}

func (f *fakeRebuilder) Rebuild(_ context.Context, chunks []models.Chunk) (int, error) {
	if f.rebuildErr != nil {
		return 0, f.rebuildErr
	}
	f.rebuilt = append(f.rebuilt, chunks)
	return len(chunks), nil
}

func (f *fakeRebuilder) Stats(context.Context) (*StoreStats, error) {
	if len(f.rebuilt) == 0 {
		return &StoreStats{}, nil
	}
	return &StoreStats{DocumentCount: len(f.rebuilt[len(f.rebuilt)-1])}, nil
}

func pipelinePaths(t *testing.T) *config.PathsConfig {
	t.Helper()
	root := t.TempDir()
	paths := &config.PathsConfig{
		RawDir:       filepath.Join(root, "raw"),
		ProcessedDir: filepath.Join(root, "processed"),
		OCRDir:       filepath.Join(root, "ocr"),
		PDFDir:       filepath.Join(root, "pdfs"),
	}
	for _, dir := range []string{paths.RawDir, paths.ProcessedDir, paths.OCRDir, paths.PDFDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return paths
}

func writeDocs(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Repeat("红", 100)), 0o644))
	}
}

func newTestPipeline(acq Acquirer, ext PDFProcessor, ocr OCRRunner, ch DocumentChunker, store Rebuilder, paths *config.PathsConfig) *PipelineService {
	return NewPipelineService(acq, ext, ocr, ch, store, paths, zap.NewNop())
}

func TestPipelineRunPDFRoutesScanOnlyToOCR(t *testing.T) {
	ocr := &fakeOCR{}
	extractor := &fakeExtractor{report: &ExtractReport{
		Success:  2,
		NeedsOCR: []string{"scan1.pdf", "scan2.pdf"},
	}}
	pipe := newTestPipeline(&fakeAcquirer{}, extractor, ocr, &fakeChunker{}, &fakeRebuilder{}, pipelinePaths(t))

	report, err := pipe.RunPDF(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Success)

	// Each scan-only document enters the OCR queue exactly once.
	require.Len(t, ocr.queues, 1)
	assert.Equal(t, []string{"scan1.pdf", "scan2.pdf"}, ocr.queues[0])
}

func TestPipelineRunPDFSkipsOCRWhenNothingQueued(t *testing.T) {
	ocr := &fakeOCR{}
	extractor := &fakeExtractor{report: &ExtractReport{Success: 3}}
	pipe := newTestPipeline(&fakeAcquirer{}, extractor, ocr, &fakeChunker{}, &fakeRebuilder{}, pipelinePaths(t))

	_, err := pipe.RunPDF(nil)
	require.NoError(t, err)
	assert.Empty(t, ocr.queues)
}

func TestPipelineRunPDFCorruptDocumentsReported(t *testing.T) {
	// One corrupt PDF in a batch of ten is reported, the rest extract.
	extractor := &fakeExtractor{report: &ExtractReport{Success: 9, Failed: 1}}
	pipe := newTestPipeline(&fakeAcquirer{}, extractor, &fakeOCR{}, &fakeChunker{}, &fakeRebuilder{}, pipelinePaths(t))

	report, err := pipe.RunPDF(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Success)
	assert.Equal(t, 1, report.Failed)
}

func TestPipelineRunBuild(t *testing.T) {
	t.Run("chunks every normalized source and rebuilds", func(t *testing.T) {
		paths := pipelinePaths(t)
		writeDocs(t, paths.RawDir, "page1.md", "page2.md")
		writeDocs(t, paths.ProcessedDir, "book.md")
		writeDocs(t, paths.OCRDir, "scan.md")

		store := &fakeRebuilder{}
		pipe := newTestPipeline(&fakeAcquirer{}, &fakeExtractor{}, &fakeOCR{}, &fakeChunker{perFile: 3}, store, paths)

		require.NoError(t, pipe.RunBuild(context.Background()))
		require.Len(t, store.rebuilt, 1)
		assert.Len(t, store.rebuilt[0], 12)

		formats := map[models.DocFormat]int{}
		for _, chunk := range store.rebuilt[0] {
			formats[chunk.Metadata.DocFormat]++
		}
		assert.Equal(t, 6, formats[models.DocFormatWeb])
		assert.Equal(t, 3, formats[models.DocFormatPDFText])
		assert.Equal(t, 3, formats[models.DocFormatPDFScan])
	})

	t.Run("no documents leaves the collection untouched", func(t *testing.T) {
		store := &fakeRebuilder{}
		pipe := newTestPipeline(&fakeAcquirer{}, &fakeExtractor{}, &fakeOCR{}, &fakeChunker{perFile: 3}, store, pipelinePaths(t))

		require.NoError(t, pipe.RunBuild(context.Background()))
		assert.Empty(t, store.rebuilt)
	})

	t.Run("rebuild failure is fatal", func(t *testing.T) {
		paths := pipelinePaths(t)
		writeDocs(t, paths.RawDir, "page.md")

		store := &fakeRebuilder{rebuildErr: fmt.Errorf("database down")}
		pipe := newTestPipeline(&fakeAcquirer{}, &fakeExtractor{}, &fakeOCR{}, &fakeChunker{perFile: 1}, store, paths)

		err := pipe.RunBuild(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database down")
	})
}

func TestPipelineRunFull(t *testing.T) {
	t.Run("acquisition failures degrade but do not abort", func(t *testing.T) {
		paths := pipelinePaths(t)
		writeDocs(t, paths.ProcessedDir, "book.md")

		scraper := &fakeAcquirer{err: fmt.Errorf("network unreachable")}
		extractor := &fakeExtractor{err: fmt.Errorf("mupdf error")}
		store := &fakeRebuilder{}
		pipe := newTestPipeline(scraper, extractor, &fakeOCR{}, &fakeChunker{perFile: 2}, store, paths)

		require.NoError(t, pipe.RunFull(context.Background(), nil, nil))
		assert.Equal(t, 1, scraper.calls)
		require.Len(t, store.rebuilt, 1)
		assert.Len(t, store.rebuilt[0], 2)
	})

	t.Run("only a failed rebuild fails the run", func(t *testing.T) {
		paths := pipelinePaths(t)
		writeDocs(t, paths.RawDir, "page.md")

		store := &fakeRebuilder{rebuildErr: fmt.Errorf("database down")}
		pipe := newTestPipeline(&fakeAcquirer{}, &fakeExtractor{report: &ExtractReport{}}, &fakeOCR{}, &fakeChunker{perFile: 1}, store, paths)

		err := pipe.RunFull(context.Background(), nil, nil)
		require.Error(t, err)
	})
}
