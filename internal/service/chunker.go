package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"go.uber.org/zap"
)

// Chunker splits normalized documents into overlapping windows of a
// fixed target size. Size and overlap are measured in runes so CJK text
// is counted per character, not per byte.
type Chunker struct {
	size    int
	overlap int
	logger  *zap.Logger
}

func NewChunker(cfg *config.RAGConfig, logger *zap.Logger) *Chunker {
	size := cfg.ChunkSize
	if size <= 0 {
		size = 400
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		logger:  logger,
	}
}

// ChunkText windows a document's text. Position is the sequential
// window index; the chunk id is derived from (source, position) so the
// same document always chunks to the same ids. Whitespace-only text
// yields zero chunks.
func (c *Chunker) ChunkText(source string, format models.DocFormat, text string) []models.Chunk {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []models.Chunk
	for start, position := 0, 0; start < len(runes); start, position = start+step, position+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		span := strings.TrimSpace(string(runes[start:end]))
		if span != "" {
			chunks = append(chunks, models.Chunk{
				ID:   models.ChunkID(source, format, position),
				Text: span,
				Metadata: models.ChunkMetadata{
					Source:    source,
					Position:  position,
					DocFormat: format,
				},
			})
		}

		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkFile reads one normalized text file and chunks it. The source
// identity is the file base name, kept stable across directories.
func (c *Chunker) ChunkFile(path string, format models.DocFormat) ([]models.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return c.ChunkText(filepath.Base(path), format, string(data)), nil
}

// ChunkDocuments chunks every file in paths. An unreadable or empty
// file is logged and contributes zero chunks, it never fails the batch.
func (c *Chunker) ChunkDocuments(paths []string, format models.DocFormat) []models.Chunk {
	var all []models.Chunk
	for _, path := range paths {
		chunks, err := c.ChunkFile(path, format)
		if err != nil {
			c.logger.Error("Failed to chunk document",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		all = append(all, chunks...)
	}

	c.logger.Info("Chunking completed",
		zap.Int("documents", len(paths)),
		zap.Int("chunks", len(all)),
		zap.String("format", string(format)),
	)
	return all
}
