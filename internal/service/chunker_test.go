package service

import (
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

func newTestChunker(size, overlap int) *Chunker {
	return NewChunker(&config.RAGConfig{ChunkSize: size, ChunkOverlap: overlap}, zap.NewNop())
}

func TestChunkText(t *testing.T) {
	t.Run("thousand chars at 400/50 yields three chunks", func(t *testing.T) {
		c := newTestChunker(400, 50)
		text := strings.Repeat("a", 1000)

		chunks := c.ChunkText("doc.md", models.DocFormatWeb, text)

		require.Len(t, chunks, 3)
		assert.Equal(t, 400, len([]rune(chunks[0].Text)))
		assert.Equal(t, 400, len([]rune(chunks[1].Text)))
		assert.Equal(t, 300, len([]rune(chunks[2].Text)))
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Metadata.Position)
			assert.Equal(t, "doc.md", chunk.Metadata.Source)
			assert.Equal(t, models.DocFormatWeb, chunk.Metadata.DocFormat)
			assert.NotEmpty(t, chunk.Text)
		}
	})

	t.Run("consecutive chunks share the overlap", func(t *testing.T) {
		c := newTestChunker(10, 4)
		// Distinct runes so the shared span is checkable.
		text := "abcdefghijklmnopqrst"

		chunks := c.ChunkText("doc.md", models.DocFormatWeb, text)

		require.True(t, len(chunks) >= 2)
		first := []rune(chunks[0].Text)
		second := []rune(chunks[1].Text)
		assert.Equal(t, string(first[len(first)-4:]), string(second[:4]))
	})

	t.Run("deterministic across reruns", func(t *testing.T) {
		c := newTestChunker(400, 50)
		text := strings.Repeat("红楼梦", 500)

		first := c.ChunkText("doc.md", models.DocFormatPDFText, text)
		second := c.ChunkText("doc.md", models.DocFormatPDFText, text)

		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.Equal(t, first[i].Text, second[i].Text)
		}
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		c := newTestChunker(400, 50)
		// 1000 CJK runes are 3000 bytes; still three chunks.
		text := strings.Repeat("红", 1000)

		chunks := c.ChunkText("doc.md", models.DocFormatPDFScan, text)

		assert.Len(t, chunks, 3)
	})

	t.Run("empty and whitespace yield zero chunks", func(t *testing.T) {
		c := newTestChunker(400, 50)

		assert.Empty(t, c.ChunkText("doc.md", models.DocFormatWeb, ""))
		assert.Empty(t, c.ChunkText("doc.md", models.DocFormatWeb, "   \n\t  "))
	})

	t.Run("short document yields a single chunk", func(t *testing.T) {
		c := newTestChunker(400, 50)

		chunks := c.ChunkText("doc.md", models.DocFormatWeb, "short text")

		require.Len(t, chunks, 1)
		assert.Equal(t, "short text", chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Metadata.Position)
	})
}

func TestChunkDocuments(t *testing.T) {
	t.Run("ten thousand-char documents yield thirty chunks", func(t *testing.T) {
		c := newTestChunker(400, 50)
		dir := t.TempDir()

		var paths []string
		for i := 0; i < 10; i++ {
			path := filepath.Join(dir, "doc"+string(rune('a'+i))+".md")
			require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 1000)), 0644))
			paths = append(paths, path)
		}

		chunks := c.ChunkDocuments(paths, models.DocFormatWeb)

		assert.Len(t, chunks, 30)
	})

	t.Run("unreadable file contributes zero chunks without failing", func(t *testing.T) {
		c := newTestChunker(400, 50)
		dir := t.TempDir()
		good := filepath.Join(dir, "good.md")
		require.NoError(t, os.WriteFile(good, []byte("some content"), 0644))

		chunks := c.ChunkDocuments([]string{filepath.Join(dir, "missing.md"), good}, models.DocFormatWeb)

		assert.Len(t, chunks, 1)
	})
}

func TestChunkIDDeterminism(t *testing.T) {
	assert.Equal(t, models.ChunkID("a.md", models.DocFormatWeb, 1), models.ChunkID("a.md", models.DocFormatWeb, 1))
	assert.NotEqual(t, models.ChunkID("a.md", models.DocFormatWeb, 1), models.ChunkID("a.md", models.DocFormatWeb, 2))
	assert.NotEqual(t, models.ChunkID("a.md", models.DocFormatWeb, 1), models.ChunkID("b.md", models.DocFormatWeb, 1))
	assert.NotEqual(t, models.ChunkID("a.md", models.DocFormatWeb, 1), models.ChunkID("a.md", models.DocFormatPDFScan, 1))
}

func TestChunkIDsDistinctAcrossAcquisitionChannels(t *testing.T) {
	// A scraped page and an OCR'd scan can share a base name; their
	// chunks must not overwrite each other in the index.
	c := newTestChunker(400, 50)
	rawDir := t.TempDir()
	ocrDir := t.TempDir()

	text := []byte(strings.Repeat("红", 500))
	rawPath := filepath.Join(rawDir, "intro.md")
	ocrPath := filepath.Join(ocrDir, "intro.md")
	require.NoError(t, os.WriteFile(rawPath, text, 0644))
	require.NoError(t, os.WriteFile(ocrPath, text, 0644))

	webChunks := c.ChunkDocuments([]string{rawPath}, models.DocFormatWeb)
	scanChunks := c.ChunkDocuments([]string{ocrPath}, models.DocFormatPDFScan)

	require.Equal(t, len(webChunks), len(scanChunks))
	for i := range webChunks {
		assert.NotEqual(t, webChunks[i].ID, scanChunks[i].ID)
	}
}
