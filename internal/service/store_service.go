package service

import (
	"context"
	"fmt"

	"rag-honglou/internal/models"
	"rag-honglou/internal/repository"
	"rag-honglou/pkg/config"

	"go.uber.org/zap"
)

// embedBatchSize bounds a single embeddings request.
const embedBatchSize = 16

// Embedder is the embedding provider boundary. LLMService implements it.
type Embedder interface {
	EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ChunkIndex is the persistence boundary of the knowledge store.
// ChunkRepository implements it against Postgres.
type ChunkIndex interface {
	UpsertBatch(ctx context.Context, records []repository.Record) (int, error)
	ReplaceAll(ctx context.Context, records []repository.Record) (int, error)
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]repository.ScoredChunk, error)
}

type StoreStats struct {
	DocumentCount int
}

// StoreService is the knowledge store: it embeds chunks through the
// provider and keeps exactly one record per chunk id in the index.
type StoreService struct {
	index    ChunkIndex
	embedder Embedder
	config   *config.RAGConfig
	logger   *zap.Logger
}

func NewStoreService(index ChunkIndex, embedder Embedder, cfg *config.RAGConfig, logger *zap.Logger) *StoreService {
	return &StoreService{
		index:    index,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
}

// Clear removes all records. Clearing an empty store succeeds.
func (s *StoreService) Clear(ctx context.Context) error {
	if err := s.index.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear knowledge store: %w", err)
	}
	s.logger.Info("Knowledge store cleared")
	return nil
}

// Add embeds the chunks and upserts them by chunk id. Returns the
// number of records written. A provider failure fails the whole call;
// partial batches are never silently dropped.
func (s *StoreService) Add(ctx context.Context, chunks []models.Chunk) (int, error) {
	records, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	written, err := s.index.UpsertBatch(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("failed to write records: %w", err)
	}

	s.logger.Info("Chunks added to knowledge store", zap.Int("records", written))
	return written, nil
}

// Rebuild atomically replaces the entire collection with the given
// chunks. Readers concurrent with a rebuild see the old collection or
// the new one, never a partially populated state.
func (s *StoreService) Rebuild(ctx context.Context, chunks []models.Chunk) (int, error) {
	records, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	written, err := s.index.ReplaceAll(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild collection: %w", err)
	}

	s.logger.Info("Knowledge store rebuilt", zap.Int("records", written))
	return written, nil
}

// Stats reports the committed record count.
func (s *StoreService) Stats(ctx context.Context) (*StoreStats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	return &StoreStats{DocumentCount: count}, nil
}

// Query embeds the question and returns at most topK passages ordered
// by descending similarity, ties broken by chunk id. An unavailable
// embedding provider surfaces as an error, never as empty results.
func (s *StoreService) Query(ctx context.Context, text string, topK int) ([]models.RetrievedPassage, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	vectors, err := s.embedder.EmbedTexts(ctx, s.config.EmbeddingModel, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.index.SearchSimilar(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge store: %w", err)
	}

	passages := make([]models.RetrievedPassage, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, models.RetrievedPassage{
			Chunk: hit.Chunk,
			// Cosine distance to similarity.
			Score: 1 - hit.Distance,
		})
	}
	return passages, nil
}

func (s *StoreService) embedChunks(ctx context.Context, chunks []models.Chunk) ([]repository.Record, error) {
	records := make([]repository.Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := s.embedder.EmbedTexts(ctx, s.config.EmbeddingModel, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}

		for i, chunk := range batch {
			records = append(records, repository.Record{
				Chunk:     chunk,
				Embedding: vectors[i],
			})
		}
	}
	return records, nil
}
