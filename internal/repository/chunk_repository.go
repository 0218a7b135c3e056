package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"rag-honglou/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// embeddingDim matches the GigaChat Embeddings model output.
const embeddingDim = 1024

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS chunks (
	id         UUID PRIMARY KEY,
	source     TEXT NOT NULL,
	position   INT NOT NULL,
	doc_format TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  vector(1024) NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Record pairs a chunk with its embedding for storage.
type Record struct {
	Chunk     models.Chunk
	Embedding []float32
}

// ScoredChunk is a search hit with its cosine distance to the query.
type ScoredChunk struct {
	Chunk    models.Chunk
	Distance float64
}

type ChunkRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewChunkRepository(db *pgxpool.Pool, logger *zap.Logger) *ChunkRepository {
	return &ChunkRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the chunks table and the pgvector extension if missing.
func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertBatch writes records by chunk id. Re-adding an existing id
// replaces the record, it never duplicates.
func (r *ChunkRepository) UpsertBatch(ctx context.Context, records []Record) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, rec := range records {
		sql, args, err := upsertQuery(rec)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %s: %w", rec.Chunk.ID, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return written, nil
}

// ReplaceAll atomically swaps the whole collection: readers observe
// either the previous contents or the new ones, never a partial state.
func (r *ChunkRepository) ReplaceAll(ctx context.Context, records []Record) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM chunks"); err != nil {
		return 0, fmt.Errorf("failed to clear chunks: %w", err)
	}

	written := 0
	for _, rec := range records {
		sql, args, err := upsertQuery(rec)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return 0, fmt.Errorf("failed to insert chunk %s: %w", rec.Chunk.ID, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit rebuild: %w", err)
	}

	r.logger.Info("Collection replaced", zap.Int("records", written))
	return written, nil
}

// DeleteAll removes every record. Succeeds on an empty store.
func (r *ChunkRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	return nil
}

// Count returns the committed number of records.
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	sql, args, err := squirrel.Select("COUNT(*)").From("chunks").
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// SearchSimilar returns up to topK chunks ordered by ascending cosine
// distance to the query embedding, ties broken by chunk id.
func (r *ChunkRepository) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error) {
	sql, args, err := searchQuery(embedding, topK)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var (
			id        uuid.UUID
			source    string
			position  int
			docFormat string
			content   string
			metadata  string
			distance  float64
		)
		if err := rows.Scan(&id, &source, &position, &docFormat, &content, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}

		extra := map[string]string{}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &extra); err != nil {
				r.logger.Warn("Failed to decode chunk metadata",
					zap.String("chunk_id", id.String()),
					zap.Error(err),
				)
				extra = map[string]string{}
			}
		}
		if len(extra) == 0 {
			extra = nil
		}

		results = append(results, ScoredChunk{
			Chunk: models.Chunk{
				ID:   id,
				Text: content,
				Metadata: models.ChunkMetadata{
					Source:    source,
					Position:  position,
					DocFormat: models.DocFormat(docFormat),
					Extra:     extra,
				},
			},
			Distance: distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk rows: %w", err)
	}

	return results, nil
}

// searchQuery orders by distance with an id tie-break so equidistant
// chunks come back in a stable order.
func searchQuery(embedding []float32, topK int) (string, []interface{}, error) {
	return squirrel.Select("id", "source", "position", "doc_format", "content", "metadata").
		Column(squirrel.Alias(squirrel.Expr("embedding <=> ?::vector", vectorLiteral(embedding)), "distance")).
		From("chunks").
		OrderBy("distance ASC", "id ASC").
		Limit(uint64(topK)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

func upsertQuery(rec Record) (string, []interface{}, error) {
	if len(rec.Embedding) != embeddingDim {
		return "", nil, fmt.Errorf("embedding dimension %d, want %d", len(rec.Embedding), embeddingDim)
	}

	extra := "{}"
	if len(rec.Chunk.Metadata.Extra) > 0 {
		data, err := json.Marshal(rec.Chunk.Metadata.Extra)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		extra = string(data)
	}

	return squirrel.Insert("chunks").
		Columns("id", "source", "position", "doc_format", "content", "embedding", "metadata").
		Values(
			rec.Chunk.ID,
			rec.Chunk.Metadata.Source,
			rec.Chunk.Metadata.Position,
			string(rec.Chunk.Metadata.DocFormat),
			rec.Chunk.Text,
			squirrel.Expr("?::vector", vectorLiteral(rec.Embedding)),
			extra,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			position = EXCLUDED.position,
			doc_format = EXCLUDED.doc_format,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

// vectorLiteral renders an embedding in pgvector input syntax: [x,y,z].
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
