package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"go.uber.org/zap"
)

// Retriever is the knowledge-store boundary the query engine depends
// on. StoreService implements it.
type Retriever interface {
	Query(ctx context.Context, text string, topK int) ([]models.RetrievedPassage, error)
	Stats(ctx context.Context) (*StoreStats, error)
}

// Generator is the answer-generation boundary. LLMService implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
	GenerateStream(ctx context.Context, prompt string, temperature float32, onDelta func(delta string) error) error
}

// RAGService answers questions by retrieving passages from the
// knowledge store and conditioning generation on them. One instance is
// constructed at startup and shared by all requests; it is immutable
// after construction.
type RAGService struct {
	store  Retriever
	llm    Generator
	config *config.RAGConfig
	logger *zap.Logger

	warmupOnce sync.Once
	warmupErr  error
	ready      atomic.Bool
}

func NewRAGService(store Retriever, llm Generator, cfg *config.RAGConfig, logger *zap.Logger) *RAGService {
	return &RAGService{
		store:  store,
		llm:    llm,
		config: cfg,
		logger: logger,
	}
}

// Warmup performs the one-time blocking initialization: it verifies the
// knowledge store is reachable before serving begins. Safe to call from
// concurrent first access; only the first call does work.
func (s *RAGService) Warmup(ctx context.Context) error {
	s.warmupOnce.Do(func() {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			s.warmupErr = fmt.Errorf("knowledge store unavailable: %w", err)
			return
		}
		s.ready.Store(true)
		s.logger.Info("RAG engine ready", zap.Int("document_count", stats.DocumentCount))
	})
	return s.warmupErr
}

// Ready reports whether initialization has completed.
func (s *RAGService) Ready() bool {
	return s.ready.Load()
}

// Ask retrieves topK passages for the question and returns a generated
// answer together with the exact passages used as evidence. When
// retrieval yields nothing the engine still generates from the question
// alone and reports an empty source list — degraded, but explicit.
func (s *RAGService) Ask(ctx context.Context, question string, topK int, temperature float32) (*models.Answer, error) {
	passages, prompt, err := s.prepare(ctx, question, topK, temperature)
	if err != nil {
		return nil, err
	}

	answer, err := s.llm.Generate(ctx, prompt, temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &models.Answer{Text: answer, Sources: passages}, nil
}

// AskStream is the streaming delivery channel: identical retrieval and
// context assembly, with the answer text yielded incrementally through
// onDelta. The passages used are returned up front for citation.
func (s *RAGService) AskStream(ctx context.Context, question string, topK int, temperature float32, onDelta func(delta string) error) ([]models.RetrievedPassage, error) {
	passages, prompt, err := s.prepare(ctx, question, topK, temperature)
	if err != nil {
		return nil, err
	}

	if err := s.llm.GenerateStream(ctx, prompt, temperature, onDelta); err != nil {
		return nil, fmt.Errorf("failed to stream answer: %w", err)
	}
	return passages, nil
}

func (s *RAGService) prepare(ctx context.Context, question string, topK int, temperature float32) ([]models.RetrievedPassage, string, error) {
	if strings.TrimSpace(question) == "" {
		return nil, "", fmt.Errorf("question must not be empty")
	}
	if topK <= 0 {
		return nil, "", fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if temperature < 0 || temperature > 1 {
		return nil, "", fmt.Errorf("temperature must be in [0,1], got %v", temperature)
	}

	passages, err := s.store.Query(ctx, question, topK)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval failed: %w", err)
	}

	if len(passages) == 0 {
		s.logger.Warn("No passages retrieved, answering without context",
			zap.String("question", question),
		)
	}

	return passages, buildPrompt(question, passages), nil
}

// buildPrompt assembles the grounding context from the retrieved
// passages in ranked order.
func buildPrompt(question string, passages []models.RetrievedPassage) string {
	var b strings.Builder

	if len(passages) == 0 {
		b.WriteString("知识库中没有找到相关资料。请基于你对《红楼梦》的了解谨慎回答，并说明没有参考资料。\n\n")
	} else {
		b.WriteString("参考资料：\n\n")
		for i, passage := range passages {
			b.WriteString(fmt.Sprintf("[%d] 来源：%s（第%d段）\n", i+1, passage.Chunk.Metadata.Source, passage.Chunk.Metadata.Position+1))
			b.WriteString(passage.Chunk.Text)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("问题：")
	b.WriteString(question)
	return b.String()
}
