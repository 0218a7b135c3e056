package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"rag-honglou/internal/models"
	"rag-honglou/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRetriever struct {
	passages   []models.RetrievedPassage
	queryErr   error
	statsErr   error
	statsCalls int
	lastTopK   int
}

func (f *fakeRetriever) Query(_ context.Context, _ string, topK int) ([]models.RetrievedPassage, error) {
	f.lastTopK = topK
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if topK < len(f.passages) {
		return f.passages[:topK], nil
	}
	return f.passages, nil
}

func (f *fakeRetriever) Stats(context.Context) (*StoreStats, error) {
	f.statsCalls++
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &StoreStats{DocumentCount: len(f.passages)}, nil
}

type fakeGenerator struct {
	answer     string
	err        error
	lastPrompt string
	lastTemp   float32
	deltas     []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, temperature float32) (string, error) {
	f.lastPrompt = prompt
	f.lastTemp = temperature
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) GenerateStream(_ context.Context, prompt string, temperature float32, onDelta func(string) error) error {
	f.lastPrompt = prompt
	f.lastTemp = temperature
	if f.err != nil {
		return f.err
	}
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

func ragPassages(n int) []models.RetrievedPassage {
	passages := make([]models.RetrievedPassage, n)
	for i := range passages {
		passages[i] = models.RetrievedPassage{
			Chunk: models.Chunk{
				ID:   models.ChunkID("honglou.md", models.DocFormatWeb, i),
				Text: fmt.Sprintf("贾宝玉相关段落 %d", i),
				Metadata: models.ChunkMetadata{
					Source:    "honglou.md",
					Position:  i,
					DocFormat: models.DocFormatWeb,
				},
			},
			Score: 1 - 0.1*float64(i),
		}
	}
	return passages
}

func newTestRAG(store Retriever, llm Generator) *RAGService {
	return NewRAGService(store, llm, &config.RAGConfig{TopK: 5, Temperature: 0.7}, zap.NewNop())
}

func TestRAGAsk(t *testing.T) {
	t.Run("returns answer with at most top_k sources", func(t *testing.T) {
		store := &fakeRetriever{passages: ragPassages(8)}
		llm := &fakeGenerator{answer: "贾宝玉是贾府的公子。"}
		engine := newTestRAG(store, llm)

		answer, err := engine.Ask(context.Background(), "贾宝玉是谁？", 5, 0.7)
		require.NoError(t, err)
		assert.Equal(t, "贾宝玉是贾府的公子。", answer.Text)
		assert.Len(t, answer.Sources, 5)
		assert.Equal(t, 5, store.lastTopK)
		for _, src := range answer.Sources {
			assert.NotEmpty(t, src.Chunk.Metadata.Source)
		}
	})

	t.Run("passes temperature through to generation", func(t *testing.T) {
		llm := &fakeGenerator{answer: "ok"}
		engine := newTestRAG(&fakeRetriever{passages: ragPassages(1)}, llm)

		_, err := engine.Ask(context.Background(), "问题", 3, 0.2)
		require.NoError(t, err)
		assert.InDelta(t, 0.2, llm.lastTemp, 1e-6)
	})

	t.Run("prompt lists passages in ranked order", func(t *testing.T) {
		llm := &fakeGenerator{answer: "ok"}
		engine := newTestRAG(&fakeRetriever{passages: ragPassages(3)}, llm)

		_, err := engine.Ask(context.Background(), "贾宝玉是谁？", 3, 0.7)
		require.NoError(t, err)

		first := strings.Index(llm.lastPrompt, "贾宝玉相关段落 0")
		second := strings.Index(llm.lastPrompt, "贾宝玉相关段落 1")
		third := strings.Index(llm.lastPrompt, "贾宝玉相关段落 2")
		require.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, second)
		assert.Less(t, second, third)
		assert.Contains(t, llm.lastPrompt, "来源：honglou.md")
		assert.True(t, strings.HasSuffix(llm.lastPrompt, "问题：贾宝玉是谁？"))
	})

	t.Run("empty retrieval answers in degraded mode with empty sources", func(t *testing.T) {
		llm := &fakeGenerator{answer: "我没有参考资料。"}
		engine := newTestRAG(&fakeRetriever{}, llm)

		answer, err := engine.Ask(context.Background(), "贾宝玉是谁？", 5, 0.7)
		require.NoError(t, err)
		assert.Empty(t, answer.Sources)
		assert.Contains(t, llm.lastPrompt, "没有找到相关资料")
	})

	t.Run("validation", func(t *testing.T) {
		engine := newTestRAG(&fakeRetriever{}, &fakeGenerator{})
		ctx := context.Background()

		_, err := engine.Ask(ctx, "   ", 5, 0.7)
		assert.Error(t, err)

		_, err = engine.Ask(ctx, "问题", 0, 0.7)
		assert.Error(t, err)

		_, err = engine.Ask(ctx, "问题", 5, 1.5)
		assert.Error(t, err)

		_, err = engine.Ask(ctx, "问题", 5, -0.1)
		assert.Error(t, err)
	})

	t.Run("retrieval failure surfaces", func(t *testing.T) {
		store := &fakeRetriever{queryErr: fmt.Errorf("store down")}
		engine := newTestRAG(store, &fakeGenerator{answer: "ok"})

		_, err := engine.Ask(context.Background(), "问题", 5, 0.7)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store down")
	})

	t.Run("generation failure surfaces", func(t *testing.T) {
		llm := &fakeGenerator{err: fmt.Errorf("llm down")}
		engine := newTestRAG(&fakeRetriever{passages: ragPassages(2)}, llm)

		_, err := engine.Ask(context.Background(), "问题", 5, 0.7)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm down")
	})
}

func TestRAGAskStream(t *testing.T) {
	t.Run("yields deltas and returns passages up front", func(t *testing.T) {
		llm := &fakeGenerator{deltas: []string{"贾宝玉", "是贾府", "的公子。"}}
		engine := newTestRAG(&fakeRetriever{passages: ragPassages(2)}, llm)

		var got []string
		passages, err := engine.AskStream(context.Background(), "贾宝玉是谁？", 2, 0.7, func(delta string) error {
			got = append(got, delta)
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, passages, 2)
		assert.Equal(t, []string{"贾宝玉", "是贾府", "的公子。"}, got)
	})

	t.Run("consumer error aborts the stream", func(t *testing.T) {
		llm := &fakeGenerator{deltas: []string{"a", "b"}}
		engine := newTestRAG(&fakeRetriever{passages: ragPassages(1)}, llm)

		_, err := engine.AskStream(context.Background(), "问题", 1, 0.7, func(string) error {
			return fmt.Errorf("client gone")
		})
		require.Error(t, err)
	})
}

func TestRAGWarmup(t *testing.T) {
	t.Run("succeeds and flips readiness once", func(t *testing.T) {
		store := &fakeRetriever{passages: ragPassages(3)}
		engine := newTestRAG(store, &fakeGenerator{})

		assert.False(t, engine.Ready())
		require.NoError(t, engine.Warmup(context.Background()))
		assert.True(t, engine.Ready())

		require.NoError(t, engine.Warmup(context.Background()))
		assert.Equal(t, 1, store.statsCalls)
	})

	t.Run("unreachable store keeps the engine not ready", func(t *testing.T) {
		store := &fakeRetriever{statsErr: fmt.Errorf("connection refused")}
		engine := newTestRAG(store, &fakeGenerator{})

		err := engine.Warmup(context.Background())
		require.Error(t, err)
		assert.False(t, engine.Ready())
	})
}
