package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"rag-honglou/internal/dto"
	"rag-honglou/internal/models"
	"rag-honglou/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QueryEngine is what the HTTP layer needs from the RAG engine.
type QueryEngine interface {
	Ask(ctx context.Context, question string, topK int, temperature float32) (*models.Answer, error)
	AskStream(ctx context.Context, question string, topK int, temperature float32, onDelta func(delta string) error) ([]models.RetrievedPassage, error)
	Ready() bool
}

// StatsProvider exposes knowledge-store statistics for status reporting.
type StatsProvider interface {
	Stats(ctx context.Context) (*service.StoreStats, error)
}

type ChatHandler struct {
	engine      QueryEngine
	store       StatsProvider
	defaultTopK int
	defaultTemp float32
	logger      *zap.Logger
}

func NewChatHandler(engine QueryEngine, store StatsProvider, defaultTopK int, defaultTemp float32, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		engine:      engine,
		store:       store,
		defaultTopK: defaultTopK,
		defaultTemp: defaultTemp,
		logger:      logger,
	}
}

// Chat godoc
// @Summary Ask a question against the knowledge base
// @Description Retrieves relevant passages and generates a cited answer
// @Tags chat
// @Accept json
// @Produce json
// @Param request body dto.ChatRequest true "Question with optional top_k, temperature and stream"
// @Success 200 {object} dto.ChatResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/chat [post]
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req dto.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "Question is required",
		})
	}

	topK := h.defaultTopK
	if req.TopK != nil {
		if *req.TopK <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "top_k must be positive",
			})
		}
		topK = *req.TopK
	}
	temperature := h.defaultTemp
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	h.logger.Info("Question received",
		zap.String("question", req.Question),
		zap.Int("top_k", topK),
		zap.Bool("stream", req.Stream),
	)

	if req.Stream {
		return h.chatStream(c, req.Question, topK, temperature)
	}

	answer, err := h.engine.Ask(c.Context(), req.Question, topK, temperature)
	if err != nil {
		h.logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "Failed to process question: " + err.Error(),
		})
	}

	return c.JSON(dto.ChatResponse{
		Answer:  answer.Text,
		Sources: toSourceDocuments(answer.Sources),
	})
}

// chatStream delivers the answer as server-sent events: one event with
// the sources, then incremental answer deltas, then [DONE].
func (h *ChatHandler) chatStream(c *fiber.Ctx, question string, topK int, temperature float32) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	pr, pw := io.Pipe()

	go func() {
		sources, err := h.engine.AskStream(context.Background(), question, topK, temperature, func(delta string) error {
			return writeEvent(pw, map[string]string{"delta": delta})
		})
		if err != nil {
			h.logger.Error("Streaming answer failed", zap.Error(err))
			_ = writeEvent(pw, map[string]string{"error": err.Error()})
			pw.CloseWithError(err)
			return
		}

		if err := writeEvent(pw, fiber.Map{"sources": toSourceDocuments(sources)}); err == nil {
			_, _ = fmt.Fprint(pw, "data: [DONE]\n\n")
		}
		pw.Close()
	}()

	return c.SendStream(pr)
}

func writeEvent(w io.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// Stats godoc
// @Summary Knowledge base statistics
// @Tags status
// @Produce json
// @Success 200 {object} dto.StatsResponse
// @Router /api/stats [get]
func (h *ChatHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.Context())
	if err != nil {
		h.logger.Error("Failed to read store stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.StatsResponse{
			Status: "error",
			Error:  err.Error(),
		})
	}

	return c.JSON(dto.StatsResponse{
		DocumentCount: stats.DocumentCount,
		Status:        "ready",
	})
}

// Health godoc
// @Summary Service health
// @Tags status
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /api/health [get]
func (h *ChatHandler) Health(c *fiber.Ctx) error {
	return c.JSON(dto.HealthResponse{
		Status:         "healthy",
		RAGInitialized: h.engine.Ready(),
	})
}

func toSourceDocuments(passages []models.RetrievedPassage) []dto.SourceDocument {
	sources := make([]dto.SourceDocument, len(passages))
	for i, passage := range passages {
		sources[i] = dto.SourceDocument{
			Text:  passage.Chunk.Text,
			Score: passage.Score,
			Metadata: dto.SourceMetadata{
				Source:    passage.Chunk.Metadata.Source,
				Position:  passage.Chunk.Metadata.Position,
				DocFormat: string(passage.Chunk.Metadata.DocFormat),
				Extra:     passage.Chunk.Metadata.Extra,
			},
		}
	}
	return sources
}
