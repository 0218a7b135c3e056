package dto

// ChatRequest is the question payload of POST /api/chat.
// TopK and Temperature fall back to the configured defaults when
// omitted; pointers distinguish an omitted field from an explicit
// invalid value, which is rejected.
type ChatRequest struct {
	Question    string   `json:"question"`
	TopK        *int     `json:"top_k,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type SourceMetadata struct {
	Source    string            `json:"source"`
	Position  int               `json:"position"`
	DocFormat string            `json:"doc_format"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type SourceDocument struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata SourceMetadata `json:"metadata"`
}

type ChatResponse struct {
	Answer  string           `json:"answer"`
	Sources []SourceDocument `json:"sources"`
}

type StatsResponse struct {
	DocumentCount int    `json:"document_count"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	RAGInitialized bool   `json:"rag_initialized"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
