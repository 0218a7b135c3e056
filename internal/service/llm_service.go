package service

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"rag-honglou/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LLMService wraps the GigaChat provider: answer generation through the
// gigago client, embeddings and streaming through the REST API directly.
type LLMService struct {
	client     *gigago.Client
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	// Access token for direct REST calls. GigaChat tokens expire after
	// about 30 minutes, so it is refreshed on 401 and read concurrently
	// by query-path requests.
	mu          sync.RWMutex
	accessToken string
}

// qaSystemInstruction frames the assistant as a scholar of Dream of the
// Red Chamber answering strictly from the provided passages.
const qaSystemInstruction = `你是一位红楼梦研究专家。请根据提供的参考资料回答用户关于《红楼梦》的问题。
要求：
- 优先依据参考资料作答，并保持准确、具体
- 如果参考资料不足以回答问题，请明确说明，不要编造内容
- 用通顺的中文回答`

func NewLLMService(cfg *config.GigaChatConfig, logger *zap.Logger) (*LLMService, error) {
	ctx := context.Background()

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	oauthURL := "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"

	// Access token for the endpoints gigago does not cover
	// (embeddings, streaming chat completions).
	accessToken, err := getAccessToken(ctx, cfg, httpClient, oauthURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return &LLMService{
		client:      client,
		config:      cfg,
		logger:      logger,
		httpClient:  httpClient,
		oauthURL:    oauthURL,
		accessToken: accessToken,
		// Documentation: https://developers.sber.ru/docs/ru/gigachat/api/main
		baseURL: "https://gigachat.devices.sberbank.ru/api/v1",
	}, nil
}

func (s *LLMService) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// refreshToken replaces the cached access token. Called when a REST
// request comes back 401, meaning the current token has expired.
func (s *LLMService) refreshToken(ctx context.Context) error {
	accessToken, err := getAccessToken(ctx, s.config, s.httpClient, s.oauthURL, s.logger)
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}

	s.mu.Lock()
	s.accessToken = accessToken
	s.mu.Unlock()

	s.logger.Info("GigaChat access token refreshed")
	return nil
}

// doAuthorized sends a JSON request with the current bearer token. On a
// 401 the token is refreshed and the request replayed once; the payload
// is a byte slice so the retry can rebuild the body.
func (s *LLMService) doAuthorized(ctx context.Context, endpoint string, payload []byte, accept string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("Authorization", "Bearer "+s.token())

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			// Token might have expired, try to refresh it
			if err := s.refreshToken(ctx); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
}

func (s *LLMService) Close() {
	s.client.Close()
}

// getAccessToken obtains an access token from the GigaChat OAuth endpoint.
// The API key is expected to be Base64-encoded already, per GigaChat docs.
func getAccessToken(ctx context.Context, cfg *config.GigaChatConfig, httpClient *http.Client, oauthURL string, logger *zap.Logger) (string, error) {
	rqUID := uuid.New().String()

	formData := url.Values{}
	formData.Set("scope", cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, "POST", oauthURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+cfg.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("rq_uid", rqUID),
		)
		return "", fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in OAuth response")
	}

	return oauthResp.AccessToken, nil
}

// Generate produces a completed answer for the prompt. A fresh model is
// built per call so concurrent requests can carry different temperatures.
func (s *LLMService) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	model := s.client.GenerativeModel(s.config.Model)
	model.SystemInstruction = qaSystemInstruction
	model.Temperature = temperature

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateStream delivers the answer incrementally via onDelta.
// Endpoint: POST /chat/completions with "stream": true (SSE).
// Cancelling ctx abandons the stream without side effects.
func (s *LLMService) GenerateStream(ctx context.Context, prompt string, temperature float32, onDelta func(delta string) error) error {
	body := map[string]interface{}{
		"model": s.config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": qaSystemInstruction},
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
		"stream":      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode stream request: %w", err)
	}

	resp, err := s.doAuthorized(ctx, s.baseURL+"/chat/completions", payload, "text/event-stream")
	if err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Warn("Failed to decode stream event", zap.Error(err))
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

// EmbedTexts computes dense vectors for a batch of texts.
// Endpoint: POST /embeddings.
func (s *LLMService) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := map[string]interface{}{
		"model": model,
		"input": texts,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embeddings request: %w", err)
	}

	resp, err := s.doAuthorized(ctx, s.baseURL+"/embeddings", payload, "application/json")
	if err != nil {
		return nil, fmt.Errorf("embedding provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embResp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors, want %d", len(embResp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range embResp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
