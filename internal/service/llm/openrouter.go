package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"llm-gateway/internal/logger"

	"github.com/sirupsen/logrus"
)

const openRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterProvider implements Provider against the OpenRouter aggregation
// API. It handles every namespaced model id (vendor/model), so it is
// registered last and acts as the catch-all for open-weight models.
type OpenRouterProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Provider = (*OpenRouterProvider)(nil)

func NewOpenRouterProvider(apiKey string, timeout time.Duration) *OpenRouterProvider {
	return &OpenRouterProvider{
		apiKey:  apiKey,
		baseURL: openRouterURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

// Supports matches namespaced ids like "meta-llama/llama-3.3-70b-instruct".
func (p *OpenRouterProvider) Supports(model string) bool {
	return strings.Contains(model, "/")
}

type openRouterRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type openRouterStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type openRouterErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Stream sends a streaming chat completion request through OpenRouter.
// Usage reporting is best-effort there: many routed models never emit a
// usage chunk, in which case the terminal event carries an estimate.
func (p *OpenRouterProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if p.apiKey == "" {
		return nil, NewError(KindAuthOrConfig, "OPENROUTER_API_KEY is not configured")
	}

	payload := openRouterRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		payload.MaxTokens = &maxTokens
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindInternalError, "error marshaling request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewError(KindInternalError, "error creating request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/llm-gateway")
	httpReq.Header.Set("X-Title", "LLM Gateway")

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
	}).Info("Calling OpenRouter API (streaming)")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("OpenRouter", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, p.classifyHTTPError(req.Model, resp.StatusCode, body)
	}

	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		defer resp.Body.Close()

		var fullText strings.Builder
		var usage *Usage

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || line == "data: [DONE]" {
				continue
			}
			// OpenRouter interleaves ": OPENROUTER PROCESSING" keepalive
			// comments with the data frames.
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var chunk openRouterStreamChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				logger.Log.WithError(err).Warn("Error parsing OpenRouter stream chunk")
				continue
			}

			if chunk.Usage != nil {
				usage = chunk.Usage
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				fragment := chunk.Choices[0].Delta.Content
				fullText.WriteString(fragment)
				events <- StreamEvent{Content: fragment}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			events <- StreamEvent{Err: NewError(KindProviderError, "OpenRouter stream interrupted: %v", err)}
			return
		}

		events <- StreamEvent{Done: finishCompletion(req, fullText.String(), usage)}
	}()

	return events, nil
}

func (p *OpenRouterProvider) classifyHTTPError(model string, status int, body []byte) *Error {
	var errBody openRouterErrorBody
	_ = json.Unmarshal(body, &errBody)
	detail := errBody.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuthOrConfig, "OpenRouter rejected the configured API key; verify OPENROUTER_API_KEY")
	case status == http.StatusNotFound || strings.Contains(detail, "not a valid model"):
		return NewError(KindModelUnavailable, "model %q is not available from OpenRouter; pick another model", model)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, "OpenRouter is rate limiting requests right now; wait a moment or switch to a different model")
	default:
		return NewError(KindProviderError, "OpenRouter returned status %d: %s", status, detail)
	}
}
