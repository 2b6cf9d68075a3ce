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

const openAIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider implements Provider against the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider. The timeout bounds the
// whole call, streaming included.
func NewOpenAIProvider(apiKey string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: openAIURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

var openAIModelPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}

func (p *OpenAIProvider) Supports(model string) bool {
	for _, prefix := range openAIModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// Reasoning-family models take different generation controls: a bounded
// completion length plus an effort level, and no temperature at all.
// Sending temperature to this sub-family is a request-level error upstream.
var reasoningModelPrefixes = []string{"o1", "o3", "o4"}

func isReasoningModel(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if model == prefix || strings.HasPrefix(model, prefix+"-") {
			return true
		}
	}
	return false
}

const (
	defaultReasoningEffort     = "medium"
	defaultMaxCompletionTokens = 4096
)

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequest struct {
	Model               string               `json:"model"`
	Messages            []Message            `json:"messages"`
	Stream              bool                 `json:"stream"`
	StreamOptions       *openAIStreamOptions `json:"stream_options,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	MaxTokens           *int                 `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                 `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string               `json:"reasoning_effort,omitempty"`
}

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *OpenAIProvider) buildPayload(req CompletionRequest) openAIRequest {
	payload := openAIRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
	}

	if isReasoningModel(req.Model) {
		maxCompletion := defaultMaxCompletionTokens
		if req.MaxTokens > 0 {
			maxCompletion = req.MaxTokens
		}
		payload.MaxCompletionTokens = &maxCompletion
		payload.ReasoningEffort = defaultReasoningEffort
		return payload
	}

	payload.Temperature = req.Temperature
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		payload.MaxTokens = &maxTokens
	}
	return payload
}

// Stream sends a streaming chat completion request and normalizes the
// delta-framed SSE response into canonical events.
func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if p.apiKey == "" {
		return nil, NewError(KindAuthOrConfig, "OPENAI_API_KEY is not configured")
	}

	jsonData, err := json.Marshal(p.buildPayload(req))
	if err != nil {
		return nil, NewError(KindInternalError, "error marshaling request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewError(KindInternalError, "error creating request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
		"reasoning":     isReasoningModel(req.Model),
	}).Info("Calling OpenAI API (streaming)")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("OpenAI", err)
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
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				logger.Log.WithError(err).Warn("Error parsing OpenAI stream chunk")
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
				// Caller went away; the exchange never completed.
				return
			}
			events <- StreamEvent{Err: NewError(KindProviderError, "OpenAI stream interrupted: %v", err)}
			return
		}

		events <- StreamEvent{Done: finishCompletion(req, fullText.String(), usage)}
	}()

	return events, nil
}

func (p *OpenAIProvider) classifyHTTPError(model string, status int, body []byte) *Error {
	var errBody openAIErrorBody
	_ = json.Unmarshal(body, &errBody)
	detail := errBody.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuthOrConfig, "OpenAI rejected the configured API key; verify OPENAI_API_KEY")
	case status == http.StatusNotFound || errBody.Error.Code == "model_not_found":
		return NewError(KindModelUnavailable, "model %q is not available from OpenAI; pick another model", model)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, "OpenAI is rate limiting requests right now; wait a moment or switch to a different model")
	default:
		return NewError(KindProviderError, "OpenAI returned status %d: %s", status, detail)
	}
}

// finishCompletion assembles the terminal Done event, estimating usage
// when the provider never reported any.
func finishCompletion(req CompletionRequest, fullText string, usage *Usage) *Completion {
	completion := &Completion{Content: fullText, Model: req.Model}
	if usage != nil {
		completion.Usage = *usage
		if completion.Usage.TotalTokens == 0 {
			completion.Usage.TotalTokens = completion.Usage.PromptTokens + completion.Usage.CompletionTokens
		}
		return completion
	}

	completion.UsageEstimated = true
	completion.Usage.PromptTokens = EstimatePromptTokens(req.Messages)
	completion.Usage.CompletionTokens = EstimateCompletionTokens(fullText)
	completion.Usage.TotalTokens = completion.Usage.PromptTokens + completion.Usage.CompletionTokens
	return completion
}

// classifyTransportError distinguishes timeouts/cancellation from plain
// connectivity failures.
func classifyTransportError(provider string, err error) *Error {
	if strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout") {
		return NewError(KindProviderError, "%s did not respond in time; try again or switch models", provider)
	}
	return NewError(KindProviderError, "could not reach %s: %v", provider, err)
}
