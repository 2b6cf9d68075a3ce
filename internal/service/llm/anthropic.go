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

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	// Anthropic requires an explicit completion cap on every request.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider implements Provider against the Anthropic messages API.
// Unlike the delta-framed providers, Anthropic streams typed events and
// splits usage across the first and last frames of the exchange.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Provider = (*AnthropicProvider)(nil)

func NewAnthropicProvider(apiKey string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: anthropicURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Supports(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// anthropicStreamEvent covers every event type we care about; unused
// fields stay zero for the other types.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildPayload hoists system messages out of the turn list; Anthropic takes
// the system prompt as a top-level field, not a message role.
func (p *AnthropicProvider) buildPayload(req CompletionRequest) anthropicRequest {
	var system strings.Builder
	turns := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue
		}
		turns = append(turns, msg)
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return anthropicRequest{
		Model:       req.Model,
		Messages:    turns,
		System:      system.String(),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
}

// Stream sends a streaming messages request and normalizes the typed event
// frames into canonical events.
func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if p.apiKey == "" {
		return nil, NewError(KindAuthOrConfig, "ANTHROPIC_API_KEY is not configured")
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
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
	}).Info("Calling Anthropic API (streaming)")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("Anthropic", err)
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
		var inputTokens, outputTokens int
		sawUsage := false

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			// "event:" lines are redundant with the type field in the data.
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				logger.Log.WithError(err).Warn("Error parsing Anthropic stream event")
				continue
			}

			switch event.Type {
			case "message_start":
				inputTokens = event.Message.Usage.InputTokens
				sawUsage = sawUsage || inputTokens > 0
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					fullText.WriteString(event.Delta.Text)
					events <- StreamEvent{Content: event.Delta.Text}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					outputTokens = event.Usage.OutputTokens
					sawUsage = true
				}
			case "error":
				events <- StreamEvent{Err: NewError(KindProviderError,
					"Anthropic stream error (%s): %s", event.Error.Type, event.Error.Message)}
				return
			case "message_stop", "content_block_start", "content_block_stop", "ping":
				// No content to forward.
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			events <- StreamEvent{Err: NewError(KindProviderError, "Anthropic stream interrupted: %v", err)}
			return
		}

		var usage *Usage
		if sawUsage {
			usage = &Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      inputTokens + outputTokens,
			}
		}
		events <- StreamEvent{Done: finishCompletion(req, fullText.String(), usage)}
	}()

	return events, nil
}

func (p *AnthropicProvider) classifyHTTPError(model string, status int, body []byte) *Error {
	var errBody anthropicErrorBody
	_ = json.Unmarshal(body, &errBody)
	detail := errBody.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuthOrConfig, "Anthropic rejected the configured API key; verify ANTHROPIC_API_KEY")
	case status == http.StatusNotFound || errBody.Error.Type == "not_found_error":
		return NewError(KindModelUnavailable, "model %q is not available from Anthropic; pick another model", model)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, "Anthropic is rate limiting requests right now; wait a moment or switch to a different model")
	default:
		return NewError(KindProviderError, "Anthropic returned status %d: %s", status, detail)
	}
}
