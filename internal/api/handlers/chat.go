package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"llm-gateway/internal/app"
	"llm-gateway/internal/auth"
	"llm-gateway/internal/logger"
	chatService "llm-gateway/internal/service/chat"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/quota"
	usageService "llm-gateway/internal/service/usage"

	"github.com/sirupsen/logrus"
)

// Request/Response types

type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Model          string        `json:"model"`
	Messages       []llm.Message `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Stream         *bool         `json:"stream,omitempty"`
}

type ErrorDetail struct {
	Code          string     `json:"code"`
	Message       string     `json:"message"`
	Tier          string     `json:"tier,omitempty"`
	AllowedModels []string   `json:"allowed_models,omitempty"`
	Current       int        `json:"current,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	ResetsAt      *time.Time `json:"resets_at,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type EnhanceRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type EnhanceResponse struct {
	EnhancedPrompt string `json:"enhanced_prompt"`
}

type ExampleRequest struct {
	Topic string `json:"topic,omitempty"`
	Model string `json:"model,omitempty"`
}

type ExampleResponse struct {
	Example string `json:"example"`
}

// streamFrame is the SSE payload. Type is "content", "done", or "error";
// everything else rides flat next to it. A done frame carries the full
// content, usage, model, and messageIds; an error frame carries the error
// kind, a message, and any quota context.
type streamFrame struct {
	Type           string            `json:"type"`
	Content        string            `json:"content,omitempty"`
	Model          string            `json:"model,omitempty"`
	Usage          *llm.Usage        `json:"usage,omitempty"`
	UsageEstimated bool              `json:"usage_estimated,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	MessageIDs     *streamMessageIDs `json:"messageIds,omitempty"`

	Error         string     `json:"error,omitempty"`
	Message       string     `json:"message,omitempty"`
	Tier          string     `json:"tier,omitempty"`
	AllowedModels []string   `json:"allowed_models,omitempty"`
	Current       int        `json:"current,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	ResetsAt      *time.Time `json:"resets_at,omitempty"`
}

type streamMessageIDs struct {
	UserMessage string `json:"userMessage"`
	AIMessage   string `json:"aiMessage"`
}

// The model used by the helper endpoints when the client leaves it blank.
// Cheapest model in every tier's allow list.
const defaultHelperModel = "gpt-4o-mini"

// ChatHandlers serves the completion and conversation endpoints.
type ChatHandlers struct {
	config      *app.Config
	chatService *chatService.ChatService
	accountant  *usageService.Accountant
}

// NewChatHandlers creates a new ChatHandlers with service layer
func NewChatHandlers(config *app.Config, registry *llm.Registry) *ChatHandlers {
	return &ChatHandlers{
		config:      config,
		chatService: chatService.NewChatService(config, registry),
		accountant:  usageService.NewAccountant(config.DB),
	}
}

// errorDetail converts any service error into the wire error shape.
func errorDetail(err error) ErrorDetail {
	var quotaErr *quota.Error
	if errors.As(err, &quotaErr) {
		detail := ErrorDetail{
			Code:          string(quotaErr.Kind),
			Message:       quotaErr.Message,
			Tier:          quotaErr.Tier,
			AllowedModels: quotaErr.AllowedModels,
			Current:       quotaErr.Current,
			Limit:         quotaErr.Limit,
		}
		if !quotaErr.ResetsAt.IsZero() {
			resetsAt := quotaErr.ResetsAt
			detail.ResetsAt = &resetsAt
		}
		return detail
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return ErrorDetail{Code: string(llmErr.Kind), Message: llmErr.Message}
	}

	return ErrorDetail{Code: string(llm.KindInternalError), Message: err.Error()}
}

// sendError writes a non-streamed JSON error with the status derived from
// the error's classification.
func (ch *ChatHandlers) sendError(w http.ResponseWriter, err error) {
	detail := errorDetail(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(llm.HTTPStatus(llm.ErrorKind(detail.Code)))
	json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}

func (ch *ChatHandlers) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to marshal stream frame")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// ChatStreamHandler is the SSE endpoint for streaming chat completions.
// Completions are streaming-only; a request that explicitly opts out of
// streaming is rejected before any quota or provider work.
func (ch *ChatHandlers) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		ch.sendError(w, llm.NewError(llm.KindAuthenticationFailed, "not authenticated"))
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, llm.NewError(llm.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	if req.Stream != nil && !*req.Stream {
		ch.sendError(w, llm.NewError(llm.KindStreamingOnly, "completions are streaming-only; omit \"stream\" or set it to true"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.sendError(w, llm.NewError(llm.KindInternalError, "streaming not supported"))
		return
	}

	frames, err := ch.chatService.SendMessageStream(r.Context(), chatService.SendMessageRequest{
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		AccountID:      accountID,
	})
	if err != nil {
		logger.Log.WithError(err).Info("Chat request rejected before streaming")
		ch.sendError(w, err)
		return
	}

	// Headers commit the response as a stream; every failure from here on
	// rides inside it as a terminal error frame.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for frame := range frames {
		switch {
		case frame.Err != nil:
			detail := errorDetail(frame.Err)
			writeFrame(w, flusher, streamFrame{
				Type:          "error",
				Error:         detail.Code,
				Message:       detail.Message,
				Tier:          detail.Tier,
				AllowedModels: detail.AllowedModels,
				Current:       detail.Current,
				Limit:         detail.Limit,
				ResetsAt:      detail.ResetsAt,
			})
			return
		case frame.Done != nil:
			usage := frame.Done.Usage
			writeFrame(w, flusher, streamFrame{
				Type:           "done",
				Content:        frame.Done.Content,
				Model:          frame.Done.Model,
				Usage:          &usage,
				UsageEstimated: frame.Done.UsageEstimated,
				ConversationID: frame.Done.ConversationID,
				MessageIDs: &streamMessageIDs{
					UserMessage: frame.Done.UserMessageID,
					AIMessage:   frame.Done.AssistantMessageID,
				},
			})
			logger.Log.WithFields(logrus.Fields{
				"conversation_id": frame.Done.ConversationID,
				"model":           frame.Done.Model,
				"total_tokens":    frame.Done.Usage.TotalTokens,
			}).Info("Chat stream completed")
		default:
			writeFrame(w, flusher, streamFrame{Type: "content", Content: frame.Content})
		}
	}
}

// EnhancePromptHandler rewrites a prompt for clarity.
func (ch *ChatHandlers) EnhancePromptHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	var req EnhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, llm.NewError(llm.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = defaultHelperModel
	}

	enhanced, err := ch.chatService.EnhancePrompt(r.Context(), accountID, req.Model, req.Prompt)
	if err != nil {
		ch.sendError(w, err)
		return
	}
	ch.sendJSON(w, http.StatusOK, EnhanceResponse{EnhancedPrompt: enhanced})
}

// GenerateExampleHandler produces an example prompt.
func (ch *ChatHandlers) GenerateExampleHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	var req ExampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, llm.NewError(llm.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = defaultHelperModel
	}

	example, err := ch.chatService.GenerateExample(r.Context(), accountID, req.Model, req.Topic)
	if err != nil {
		ch.sendError(w, err)
		return
	}
	ch.sendJSON(w, http.StatusOK, ExampleResponse{Example: example})
}
