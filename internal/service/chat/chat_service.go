package chat

import (
	"context"
	"errors"

	"llm-gateway/internal/app"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/quota"
	"llm-gateway/internal/service/usage"
	"llm-gateway/pkg/validation"

	"github.com/sirupsen/logrus"
)

// SendMessageRequest contains all the parameters needed to stream one
// chat exchange.
type SendMessageRequest struct {
	ConversationID string
	Model          string
	Messages       []llm.Message
	Temperature    *float64
	MaxTokens      int
	AccountID      string // Extracted from auth context
}

// DoneFrame is the terminal payload of a successful exchange.
type DoneFrame struct {
	Content            string
	Model              string
	Usage              llm.Usage
	UsageEstimated     bool
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
}

// Frame is one event of the outgoing stream. Exactly one field is set.
type Frame struct {
	Content string
	Done    *DoneFrame
	Err     *llm.Error
}

// ChatService orchestrates an exchange end to end: validation, quota,
// provider routing, streaming, and persistence.
type ChatService struct {
	db         db.Database
	registry   *llm.Registry
	ledger     *quota.Ledger
	accountant *usage.Accountant
	validator  *validation.ChatRequestValidator
}

// NewChatService creates a new ChatService
func NewChatService(config *app.Config, registry *llm.Registry) *ChatService {
	return &ChatService{
		db:         config.DB,
		registry:   registry,
		ledger:     quota.NewLedger(config.DB),
		accountant: usage.NewAccountant(config.DB),
		validator:  validation.NewChatRequestValidator(),
	}
}

// preflight runs everything that must succeed before any stream opens:
// request validation, quota checks, and provider routing.
func (s *ChatService) preflight(req SendMessageRequest) (llm.Provider, error) {
	msgs := make([]validation.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = validation.ChatMessage{Role: m.Role, Content: m.Content}
	}
	if err := s.validator.ValidateChatRequest(req.ConversationID, req.Model, msgs, req.Temperature, req.MaxTokens); err != nil {
		return nil, llm.NewError(llm.KindInvalidRequest, "%v", err)
	}

	if _, err := s.ledger.CheckAndReserve(req.AccountID, req.Model); err != nil {
		return nil, err
	}

	provider, ok := s.registry.ForModel(req.Model)
	if !ok {
		return nil, llm.NewError(llm.KindModelUnavailable, "no provider handles model %q", req.Model)
	}
	return provider, nil
}

// SendMessageStream runs one streaming exchange. The returned channel
// yields content frames followed by exactly one Done or Err frame, except
// on caller cancellation, where it closes without a terminal frame and
// nothing from the exchange is persisted beyond the user message.
func (s *ChatService) SendMessageStream(ctx context.Context, req SendMessageRequest) (<-chan Frame, error) {
	provider, err := s.preflight(req)
	if err != nil {
		return nil, err
	}

	conversation, err := s.db.EnsureConversation(req.ConversationID, req.AccountID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to get/create conversation: %v", err)
	}
	if conversation.AccountID != req.AccountID {
		return nil, llm.NewError(llm.KindAuthenticationFailed, "conversation belongs to another account")
	}

	userSeq, assistantSeq, err := s.db.AllocateSequencePair(conversation.ID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to allocate sequence numbers: %v", err)
	}

	userContent := req.Messages[len(req.Messages)-1].Content
	userMessage, err := s.db.AddMessage(conversation.ID, "user", userContent, "", 0, 0, userSeq)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to save user message: %v", err)
	}

	events, err := provider.Stream(ctx, llm.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		// The user message stays; the turn happened even though no
		// answer did.
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversation.ID,
		"model":           req.Model,
		"provider":        provider.Name(),
		"user_seq":        userSeq,
	}).Debug("Exchange started")

	frames := make(chan Frame)
	go func() {
		defer close(frames)
		s.pump(ctx, req, conversation, userMessage.ID, userContent, assistantSeq, events, frames)
	}()
	return frames, nil
}

func (s *ChatService) pump(ctx context.Context, req SendMessageRequest, conversation *db.Conversation,
	userMessageID, userContent string, assistantSeq int, events <-chan llm.StreamEvent, frames chan<- Frame) {

	for event := range events {
		switch {
		case event.Err != nil:
			frames <- Frame{Err: event.Err}
			return
		case event.Done != nil:
			done, err := s.finalize(req, conversation, userMessageID, userContent, assistantSeq, event.Done)
			if err != nil {
				frames <- Frame{Err: llm.NewError(llm.KindDatabaseFailed, "failed to save assistant message: %v", err)}
				return
			}
			frames <- Frame{Done: done}
			return
		case event.Content != "":
			frames <- Frame{Content: event.Content}
		}
	}

	if ctx.Err() != nil {
		// Caller cancelled; the adapter already dropped the exchange.
		return
	}
	frames <- Frame{Err: llm.NewError(llm.KindProviderError, "stream ended without a completion")}
}

// finalize persists the assistant message and books usage once the stream
// completed successfully. Partial output from a failed stream never gets
// here.
func (s *ChatService) finalize(req SendMessageRequest, conversation *db.Conversation,
	userMessageID, userContent string, assistantSeq int, completion *llm.Completion) (*DoneFrame, error) {

	assistantMessage, err := s.db.AddMessage(conversation.ID, "assistant", completion.Content,
		completion.Model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens, assistantSeq)
	if err != nil {
		return nil, err
	}

	// The exchange already happened; bookkeeping failures must not turn a
	// delivered completion into an error.
	if err := s.accountant.Record(req.AccountID, completion.Model, completion.Usage, 2); err != nil {
		logger.Log.WithError(err).Warn("Failed to record usage for completed exchange")
	}

	if err := s.db.UpdateTitleIfPlaceholder(conversation.ID, userContent); err != nil {
		logger.Log.WithError(err).Warn("Failed to update conversation title")
	}
	if err := s.db.AppendModelHistory(conversation.ID, completion.Model); err != nil {
		logger.Log.WithError(err).Warn("Failed to append model history")
	}

	return &DoneFrame{
		Content:            completion.Content,
		Model:              completion.Model,
		Usage:              completion.Usage,
		UsageEstimated:     completion.UsageEstimated,
		ConversationID:     conversation.ID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessage.ID,
	}, nil
}

// GetConversations lists the account's conversations.
func (s *ChatService) GetConversations(accountID string) ([]db.Conversation, error) {
	conversations, err := s.db.GetConversationsByAccount(accountID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to list conversations: %v", err)
	}
	return conversations, nil
}

// GetConversationMessages returns a conversation's messages in sequence
// order, after checking ownership.
func (s *ChatService) GetConversationMessages(accountID, conversationID string) ([]db.Message, error) {
	if err := s.ownedConversation(accountID, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.db.GetConversationMessages(conversationID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to load messages: %v", err)
	}
	return messages, nil
}

// DeleteConversation removes a conversation and its messages, after
// checking ownership.
func (s *ChatService) DeleteConversation(accountID, conversationID string) error {
	if err := s.ownedConversation(accountID, conversationID); err != nil {
		return err
	}
	if err := s.db.DeleteConversation(conversationID); err != nil {
		return llm.NewError(llm.KindDatabaseFailed, "failed to delete conversation: %v", err)
	}
	return nil
}

var errNotFound = errors.New("conversation not found")

func (s *ChatService) ownedConversation(accountID, conversationID string) error {
	conversation, err := s.db.GetConversation(conversationID)
	if err != nil {
		return llm.NewError(llm.KindDatabaseFailed, "failed to load conversation: %v", err)
	}
	if conversation == nil {
		return llm.NewError(llm.KindInvalidRequest, "%v", errNotFound)
	}
	if conversation.AccountID != accountID {
		return llm.NewError(llm.KindAuthenticationFailed, "conversation belongs to another account")
	}
	return nil
}
