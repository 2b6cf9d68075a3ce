package handlers

import (
	"net/http"
	"time"

	"llm-gateway/internal/auth"
	"llm-gateway/internal/service/llm"
)

type ConversationInfo struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	ModelHistory []string `json:"model_history"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type ConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

type MessageData struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Model          string `json:"model,omitempty"`
	InputTokens    int    `json:"input_tokens,omitempty"`
	OutputTokens   int    `json:"output_tokens,omitempty"`
	TotalTokens    int    `json:"total_tokens,omitempty"`
	SequenceNumber int    `json:"sequence_number"`
	CreatedAt      string `json:"created_at"`
}

type MessagesResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageData `json:"messages"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
}

// ConversationsHandler lists the account's conversations.
func (ch *ChatHandlers) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	conversations, err := ch.chatService.GetConversations(accountID)
	if err != nil {
		ch.sendError(w, err)
		return
	}

	resp := ConversationsResponse{Conversations: make([]ConversationInfo, 0, len(conversations))}
	for _, c := range conversations {
		resp.Conversations = append(resp.Conversations, ConversationInfo{
			ID:           c.ID,
			Title:        c.Title,
			ModelHistory: c.ModelHistory,
			CreatedAt:    c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
		})
	}
	ch.sendJSON(w, http.StatusOK, resp)
}

// ConversationMessagesHandler returns a conversation's messages in
// sequence order.
func (ch *ChatHandlers) ConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	conversationID := r.PathValue("id")
	if conversationID == "" {
		ch.sendError(w, llm.NewError(llm.KindInvalidRequest, "conversation id is required"))
		return
	}

	messages, err := ch.chatService.GetConversationMessages(accountID, conversationID)
	if err != nil {
		ch.sendError(w, err)
		return
	}

	resp := MessagesResponse{ConversationID: conversationID, Messages: make([]MessageData, 0, len(messages))}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, MessageData{
			ID:             m.ID,
			Role:           m.Role,
			Content:        m.Content,
			Model:          m.Model,
			InputTokens:    m.InputTokens,
			OutputTokens:   m.OutputTokens,
			TotalTokens:    m.TotalTokens,
			SequenceNumber: m.SequenceNumber,
			CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		})
	}
	ch.sendJSON(w, http.StatusOK, resp)
}

// DeleteConversationHandler removes a conversation and its messages.
func (ch *ChatHandlers) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	conversationID := r.PathValue("id")
	if conversationID == "" {
		ch.sendError(w, llm.NewError(llm.KindInvalidRequest, "conversation id is required"))
		return
	}

	if err := ch.chatService.DeleteConversation(accountID, conversationID); err != nil {
		ch.sendError(w, err)
		return
	}
	ch.sendJSON(w, http.StatusOK, DeleteResponse{Success: true})
}
