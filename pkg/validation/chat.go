package validation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ChatMessage is the incoming message shape the validator checks. Kept
// local so the package has no dependency on the service layer.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequestValidator validates completion requests before any quota or
// provider work happens.
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateModel validates the model identifier
func (v *ChatRequestValidator) ValidateModel(model string) error {
	if model == "" {
		return errors.New("model cannot be empty")
	}
	return nil
}

// ValidateConversationID validates the conversation identifier. The client
// supplies the id, so its shape is checked before it reaches storage.
func (v *ChatRequestValidator) ValidateConversationID(conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation_id cannot be empty")
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return fmt.Errorf("conversation_id must be a UUID, got %q", conversationID)
	}
	return nil
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// ValidateMessages validates the message list. The final message must come
// from the user, since that is the turn being answered.
func (v *ChatRequestValidator) ValidateMessages(messages []ChatMessage) error {
	if len(messages) == 0 {
		return errors.New("messages cannot be empty")
	}

	for i, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("message %d has invalid role %q; must be one of: system, user, assistant", i, msg.Role)
		}
		if msg.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
	}

	if messages[len(messages)-1].Role != "user" {
		return errors.New("last message must have role \"user\"")
	}

	return nil
}

// ValidateTemperature validates the temperature parameter
func (v *ChatRequestValidator) ValidateTemperature(temperature *float64) error {
	if temperature == nil {
		return nil // Temperature is optional
	}

	if *temperature < 0 || *temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %.2f", *temperature)
	}
	return nil
}

// ValidateMaxTokens validates the optional completion length cap
func (v *ChatRequestValidator) ValidateMaxTokens(maxTokens int) error {
	if maxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative, got %d", maxTokens)
	}
	return nil
}

// ValidateChatRequest validates a complete chat request
func (v *ChatRequestValidator) ValidateChatRequest(conversationID, model string, messages []ChatMessage, temperature *float64, maxTokens int) error {
	if err := v.ValidateConversationID(conversationID); err != nil {
		return err
	}

	if err := v.ValidateModel(model); err != nil {
		return err
	}

	if err := v.ValidateMessages(messages); err != nil {
		return err
	}

	if err := v.ValidateTemperature(temperature); err != nil {
		return err
	}

	if err := v.ValidateMaxTokens(maxTokens); err != nil {
		return err
	}

	return nil
}

// ValidatePrompt validates the single prompt of the helper endpoints
func (v *ChatRequestValidator) ValidatePrompt(prompt string) error {
	if prompt == "" {
		return errors.New("prompt cannot be empty")
	}
	return nil
}
