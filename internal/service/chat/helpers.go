package chat

import (
	"context"
	"strings"

	"llm-gateway/internal/logger"
	"llm-gateway/internal/service/llm"
)

// Single-shot helpers share the streaming pipeline: same quota checks, same
// adapters, same accounting. They drain the stream internally and hand back
// the assembled completion, recording one message against the daily count.

const enhanceSystemPrompt = `You improve prompts. Rewrite the user's prompt to be clearer, more specific, and more likely to get a high-quality answer from a language model. Reply with the improved prompt only, no commentary.`

const exampleSystemPrompt = `You write short, concrete example prompts that show off what a language model can do. Reply with a single example prompt only, no commentary.`

// Complete runs a non-conversational exchange by draining the stream. No
// conversation state is touched; usage is booked as a single message.
func (s *ChatService) Complete(ctx context.Context, accountID, model string, messages []llm.Message, temperature *float64) (*llm.Completion, error) {
	if _, err := s.ledger.CheckAndReserve(accountID, model); err != nil {
		return nil, err
	}

	provider, ok := s.registry.ForModel(model)
	if !ok {
		return nil, llm.NewError(llm.KindModelUnavailable, "no provider handles model %q", model)
	}

	events, err := provider.Stream(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	for event := range events {
		switch {
		case event.Err != nil:
			return nil, event.Err
		case event.Done != nil:
			if err := s.accountant.Record(accountID, model, event.Done.Usage, 1); err != nil {
				logger.Log.WithError(err).Warn("Failed to record usage for completed request")
			}
			return event.Done, nil
		}
	}

	if ctx.Err() != nil {
		return nil, llm.NewError(llm.KindProviderError, "request cancelled before completion")
	}
	return nil, llm.NewError(llm.KindProviderError, "stream ended without a completion")
}

// EnhancePrompt rewrites a prompt for clarity using the given model.
func (s *ChatService) EnhancePrompt(ctx context.Context, accountID, model, prompt string) (string, error) {
	if err := s.validator.ValidatePrompt(prompt); err != nil {
		return "", llm.NewError(llm.KindInvalidRequest, "%v", err)
	}

	completion, err := s.Complete(ctx, accountID, model, []llm.Message{
		{Role: "system", Content: enhanceSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}

// GenerateExample produces an example prompt, optionally themed by topic.
func (s *ChatService) GenerateExample(ctx context.Context, accountID, model, topic string) (string, error) {
	request := "Write one example prompt."
	if topic != "" {
		request = "Write one example prompt about: " + topic
	}

	completion, err := s.Complete(ctx, accountID, model, []llm.Message{
		{Role: "system", Content: exampleSystemPrompt},
		{Role: "user", Content: request},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}
