package llm

import "encoding/json"

// Fallback token estimation for providers that never report usage.
// Uses the approximation: ~4 chars per token.

// EstimatePromptTokens estimates prompt tokens from the serialized request
// messages.
func EstimatePromptTokens(messages []Message) int {
	serialized, err := json.Marshal(messages)
	if err != nil {
		return 0
	}
	return estimateChars(len(serialized))
}

// EstimateCompletionTokens estimates completion tokens from accumulated
// output text.
func EstimateCompletionTokens(text string) int {
	return estimateChars(len(text))
}

func estimateChars(n int) int {
	return (n + 3) / 4
}
