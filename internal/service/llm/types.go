package llm

import "context"

// Message represents a chat message in the canonical request format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-agnostic request every adapter
// translates into its upstream wire format.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int // 0 means provider default
	Temperature *float64
}

// Usage represents token usage for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the final result of a stream: the accumulated text, the
// model that produced it, and the provider-reported (or estimated) usage.
type Completion struct {
	Content        string
	Model          string
	Usage          Usage
	UsageEstimated bool
}

// StreamEvent is the canonical stream event. Exactly one field is set:
// Content for an incremental fragment, Done for the single terminal
// success event, Err for the single terminal failure event.
type StreamEvent struct {
	Content string
	Done    *Completion
	Err     *Error
}

// Provider is implemented once per upstream model family. Stream produces
// a finite sequence of events ending in exactly one Done or Err; it is not
// restartable. A returned error means the upstream call could not be
// started at all and carries the same classification as a mid-stream Err.
type Provider interface {
	Name() string
	Supports(model string) bool
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}
