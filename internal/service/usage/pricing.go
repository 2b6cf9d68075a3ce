package usage

import "llm-gateway/internal/service/llm"

// Per-million-token rates in USD, split by prompt and completion. Rates
// drift as vendors reprice; the map is a snapshot, and unknown models fall
// back to a conservative default so cost is never silently zero.
type modelRate struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

var modelRates = map[string]modelRate{
	"gpt-4o":                              {2.50, 10.00},
	"gpt-4o-mini":                         {0.15, 0.60},
	"o1-mini":                             {1.10, 4.40},
	"o3-mini":                             {1.10, 4.40},
	"claude-3-5-haiku-20241022":           {0.80, 4.00},
	"claude-sonnet-4-20250514":            {3.00, 15.00},
	"claude-opus-4-20250514":              {15.00, 75.00},
	"meta-llama/llama-3.3-70b-instruct":   {0.12, 0.30},
	"mistralai/mistral-large-2411":        {2.00, 6.00},
}

var defaultRate = modelRate{1.00, 3.00}

// CostFor returns the dollar cost of one exchange.
func CostFor(model string, u llm.Usage) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = defaultRate
	}
	return float64(u.PromptTokens)/1_000_000*rate.PromptPerMillion +
		float64(u.CompletionTokens)/1_000_000*rate.CompletionPerMillion
}
