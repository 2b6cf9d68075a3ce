package handlers

import (
	"net/http"
	"time"

	"llm-gateway/internal/auth"
	"llm-gateway/internal/config"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/quota"
)

type UsageResponse struct {
	Tier string `json:"tier"`

	MonthlyTokensUsed int       `json:"monthly_tokens_used"`
	MonthlyTokenLimit int       `json:"monthly_token_limit"`
	MonthlyResetsAt   time.Time `json:"monthly_resets_at"`

	DailyMessagesSent int       `json:"daily_messages_sent"`
	DailyMessageLimit int       `json:"daily_message_limit"`
	DailyResetsAt     time.Time `json:"daily_resets_at"`

	AllowedModels []string `json:"allowed_models"`

	Today *DailyUsage `json:"today,omitempty"`
}

type DailyUsage struct {
	TokensUsed   int            `json:"tokens_used"`
	MessagesSent int            `json:"messages_sent"`
	ModelsUsed   map[string]int `json:"models_used"`
	CostIncurred float64        `json:"cost_incurred"`
}

type ModelsResponse struct {
	Tier   string   `json:"tier"`
	Models []string `json:"models"`
}

// UsageHandler reports where the account stands against its plan, plus
// today's per-model breakdown.
func (ch *ChatHandlers) UsageHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	account, err := ch.config.DB.GetAccount(accountID)
	if err != nil {
		ch.sendError(w, llm.NewError(llm.KindDatabaseFailed, "failed to load account: %v", err))
		return
	}
	if account == nil {
		ch.sendError(w, llm.NewError(llm.KindAuthenticationFailed, "account not found"))
		return
	}

	tier, limits := config.LimitsForTier(account.Tier)
	now := time.Now().UTC()

	resp := UsageResponse{
		Tier:              string(tier),
		MonthlyTokensUsed: account.MonthlyTokensUsed,
		MonthlyTokenLimit: limits.MonthlyTokenLimit,
		MonthlyResetsAt:   quota.NextAnniversary(account.BillingPeriodStart, now),
		DailyMessagesSent: account.DailyMessagesSent,
		DailyMessageLimit: limits.DailyMessageLimit,
		DailyResetsAt:     quota.NextMidnightUTC(now),
		AllowedModels:     limits.AllowedModels,
	}

	record, err := ch.accountant.TodayRecord(accountID)
	if err != nil {
		ch.sendError(w, err)
		return
	}
	if record != nil {
		resp.Today = &DailyUsage{
			TokensUsed:   record.TokensUsed,
			MessagesSent: record.MessagesSent,
			ModelsUsed:   record.ModelsUsed,
			CostIncurred: record.CostIncurred,
		}
	}

	ch.sendJSON(w, http.StatusOK, resp)
}

// ModelsHandler lists the models the account's tier allows.
func (ch *ChatHandlers) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	account, err := ch.config.DB.GetAccount(accountID)
	if err != nil {
		ch.sendError(w, llm.NewError(llm.KindDatabaseFailed, "failed to load account: %v", err))
		return
	}
	if account == nil {
		ch.sendError(w, llm.NewError(llm.KindAuthenticationFailed, "account not found"))
		return
	}

	tier, limits := config.LimitsForTier(account.Tier)
	ch.sendJSON(w, http.StatusOK, ModelsResponse{Tier: string(tier), Models: limits.AllowedModels})
}
