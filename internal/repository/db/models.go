package db

import "time"

// Account represents an account in the database
type Account struct {
	ID                 string
	Username           string
	Email              string
	PasswordHash       string
	Tier               string
	MonthlyTokensUsed  int
	DailyMessagesSent  int
	BillingPeriodStart time.Time
	LastDailyReset     *time.Time
	LastMonthlyReset   *time.Time
	CreatedAt          time.Time
}

// Conversation represents a conversation in the database
type Conversation struct {
	ID           string
	AccountID    string
	Title        string
	ModelHistory []string // distinct models ever used, in first-use order
	LastSequence int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a message in a conversation. Sequence numbers are
// assigned by the store and are strictly increasing per conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Model          string // empty for user messages
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	SequenceNumber int
	CreatedAt      time.Time
}

// UsageRecord is the per-account, per-day usage breakdown.
type UsageRecord struct {
	AccountID    string
	Date         time.Time
	TokensUsed   int
	MessagesSent int
	ModelsUsed   map[string]int
	CostIncurred float64
}
