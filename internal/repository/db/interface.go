package db

import "time"

// Database defines the interface for all database operations
// This allows for easier testing through mocking and decouples the services from the specific database implementation
type Database interface {
	// Accounts
	GetAccount(id string) (*Account, error)
	GetAccountByUsername(username string) (*Account, error)
	CreateAccount(username, email, passwordHash string) (*Account, error)
	// ApplyDailyReset zeroes the daily message counter if no reset has been
	// recorded for the given day yet. Returns whether a reset was applied;
	// a losing concurrent caller gets false and must re-read the account.
	ApplyDailyReset(accountID string, day time.Time) (bool, error)
	// ApplyMonthlyReset zeroes the monthly token counter if the last reset
	// predates the given billing anniversary. Same contract as ApplyDailyReset.
	ApplyMonthlyReset(accountID string, anniversary time.Time) (bool, error)
	// IncrementAccountUsage atomically adds to the consumption counters.
	IncrementAccountUsage(accountID string, tokens, messages int) error

	// Conversations
	EnsureConversation(id, accountID string) (*Conversation, error)
	GetConversation(id string) (*Conversation, error)
	GetConversationsByAccount(accountID string) ([]Conversation, error)
	DeleteConversation(id string) error
	// AllocateSequencePair reserves two consecutive sequence numbers for the
	// user/assistant messages of one exchange in a single atomic step.
	AllocateSequencePair(conversationID string) (userSeq, assistantSeq int, err error)
	UpdateTitleIfPlaceholder(conversationID, title string) error
	AppendModelHistory(conversationID, model string) error

	// Messages
	AddMessage(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*Message, error)
	GetConversationMessages(conversationID string) ([]Message, error)

	// Usage tracking
	UpsertUsageRecord(accountID string, day time.Time, tokens, messages int, model string, cost float64) error
	GetUsageRecord(accountID string, day time.Time) (*UsageRecord, error)
}
