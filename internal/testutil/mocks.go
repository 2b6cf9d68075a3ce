package testutil

import (
	"context"
	"errors"
	"time"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// Account mocks
	GetAccountFunc            func(id string) (*db.Account, error)
	GetAccountByUsernameFunc  func(username string) (*db.Account, error)
	CreateAccountFunc         func(username, email, passwordHash string) (*db.Account, error)
	ApplyDailyResetFunc       func(accountID string, day time.Time) (bool, error)
	ApplyMonthlyResetFunc     func(accountID string, anniversary time.Time) (bool, error)
	IncrementAccountUsageFunc func(accountID string, tokens, messages int) error

	// Conversation mocks
	EnsureConversationFunc       func(id, accountID string) (*db.Conversation, error)
	GetConversationFunc          func(id string) (*db.Conversation, error)
	GetConversationsByAccountFunc func(accountID string) ([]db.Conversation, error)
	DeleteConversationFunc       func(id string) error
	AllocateSequencePairFunc     func(conversationID string) (int, int, error)
	UpdateTitleIfPlaceholderFunc func(conversationID, title string) error
	AppendModelHistoryFunc       func(conversationID, model string) error

	// Message mocks
	AddMessageFunc              func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error)
	GetConversationMessagesFunc func(conversationID string) ([]db.Message, error)

	// Usage mocks
	UpsertUsageRecordFunc func(accountID string, day time.Time, tokens, messages int, model string, cost float64) error
	GetUsageRecordFunc    func(accountID string, day time.Time) (*db.UsageRecord, error)
}

var _ db.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetAccount(id string) (*db.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(id)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetAccountByUsername(username string) (*db.Account, error) {
	if m.GetAccountByUsernameFunc != nil {
		return m.GetAccountByUsernameFunc(username)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) CreateAccount(username, email, passwordHash string) (*db.Account, error) {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(username, email, passwordHash)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) ApplyDailyReset(accountID string, day time.Time) (bool, error) {
	if m.ApplyDailyResetFunc != nil {
		return m.ApplyDailyResetFunc(accountID, day)
	}
	return false, errors.New("not implemented")
}

func (m *MockDatabase) ApplyMonthlyReset(accountID string, anniversary time.Time) (bool, error) {
	if m.ApplyMonthlyResetFunc != nil {
		return m.ApplyMonthlyResetFunc(accountID, anniversary)
	}
	return false, errors.New("not implemented")
}

func (m *MockDatabase) IncrementAccountUsage(accountID string, tokens, messages int) error {
	if m.IncrementAccountUsageFunc != nil {
		return m.IncrementAccountUsageFunc(accountID, tokens, messages)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) EnsureConversation(id, accountID string) (*db.Conversation, error) {
	if m.EnsureConversationFunc != nil {
		return m.EnsureConversationFunc(id, accountID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetConversation(id string) (*db.Conversation, error) {
	if m.GetConversationFunc != nil {
		return m.GetConversationFunc(id)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetConversationsByAccount(accountID string) ([]db.Conversation, error) {
	if m.GetConversationsByAccountFunc != nil {
		return m.GetConversationsByAccountFunc(accountID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) DeleteConversation(id string) error {
	if m.DeleteConversationFunc != nil {
		return m.DeleteConversationFunc(id)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) AllocateSequencePair(conversationID string) (int, int, error) {
	if m.AllocateSequencePairFunc != nil {
		return m.AllocateSequencePairFunc(conversationID)
	}
	return 0, 0, errors.New("not implemented")
}

func (m *MockDatabase) UpdateTitleIfPlaceholder(conversationID, title string) error {
	if m.UpdateTitleIfPlaceholderFunc != nil {
		return m.UpdateTitleIfPlaceholderFunc(conversationID, title)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) AppendModelHistory(conversationID, model string) error {
	if m.AppendModelHistoryFunc != nil {
		return m.AppendModelHistoryFunc(conversationID, model)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) AddMessage(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(conversationID, role, content, model, inputTokens, outputTokens, sequence)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetConversationMessages(conversationID string) ([]db.Message, error) {
	if m.GetConversationMessagesFunc != nil {
		return m.GetConversationMessagesFunc(conversationID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) UpsertUsageRecord(accountID string, day time.Time, tokens, messages int, model string, cost float64) error {
	if m.UpsertUsageRecordFunc != nil {
		return m.UpsertUsageRecordFunc(accountID, day, tokens, messages, model, cost)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) GetUsageRecord(accountID string, day time.Time) (*db.UsageRecord, error) {
	if m.GetUsageRecordFunc != nil {
		return m.GetUsageRecordFunc(accountID, day)
	}
	return nil, errors.New("not implemented")
}

// MockProvider is a mock implementation of llm.Provider for testing
type MockProvider struct {
	NameValue    string
	SupportsFunc func(model string) bool
	StreamFunc   func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error)
}

var _ llm.Provider = (*MockProvider)(nil)

func (m *MockProvider) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

func (m *MockProvider) Supports(model string) bool {
	if m.SupportsFunc != nil {
		return m.SupportsFunc(model)
	}
	return true
}

func (m *MockProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

// StaticStream builds a StreamFunc that replays fragments then a Done
// event carrying the given usage.
func StaticStream(fragments []string, usage llm.Usage) func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	return func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
		events := make(chan llm.StreamEvent)
		go func() {
			defer close(events)
			var full string
			for _, f := range fragments {
				full += f
				events <- llm.StreamEvent{Content: f}
			}
			events <- llm.StreamEvent{Done: &llm.Completion{
				Content: full,
				Model:   req.Model,
				Usage:   usage,
			}}
		}()
		return events, nil
	}
}
