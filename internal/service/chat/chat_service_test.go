package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"llm-gateway/internal/app"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/service/quota"
	"llm-gateway/internal/testutil"
)

func freshAccount() *db.Account {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	return &db.Account{
		ID:                 "acct-1",
		Username:           "tester",
		Tier:               "pro",
		BillingPeriodStart: today.AddDate(0, -2, 0),
		LastDailyReset:     &today,
		LastMonthlyReset:   &today,
	}
}

func newTestService(mockDB *testutil.MockDatabase, provider llm.Provider) *ChatService {
	return NewChatService(app.NewConfig(mockDB, nil), llm.NewRegistryWithProviders(provider))
}

func validRequest() SendMessageRequest {
	return SendMessageRequest{
		ConversationID: "3f2e6d4c-8a1b-4c5d-9e7f-2a6b8c0d1e3f",
		Model:          "gpt-4o-mini",
		Messages:       []llm.Message{{Role: "user", Content: "Hello, world!"}},
		AccountID:      "acct-1",
	}
}

// wireQuota fills the mocks the ledger touches for an account with room left.
func wireQuota(mockDB *testutil.MockDatabase) {
	mockDB.GetAccountFunc = func(id string) (*db.Account, error) {
		return freshAccount(), nil
	}
	mockDB.ApplyDailyResetFunc = func(accountID string, day time.Time) (bool, error) { return false, nil }
	mockDB.ApplyMonthlyResetFunc = func(accountID string, anniversary time.Time) (bool, error) { return false, nil }
}

func TestSendMessageStream_Success(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)

	mockDB.EnsureConversationFunc = func(id, accountID string) (*db.Conversation, error) {
		return &db.Conversation{ID: id, AccountID: accountID, Title: "New conversation"}, nil
	}
	mockDB.AllocateSequencePairFunc = func(conversationID string) (int, int, error) {
		return 7, 8, nil
	}

	type savedMessage struct {
		role     string
		content  string
		model    string
		sequence int
	}
	var saved []savedMessage
	mockDB.AddMessageFunc = func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
		saved = append(saved, savedMessage{role, content, model, sequence})
		return &db.Message{ID: "msg-" + role, Role: role, SequenceNumber: sequence}, nil
	}

	var recordedTokens, recordedMessages int
	mockDB.IncrementAccountUsageFunc = func(accountID string, tokens, messages int) error {
		recordedTokens, recordedMessages = tokens, messages
		return nil
	}
	var usageDay time.Time
	mockDB.UpsertUsageRecordFunc = func(accountID string, day time.Time, tokens, messages int, model string, cost float64) error {
		usageDay = day
		return nil
	}

	var titleSet string
	mockDB.UpdateTitleIfPlaceholderFunc = func(conversationID, title string) error {
		titleSet = title
		return nil
	}
	var historyModel string
	mockDB.AppendModelHistoryFunc = func(conversationID, model string) error {
		historyModel = model
		return nil
	}

	provider := &testutil.MockProvider{
		StreamFunc: testutil.StaticStream([]string{"Hi ", "there!"}, llm.Usage{
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15,
		}),
	}

	frames, err := newTestService(mockDB, provider).SendMessageStream(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("SendMessageStream() error = %v", err)
	}

	var contents []string
	var done *DoneFrame
	for frame := range frames {
		switch {
		case frame.Err != nil:
			t.Fatalf("unexpected error frame: %v", frame.Err)
		case frame.Done != nil:
			done = frame.Done
		default:
			contents = append(contents, frame.Content)
		}
	}

	if len(contents) != 2 {
		t.Errorf("expected 2 content frames, got %v", contents)
	}
	if done == nil {
		t.Fatal("expected a done frame")
	}
	if done.Content != "Hi there!" {
		t.Errorf("done content = %q", done.Content)
	}
	if done.UserMessageID != "msg-user" || done.AssistantMessageID != "msg-assistant" {
		t.Errorf("message ids = %q / %q", done.UserMessageID, done.AssistantMessageID)
	}

	if len(saved) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(saved))
	}
	if saved[0].role != "user" || saved[0].sequence != 7 || saved[0].model != "" {
		t.Errorf("user message persisted wrong: %+v", saved[0])
	}
	if saved[1].role != "assistant" || saved[1].sequence != 8 || saved[1].model != "gpt-4o-mini" {
		t.Errorf("assistant message persisted wrong: %+v", saved[1])
	}

	if recordedTokens != 15 || recordedMessages != 2 {
		t.Errorf("usage recorded %d tokens / %d messages, want 15 / 2", recordedTokens, recordedMessages)
	}
	if usageDay.IsZero() {
		t.Error("daily usage record was never written")
	}
	if titleSet != "Hello, world!" {
		t.Errorf("title = %q, want the first user message", titleSet)
	}
	if historyModel != "gpt-4o-mini" {
		t.Errorf("model history got %q", historyModel)
	}
}

func TestSendMessageStream_QuotaDenialBeforeAnyPersistence(t *testing.T) {
	account := freshAccount()
	account.Tier = "free"
	account.DailyMessagesSent = 25

	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
		AddMessageFunc: func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
			t.Fatal("nothing may be persisted on a quota denial")
			return nil, nil
		},
	}

	_, err := newTestService(mockDB, &testutil.MockProvider{}).SendMessageStream(context.Background(), validRequest())

	var quotaErr *quota.Error
	if !errors.As(err, &quotaErr) || quotaErr.Kind != llm.KindDailyLimitExceeded {
		t.Fatalf("expected DAILY_LIMIT_EXCEEDED, got %v", err)
	}
}

func TestSendMessageStream_InvalidRequest(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) {
			t.Fatal("validation failures must not reach the database")
			return nil, nil
		},
	}

	req := validRequest()
	req.Messages = []llm.Message{{Role: "assistant", Content: "I speak first"}}

	_, err := newTestService(mockDB, &testutil.MockProvider{}).SendMessageStream(context.Background(), req)

	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Kind != llm.KindInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestSendMessageStream_OwnershipViolation(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)
	mockDB.EnsureConversationFunc = func(id, accountID string) (*db.Conversation, error) {
		return &db.Conversation{ID: id, AccountID: "someone-else"}, nil
	}

	_, err := newTestService(mockDB, &testutil.MockProvider{}).SendMessageStream(context.Background(), validRequest())

	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Kind != llm.KindAuthenticationFailed {
		t.Fatalf("expected AUTHENTICATION_FAILED, got %v", err)
	}
}

func TestSendMessageStream_AccountingFailureStillDeliversDone(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)
	mockDB.EnsureConversationFunc = func(id, accountID string) (*db.Conversation, error) {
		return &db.Conversation{ID: id, AccountID: accountID, Title: "New conversation"}, nil
	}
	mockDB.AllocateSequencePairFunc = func(conversationID string) (int, int, error) { return 1, 2, nil }

	var savedRoles []string
	mockDB.AddMessageFunc = func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
		savedRoles = append(savedRoles, role)
		return &db.Message{ID: "msg-" + role}, nil
	}
	mockDB.IncrementAccountUsageFunc = func(accountID string, tokens, messages int) error {
		return errors.New("usage_tracking write failed")
	}
	var titleSet string
	mockDB.UpdateTitleIfPlaceholderFunc = func(conversationID, title string) error {
		titleSet = title
		return nil
	}
	mockDB.AppendModelHistoryFunc = func(conversationID, model string) error { return nil }

	provider := &testutil.MockProvider{
		StreamFunc: testutil.StaticStream([]string{"answer"}, llm.Usage{
			PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4,
		}),
	}

	frames, err := newTestService(mockDB, provider).SendMessageStream(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("SendMessageStream() error = %v", err)
	}

	var done *DoneFrame
	for frame := range frames {
		if frame.Err != nil {
			t.Fatalf("accounting failure must not surface to the caller, got terminal error frame: %v", frame.Err)
		}
		if frame.Done != nil {
			done = frame.Done
		}
	}

	if done == nil {
		t.Fatal("expected a done frame despite the accounting failure")
	}
	if done.Content != "answer" {
		t.Errorf("done content = %q", done.Content)
	}
	if len(savedRoles) != 2 || savedRoles[1] != "assistant" {
		t.Errorf("both messages must be persisted, got %v", savedRoles)
	}
	if titleSet == "" {
		t.Error("title update must still run after an accounting failure")
	}
}

func TestSendMessageStream_MidStreamFailureKeepsUserMessageOnly(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)
	mockDB.EnsureConversationFunc = func(id, accountID string) (*db.Conversation, error) {
		return &db.Conversation{ID: id, AccountID: accountID}, nil
	}
	mockDB.AllocateSequencePairFunc = func(conversationID string) (int, int, error) { return 1, 2, nil }

	var savedRoles []string
	mockDB.AddMessageFunc = func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
		savedRoles = append(savedRoles, role)
		return &db.Message{ID: "msg-" + role}, nil
	}
	mockDB.IncrementAccountUsageFunc = func(accountID string, tokens, messages int) error {
		t.Error("usage must not be recorded for a failed stream")
		return nil
	}

	provider := &testutil.MockProvider{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			events := make(chan llm.StreamEvent)
			go func() {
				defer close(events)
				events <- llm.StreamEvent{Content: "partial "}
				events <- llm.StreamEvent{Err: llm.NewError(llm.KindProviderError, "upstream hiccup")}
			}()
			return events, nil
		},
	}

	frames, err := newTestService(mockDB, provider).SendMessageStream(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("SendMessageStream() error = %v", err)
	}

	var gotErr *llm.Error
	for frame := range frames {
		if frame.Err != nil {
			gotErr = frame.Err
		}
		if frame.Done != nil {
			t.Fatal("failed stream must not produce a done frame")
		}
	}

	if gotErr == nil || gotErr.Kind != llm.KindProviderError {
		t.Fatalf("expected terminal PROVIDER_ERROR frame, got %v", gotErr)
	}
	if len(savedRoles) != 1 || savedRoles[0] != "user" {
		t.Errorf("only the user message may be persisted, got %v", savedRoles)
	}
}

func TestSendMessageStream_CancellationClosesWithoutTerminalFrame(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)
	mockDB.EnsureConversationFunc = func(id, accountID string) (*db.Conversation, error) {
		return &db.Conversation{ID: id, AccountID: accountID}, nil
	}
	mockDB.AllocateSequencePairFunc = func(conversationID string) (int, int, error) { return 1, 2, nil }

	var savedRoles []string
	mockDB.AddMessageFunc = func(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
		savedRoles = append(savedRoles, role)
		return &db.Message{ID: "msg-" + role}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	provider := &testutil.MockProvider{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			events := make(chan llm.StreamEvent)
			go func() {
				defer close(events)
				events <- llm.StreamEvent{Content: "part"}
				<-ctx.Done()
			}()
			return events, nil
		},
	}

	frames, err := newTestService(mockDB, provider).SendMessageStream(ctx, validRequest())
	if err != nil {
		t.Fatalf("SendMessageStream() error = %v", err)
	}

	if frame := <-frames; frame.Content != "part" {
		t.Fatalf("expected a content frame first, got %+v", frame)
	}
	cancel()

	for frame := range frames {
		if frame.Done != nil || frame.Err != nil {
			t.Fatalf("cancelled stream must close without a terminal frame, got %+v", frame)
		}
	}
	if len(savedRoles) != 1 || savedRoles[0] != "user" {
		t.Errorf("cancellation must not persist an assistant message, got %v", savedRoles)
	}
}

func TestComplete_DrainsStreamAndBooksSingleMessage(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)

	var recordedMessages int
	mockDB.IncrementAccountUsageFunc = func(accountID string, tokens, messages int) error {
		recordedMessages = messages
		return nil
	}
	mockDB.UpsertUsageRecordFunc = func(accountID string, day time.Time, tokens, messages int, model string, cost float64) error {
		return nil
	}

	provider := &testutil.MockProvider{
		StreamFunc: testutil.StaticStream([]string{"improved prompt"}, llm.Usage{
			PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24,
		}),
	}

	service := newTestService(mockDB, provider)
	completion, err := service.Complete(context.Background(), "acct-1", "gpt-4o-mini",
		[]llm.Message{{Role: "user", Content: "fix this"}}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Content != "improved prompt" {
		t.Errorf("content = %q", completion.Content)
	}
	if recordedMessages != 1 {
		t.Errorf("helper calls count as 1 message, recorded %d", recordedMessages)
	}
}

func TestComplete_AccountingFailureStillReturnsCompletion(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	wireQuota(mockDB)
	mockDB.IncrementAccountUsageFunc = func(accountID string, tokens, messages int) error {
		return errors.New("usage_tracking write failed")
	}

	provider := &testutil.MockProvider{
		StreamFunc: testutil.StaticStream([]string{"still here"}, llm.Usage{
			PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4,
		}),
	}

	completion, err := newTestService(mockDB, provider).Complete(context.Background(), "acct-1", "gpt-4o-mini",
		[]llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("accounting failure must not fail the request, got %v", err)
	}
	if completion.Content != "still here" {
		t.Errorf("content = %q", completion.Content)
	}
}

// Sanity check that the validator the service embeds matches the shared one.
func TestNewChatService(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	service := newTestService(mockDB, &testutil.MockProvider{})

	if service.db == nil || service.registry == nil {
		t.Fatal("expected dependencies to be set")
	}
	if service.validator == nil {
		t.Fatal("expected validator to be set")
	}
	if err := service.validator.ValidateModel(""); err == nil {
		t.Error("embedded validator must reject empty model")
	}
}
