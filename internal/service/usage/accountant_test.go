package usage

import (
	"testing"
	"time"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostFor(t *testing.T) {
	u := llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}

	assert.InDelta(t, 0.75, CostFor("gpt-4o-mini", u), 1e-9)
	assert.InDelta(t, 18.0, CostFor("claude-sonnet-4-20250514", u), 1e-9)

	// Unknown models cost the default rate, never zero.
	assert.InDelta(t, 4.0, CostFor("some/brand-new-model", u), 1e-9)
	assert.Greater(t, CostFor("some/brand-new-model", llm.Usage{PromptTokens: 1}), 0.0)
}

func TestRecord(t *testing.T) {
	fixed := time.Date(2025, time.June, 10, 18, 30, 0, 0, time.UTC)

	var gotTokens, gotMessages int
	var gotDay time.Time
	var gotModel string
	var gotCost float64

	mockDB := &testutil.MockDatabase{
		IncrementAccountUsageFunc: func(accountID string, tokens, messages int) error {
			gotTokens, gotMessages = tokens, messages
			return nil
		},
		UpsertUsageRecordFunc: func(accountID string, day time.Time, tokens, messages int, model string, cost float64) error {
			gotDay, gotModel, gotCost = day, model, cost
			return nil
		},
	}

	accountant := NewAccountant(mockDB)
	accountant.now = func() time.Time { return fixed }

	u := llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	require.NoError(t, accountant.Record("acct-1", "gpt-4o-mini", u, 2))

	assert.Equal(t, 150, gotTokens)
	assert.Equal(t, 2, gotMessages)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), gotDay)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.InDelta(t, CostFor("gpt-4o-mini", u), gotCost, 1e-12)
}

func TestTodayRecord(t *testing.T) {
	record := &db.UsageRecord{AccountID: "acct-1", TokensUsed: 42}
	mockDB := &testutil.MockDatabase{
		GetUsageRecordFunc: func(accountID string, day time.Time) (*db.UsageRecord, error) {
			return record, nil
		},
	}

	got, err := NewAccountant(mockDB).TodayRecord("acct-1")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}
