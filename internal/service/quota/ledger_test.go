package quota

import (
	"errors"
	"testing"
	"time"

	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"
	"llm-gateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

// freshAccount returns an account with no pending resets at testNow.
func freshAccount(tier string) *db.Account {
	today := date(2025, time.June, 10)
	anniversary := date(2025, time.May, 20)
	return &db.Account{
		ID:                 "acct-1",
		Username:           "tester",
		Tier:               tier,
		BillingPeriodStart: date(2025, time.January, 20),
		LastDailyReset:     &today,
		LastMonthlyReset:   &anniversary,
	}
}

func newTestLedger(mockDB *testutil.MockDatabase) *Ledger {
	ledger := NewLedger(mockDB)
	ledger.now = func() time.Time { return testNow }
	return ledger
}

func TestCheckAndReserve_AllowsRequestWithinLimits(t *testing.T) {
	account := freshAccount("free")
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	got, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got.ID)
}

func TestCheckAndReserve_ModelNotAllowed(t *testing.T) {
	account := freshAccount("free")
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "claude-opus-4-20250514")
	require.Error(t, err)

	var quotaErr *Error
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, llm.KindModelNotAllowed, quotaErr.Kind)
	assert.Equal(t, "free", quotaErr.Tier)
	assert.Contains(t, quotaErr.AllowedModels, "gpt-4o-mini")
	assert.NotContains(t, quotaErr.AllowedModels, "claude-opus-4-20250514")
}

func TestCheckAndReserve_DailyLimitExceeded(t *testing.T) {
	account := freshAccount("free")
	account.DailyMessagesSent = 25
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")

	var quotaErr *Error
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, llm.KindDailyLimitExceeded, quotaErr.Kind)
	assert.Equal(t, 25, quotaErr.Current)
	assert.Equal(t, 25, quotaErr.Limit)
	assert.Equal(t, date(2025, time.June, 11), quotaErr.ResetsAt)
}

func TestCheckAndReserve_MonthlyLimitExceeded(t *testing.T) {
	account := freshAccount("free")
	account.MonthlyTokensUsed = 50_000
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")

	var quotaErr *Error
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, llm.KindMonthlyLimitExceeded, quotaErr.Kind)
	assert.Equal(t, date(2025, time.June, 20), quotaErr.ResetsAt)
}

func TestCheckAndReserve_AppliesPendingDailyReset(t *testing.T) {
	yesterday := date(2025, time.June, 9)
	stale := freshAccount("free")
	stale.LastDailyReset = &yesterday
	stale.DailyMessagesSent = 25

	today := date(2025, time.June, 10)
	fresh := freshAccount("free")

	resetCalled := false
	loads := 0
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) {
			loads++
			if loads == 1 {
				return stale, nil
			}
			return fresh, nil
		},
		ApplyDailyResetFunc: func(accountID string, day time.Time) (bool, error) {
			resetCalled = true
			assert.Equal(t, today, day)
			return true, nil
		},
	}

	got, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")
	require.NoError(t, err)
	assert.True(t, resetCalled)
	assert.Equal(t, 2, loads, "account must be reloaded after a reset")
	assert.Equal(t, 0, got.DailyMessagesSent)
}

func TestCheckAndReserve_LostResetRaceStillReloads(t *testing.T) {
	yesterday := date(2025, time.June, 9)
	stale := freshAccount("free")
	stale.LastDailyReset = &yesterday

	loads := 0
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) {
			loads++
			if loads == 1 {
				return stale, nil
			}
			return freshAccount("free"), nil
		},
		ApplyDailyResetFunc: func(accountID string, day time.Time) (bool, error) {
			// A concurrent request already applied this reset.
			return false, nil
		},
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestCheckAndReserve_AppliesPendingMonthlyReset(t *testing.T) {
	april := date(2025, time.April, 20)
	stale := freshAccount("free")
	stale.LastMonthlyReset = &april
	stale.MonthlyTokensUsed = 50_000

	resetAnniversary := time.Time{}
	loads := 0
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) {
			loads++
			if loads == 1 {
				return stale, nil
			}
			return freshAccount("free"), nil
		},
		ApplyMonthlyResetFunc: func(accountID string, anniversary time.Time) (bool, error) {
			resetAnniversary = anniversary
			return true, nil
		},
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.May, 20), resetAnniversary)
	assert.Equal(t, 2, loads)
}

func TestCheckAndReserve_UnknownTierFallsBackToFree(t *testing.T) {
	account := freshAccount("platinum")
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o")

	var quotaErr *Error
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, llm.KindModelNotAllowed, quotaErr.Kind)
	assert.Equal(t, "free", quotaErr.Tier)
}

func TestCheckAndReserve_ProTierIsUnlimited(t *testing.T) {
	account := freshAccount("pro")
	account.MonthlyTokensUsed = 10_000_000
	account.DailyMessagesSent = 5_000
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) { return account, nil },
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "claude-opus-4-20250514")
	require.NoError(t, err)
}

func TestCheckAndReserve_DatabaseError(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		GetAccountFunc: func(id string) (*db.Account, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := newTestLedger(mockDB).CheckAndReserve("acct-1", "gpt-4o-mini")

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.KindDatabaseFailed, llmErr.Kind)
}
