package usage

import (
	"time"

	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"

	"github.com/sirupsen/logrus"
)

// Accountant records consumption after an exchange completes: the account
// counters the quota checks read, and the per-day breakdown behind the
// usage endpoint. Estimated usage is recorded the same as reported usage.
type Accountant struct {
	db  db.Database
	now func() time.Time
}

func NewAccountant(database db.Database) *Accountant {
	return &Accountant{db: database, now: time.Now}
}

// Record books one completed exchange. messagesAdded is 1 for single-shot
// helpers and 2 for a chat exchange (user plus assistant message).
func (a *Accountant) Record(accountID, model string, u llm.Usage, messagesAdded int) error {
	if err := a.db.IncrementAccountUsage(accountID, u.TotalTokens, messagesAdded); err != nil {
		return llm.NewError(llm.KindDatabaseFailed, "failed to update account counters: %v", err)
	}

	day := a.today()
	cost := CostFor(model, u)
	if err := a.db.UpsertUsageRecord(accountID, day, u.TotalTokens, messagesAdded, model, cost); err != nil {
		return llm.NewError(llm.KindDatabaseFailed, "failed to record usage: %v", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"account_id":   accountID,
		"model":        model,
		"total_tokens": u.TotalTokens,
		"cost":         cost,
	}).Info("Usage recorded")
	return nil
}

// TodayRecord returns the account's usage breakdown for the current UTC
// day, or nil when nothing has been recorded yet.
func (a *Accountant) TodayRecord(accountID string) (*db.UsageRecord, error) {
	record, err := a.db.GetUsageRecord(accountID, a.today())
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to load usage record: %v", err)
	}
	return record, nil
}

func (a *Accountant) today() time.Time {
	now := a.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
