package quota

import (
	"fmt"
	"time"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/internal/service/llm"

	"github.com/sirupsen/logrus"
)

// Error is a quota denial with everything a client needs to recover:
// which limit was hit, where consumption stands, and when it resets.
type Error struct {
	Kind          llm.ErrorKind
	Message       string
	Tier          string
	AllowedModels []string
	Current       int
	Limit         int
	ResetsAt      time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Ledger enforces per-account limits. Counter resets are lazy: they happen
// on the first check after a boundary is crossed, through conditional
// updates so concurrent checks apply each reset at most once.
type Ledger struct {
	db  db.Database
	now func() time.Time
}

func NewLedger(database db.Database) *Ledger {
	return &Ledger{db: database, now: time.Now}
}

// CheckAndReserve loads the account, applies any pending daily/monthly
// resets, and verifies the request is within plan before any tokens are
// spent. The returned account reflects post-reset counters.
func (l *Ledger) CheckAndReserve(accountID, model string) (*db.Account, error) {
	account, err := l.db.GetAccount(accountID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to load account: %v", err)
	}
	if account == nil {
		return nil, llm.NewError(llm.KindAuthenticationFailed, "account not found")
	}

	now := l.now().UTC()

	account, err = l.applyResets(account, now)
	if err != nil {
		return nil, err
	}

	tier, limits := config.LimitsForTier(account.Tier)

	if !limits.AllowsModel(model) {
		return nil, &Error{
			Kind:          llm.KindModelNotAllowed,
			Message:       fmt.Sprintf("model %q is not included in the %s tier", model, tier),
			Tier:          string(tier),
			AllowedModels: limits.AllowedModels,
		}
	}

	if limits.DailyMessageLimit != config.Unlimited && account.DailyMessagesSent >= limits.DailyMessageLimit {
		return nil, &Error{
			Kind:     llm.KindDailyLimitExceeded,
			Message:  fmt.Sprintf("daily message limit of %d reached", limits.DailyMessageLimit),
			Tier:     string(tier),
			Current:  account.DailyMessagesSent,
			Limit:    limits.DailyMessageLimit,
			ResetsAt: NextMidnightUTC(now),
		}
	}

	if limits.MonthlyTokenLimit != config.Unlimited && account.MonthlyTokensUsed >= limits.MonthlyTokenLimit {
		return nil, &Error{
			Kind:     llm.KindMonthlyLimitExceeded,
			Message:  fmt.Sprintf("monthly token limit of %d reached", limits.MonthlyTokenLimit),
			Tier:     string(tier),
			Current:  account.MonthlyTokensUsed,
			Limit:    limits.MonthlyTokenLimit,
			ResetsAt: NextAnniversary(account.BillingPeriodStart, now),
		}
	}

	return account, nil
}

// applyResets rolls the counters forward past any boundaries crossed since
// the last check. Reloads the account only when a reset actually landed.
func (l *Ledger) applyResets(account *db.Account, now time.Time) (*db.Account, error) {
	today := truncateToDay(now)
	reloaded := false

	if account.LastDailyReset == nil || account.LastDailyReset.Before(today) {
		applied, err := l.db.ApplyDailyReset(account.ID, today)
		if err != nil {
			return nil, llm.NewError(llm.KindDatabaseFailed, "failed to apply daily reset: %v", err)
		}
		if applied {
			logger.Log.WithFields(logrus.Fields{
				"account_id": account.ID,
				"day":        today.Format("2006-01-02"),
			}).Info("Daily message counter reset")
		}
		reloaded = true
	}

	anniversary := LastAnniversary(account.BillingPeriodStart, now)
	if account.LastMonthlyReset == nil || account.LastMonthlyReset.Before(anniversary) {
		applied, err := l.db.ApplyMonthlyReset(account.ID, anniversary)
		if err != nil {
			return nil, llm.NewError(llm.KindDatabaseFailed, "failed to apply monthly reset: %v", err)
		}
		if applied {
			logger.Log.WithFields(logrus.Fields{
				"account_id":  account.ID,
				"anniversary": anniversary.Format("2006-01-02"),
			}).Info("Monthly token counter reset")
		}
		reloaded = true
	}

	if !reloaded {
		return account, nil
	}

	// Re-read so the checks below see the post-reset counters, including
	// resets applied by a concurrent winner.
	fresh, err := l.db.GetAccount(account.ID)
	if err != nil {
		return nil, llm.NewError(llm.KindDatabaseFailed, "failed to reload account after reset: %v", err)
	}
	return fresh, nil
}
