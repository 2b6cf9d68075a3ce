package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const accountColumns = `id, username, COALESCE(email, ''), password_hash, tier,
	monthly_tokens_used, daily_messages_sent, billing_period_start,
	last_daily_reset, last_monthly_reset, created_at`

func scanAccount(row *sql.Row) (*db.Account, error) {
	var acct db.Account
	err := row.Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash, &acct.Tier,
		&acct.MonthlyTokensUsed, &acct.DailyMessagesSent, &acct.BillingPeriodStart,
		&acct.LastDailyReset, &acct.LastMonthlyReset, &acct.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccount retrieves an account by id. Returns nil without error when no
// such account exists.
func (p *PostgresDB) GetAccount(id string) (*db.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	acct, err := scanAccount(p.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving account: %w", err)
	}
	return acct, nil
}

// GetAccountByUsername retrieves an account by username. Returns nil without
// error when no such account exists.
func (p *PostgresDB) GetAccountByUsername(username string) (*db.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE username = $1`, accountColumns)
	acct, err := scanAccount(p.conn.QueryRow(query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving account: %w", err)
	}
	return acct, nil
}

// CreateAccount creates a new free-tier account. The billing period starts
// on the creation date.
func (p *PostgresDB) CreateAccount(username, email, passwordHash string) (*db.Account, error) {
	acctID := uuid.New().String()

	query := `
	INSERT INTO accounts (id, username, email, password_hash, tier, billing_period_start)
	VALUES ($1, $2, $3, $4, 'free', CURRENT_DATE)
	RETURNING ` + accountColumns

	acct, err := scanAccount(p.conn.QueryRow(query, acctID, username, email, passwordHash))
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"account_id": acct.ID, "username": username}).Info("Created account")
	return acct, nil
}

// ApplyDailyReset zeroes the daily message counter at most once per day.
// The reset is a single conditional update keyed on the last reset date, so
// concurrent callers cannot double-apply it.
func (p *PostgresDB) ApplyDailyReset(accountID string, day time.Time) (bool, error) {
	query := `
	UPDATE accounts
	SET daily_messages_sent = 0, last_daily_reset = $2
	WHERE id = $1 AND (last_daily_reset IS NULL OR last_daily_reset < $2)
	`

	result, err := p.conn.Exec(query, accountID, day)
	if err != nil {
		return false, fmt.Errorf("error applying daily reset: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error applying daily reset: %w", err)
	}
	return rows > 0, nil
}

// ApplyMonthlyReset zeroes the monthly token counter at most once per
// billing anniversary. Same conditional-update contract as ApplyDailyReset.
func (p *PostgresDB) ApplyMonthlyReset(accountID string, anniversary time.Time) (bool, error) {
	query := `
	UPDATE accounts
	SET monthly_tokens_used = 0, last_monthly_reset = $2
	WHERE id = $1 AND (last_monthly_reset IS NULL OR last_monthly_reset < $2)
	`

	result, err := p.conn.Exec(query, accountID, anniversary)
	if err != nil {
		return false, fmt.Errorf("error applying monthly reset: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error applying monthly reset: %w", err)
	}
	return rows > 0, nil
}

// IncrementAccountUsage adds to the consumption counters in a single
// statement, never read-modify-write in application memory.
func (p *PostgresDB) IncrementAccountUsage(accountID string, tokens, messages int) error {
	query := `
	UPDATE accounts
	SET monthly_tokens_used = monthly_tokens_used + $2,
	    daily_messages_sent = daily_messages_sent + $3
	WHERE id = $1
	`

	if _, err := p.conn.Exec(query, accountID, tokens, messages); err != nil {
		return fmt.Errorf("error incrementing account usage: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"account_id": accountID,
		"tokens":     tokens,
		"messages":   messages,
	}).Debug("Incremented account usage counters")
	return nil
}
