package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"llm-gateway/internal/repository/db"
)

// UpsertUsageRecord creates or bumps the per-day usage breakdown for an
// account in a single statement. The per-model count is incremented inside
// the upsert so concurrent exchanges never lose updates.
func (p *PostgresDB) UpsertUsageRecord(accountID string, day time.Time, tokens, messages int, model string, cost float64) error {
	query := `
	INSERT INTO usage_tracking (account_id, usage_date, tokens_used, messages_sent, models_used, cost_incurred)
	VALUES ($1, $2, $3, $4, jsonb_build_object($5::text, 1), $6)
	ON CONFLICT (account_id, usage_date) DO UPDATE SET
		tokens_used   = usage_tracking.tokens_used + EXCLUDED.tokens_used,
		messages_sent = usage_tracking.messages_sent + EXCLUDED.messages_sent,
		models_used   = usage_tracking.models_used ||
			jsonb_build_object($5::text, COALESCE((usage_tracking.models_used ->> $5)::int, 0) + 1),
		cost_incurred = usage_tracking.cost_incurred + EXCLUDED.cost_incurred
	`

	if _, err := p.conn.Exec(query, accountID, day, tokens, messages, model, cost); err != nil {
		return fmt.Errorf("error upserting usage record: %w", err)
	}
	return nil
}

// GetUsageRecord retrieves the usage breakdown for an account on a given day
func (p *PostgresDB) GetUsageRecord(accountID string, day time.Time) (*db.UsageRecord, error) {
	query := `
	SELECT account_id, usage_date, tokens_used, messages_sent, models_used, cost_incurred
	FROM usage_tracking
	WHERE account_id = $1 AND usage_date = $2
	`

	var rec db.UsageRecord
	var modelsJSON []byte
	err := p.conn.QueryRow(query, accountID, day).Scan(
		&rec.AccountID, &rec.Date, &rec.TokensUsed, &rec.MessagesSent, &modelsJSON, &rec.CostIncurred,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving usage record: %w", err)
	}

	if err := json.Unmarshal(modelsJSON, &rec.ModelsUsed); err != nil {
		return nil, fmt.Errorf("error decoding models_used: %w", err)
	}

	return &rec, nil
}
