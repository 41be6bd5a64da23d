package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgovernor/governor/internal/model"
)

// NoiseRepo persists the per-channel noise budget counters and the
// suppression ledger (spec §4.6).
type NoiseRepo struct {
	db *sqlx.DB
}

func NewNoiseRepo(db *sqlx.DB) *NoiseRepo { return &NoiseRepo{db: db} }

// IncrementBudget bumps the message/diverted counters for a channel's
// current window, creating the row if it does not yet exist.
func (r *NoiseRepo) IncrementBudget(ctx context.Context, channel string, windowStart time.Time, diverted bool, enforcing bool) error {
	divertedDelta := 0
	if diverted {
		divertedDelta = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO noise_budget_log (channel, window_start, message_count, diverted, enforcing)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(channel, window_start) DO UPDATE SET
			message_count = message_count + 1,
			diverted = diverted + excluded.diverted,
			enforcing = excluded.enforcing`,
		channel, windowStart.UTC().Format(timeLayout), divertedDelta, boolToInt(enforcing))
	if err != nil {
		return fmt.Errorf("increment budget: %w", err)
	}
	return nil
}

// Snapshot returns the current window's counters for a channel.
func (r *NoiseRepo) Snapshot(ctx context.Context, channel string, windowStart time.Time) (*model.NoiseBudgetSnapshot, error) {
	var s model.NoiseBudgetSnapshot
	var enforcing int
	err := r.db.QueryRowContext(ctx, `
		SELECT channel, window_start, message_count, diverted, enforcing FROM noise_budget_log
		WHERE channel = ? AND window_start = ?`, channel, windowStart.UTC().Format(timeLayout)).
		Scan(&s.Channel, &s.WindowStart, &s.MessageCount, &s.Diverted, &enforcing)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NoiseBudgetSnapshot{Channel: channel, WindowStart: windowStart}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	s.Enforcing = enforcing != 0
	return &s, nil
}

// AppendSuppression records a withheld message for later audit.
func (r *NoiseRepo) AppendSuppression(ctx context.Context, e *model.SuppressionLedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_ledger (id, channel, alert_key, reason, content, created_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.Channel, e.AlertKey, e.Reason, e.Content, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append suppression: %w", err)
	}
	return nil
}

// RecentByAlertKey returns suppression entries for alert_key created after
// since, backing the sliding-window dedup check.
func (r *NoiseRepo) RecentByAlertKey(ctx context.Context, alertKey string, since time.Time) ([]*model.SuppressionLedgerEntry, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, channel, alert_key, reason, content, created_at FROM suppression_ledger
		WHERE alert_key = ? AND created_at > ? ORDER BY created_at DESC`,
		alertKey, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("recent by alert key: %w", err)
	}
	defer rows.Close()
	var out []*model.SuppressionLedgerEntry
	for rows.Next() {
		var e model.SuppressionLedgerEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Channel, &e.AlertKey, &e.Reason, &e.Content, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
