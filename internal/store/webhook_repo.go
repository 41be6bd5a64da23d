package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgovernor/governor/internal/model"
)

// WebhookRepo persists the durable, idempotent delivery queue and its
// attempt log, grounded on the teacher's generic repository pattern but
// specialized the way task_repo.go is (infrastructure/database/generic_repository.go).
type WebhookRepo struct {
	db *sqlx.DB
}

func NewWebhookRepo(db *sqlx.DB) *WebhookRepo { return &WebhookRepo{db: db} }

type webhookRow struct {
	ID             string         `db:"id"`
	IdempotencyKey string         `db:"idempotency_key"`
	Provider       string         `db:"provider"`
	EventType      string         `db:"event_type"`
	Payload        []byte         `db:"payload"`
	TargetURL      string         `db:"target_url"`
	Status         string         `db:"status"`
	Attempts       int            `db:"attempts"`
	MaxAttempts    int            `db:"max_attempts"`
	NextRetryAt    sql.NullString `db:"next_retry_at"`
	LastAttemptAt  sql.NullString `db:"last_attempt_at"`
	LastError      string         `db:"last_error"`
	LastStatusCode int            `db:"last_status_code"`
	DeliveredAt    sql.NullString `db:"delivered_at"`
	CreatedAt      string         `db:"created_at"`
	ExpiresAt      sql.NullString `db:"expires_at"`
	Metadata       string         `db:"metadata"`
}

func (row webhookRow) toModel() (*model.WebhookEvent, error) {
	e := &model.WebhookEvent{
		ID: row.ID, IdempotencyKey: row.IdempotencyKey, Provider: row.Provider,
		EventType: row.EventType, Payload: row.Payload, TargetURL: row.TargetURL,
		Status: model.WebhookStatus(row.Status), Attempts: row.Attempts, MaxAttempts: row.MaxAttempts,
		LastError: row.LastError, LastStatusCode: row.LastStatusCode,
	}
	var err error
	if e.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, err
	}
	if e.NextRetryAt, err = nullTime(row.NextRetryAt); err != nil {
		return nil, err
	}
	if e.LastAttemptAt, err = nullTime(row.LastAttemptAt); err != nil {
		return nil, err
	}
	if e.DeliveredAt, err = nullTime(row.DeliveredAt); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = nullTime(row.ExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.Metadata), &e.Metadata); err != nil {
		return nil, err
	}
	return e, nil
}

func nullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// Enqueue inserts a new webhook event. A conflicting idempotency_key is
// reported as ErrDuplicate so callers can treat it as already-queued
// rather than as an error (spec §4.4 "Idempotent enqueue").
var ErrDuplicate = errors.New("store: duplicate idempotency key")

func (r *WebhookRepo) Enqueue(ctx context.Context, e *model.WebhookEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, idempotency_key, provider, event_type, payload, target_url,
			status, attempts, max_attempts, next_retry_at, last_attempt_at, last_error, last_status_code,
			delivered_at, created_at, expires_at, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.IdempotencyKey, e.Provider, e.EventType, e.Payload, e.TargetURL,
		string(e.Status), e.Attempts, e.MaxAttempts, toNullString(e.NextRetryAt), toNullString(e.LastAttemptAt),
		e.LastError, e.LastStatusCode, toNullString(e.DeliveredAt), e.CreatedAt.UTC().Format(timeLayout),
		toNullString(e.ExpiresAt), string(meta))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("enqueue webhook: %w", err)
	}
	return nil
}

// GetByIdempotencyKey looks up an existing event for dedup checks.
func (r *WebhookRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.WebhookEvent, error) {
	var row webhookRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM webhook_events WHERE idempotency_key = ?`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get webhook by key: %w", err)
	}
	return row.toModel()
}

// Get fetches a webhook event by ID.
func (r *WebhookRepo) Get(ctx context.Context, id string) (*model.WebhookEvent, error) {
	var row webhookRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM webhook_events WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return row.toModel()
}

// DueForRetry returns pending/retrying events whose next_retry_at has
// elapsed, bounded to limit rows per poll (spec §4.4 delivery loop).
func (r *WebhookRepo) DueForRetry(ctx context.Context, now string, limit int) ([]*model.WebhookEvent, error) {
	var rows []webhookRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM webhook_events
		WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC LIMIT ?`,
		string(model.WebhookPending), string(model.WebhookRetrying), now, limit)
	if err != nil {
		return nil, fmt.Errorf("due for retry: %w", err)
	}
	out := make([]*model.WebhookEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ListDeadLetter returns the current DLQ contents, newest first.
func (r *WebhookRepo) ListDeadLetter(ctx context.Context) ([]*model.WebhookEvent, error) {
	var rows []webhookRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM webhook_events WHERE status = ? ORDER BY created_at DESC`,
		string(model.WebhookDeadLetter)); err != nil {
		return nil, fmt.Errorf("list dead letter: %w", err)
	}
	out := make([]*model.WebhookEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update persists the outcome of one delivery attempt.
func (r *WebhookRepo) Update(ctx context.Context, e *model.WebhookEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status=?, attempts=?, next_retry_at=?, last_attempt_at=?,
			last_error=?, last_status_code=?, delivered_at=?, metadata=? WHERE id=?`,
		string(e.Status), e.Attempts, toNullString(e.NextRetryAt), toNullString(e.LastAttemptAt),
		e.LastError, e.LastStatusCode, toNullString(e.DeliveredAt), string(meta), e.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

// AppendAttempt logs one delivery attempt for replay/audit purposes.
func (r *WebhookRepo) AppendAttempt(ctx context.Context, a *model.WebhookAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_delivery_log (id, event_id, attempt, status_code, error, created_at)
		VALUES (?,?,?,?,?,?)`,
		a.ID, a.EventID, a.Attempt, a.StatusCode, a.Error, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// AttemptDepth returns how many attempts have already been logged for an
// event in webhook_delivery_log.
func (r *WebhookRepo) AttemptDepth(ctx context.Context, eventID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM webhook_delivery_log WHERE event_id = ?`, eventID); err != nil {
		return 0, fmt.Errorf("attempt depth: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes delivered events past their retention window, run
// by the sweeper worker; events in any other status are kept.
func (r *WebhookRepo) PurgeExpired(ctx context.Context, now string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(model.WebhookDelivered), now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
