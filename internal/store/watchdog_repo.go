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

// WatchdogRepo backs the background-worker suite's persisted side tables:
// escalations, recurring task definitions, and calendar reminders (spec
// §4.3, §3's RecurringTaskDef/CalendarEvent/Escalation).
type WatchdogRepo struct {
	db *sqlx.DB
}

func NewWatchdogRepo(db *sqlx.DB) *WatchdogRepo { return &WatchdogRepo{db: db} }

// AppendEscalation logs a worker-fired nudge/escalation, which doubles as
// the per-agent cooldown ledger (last-fired lookup below).
func (r *WatchdogRepo) AppendEscalation(ctx context.Context, e *model.Escalation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO escalations (id, agent, kind, detail, created_at) VALUES (?,?,?,?,?)`,
		e.ID, e.Agent, e.Kind, e.Detail, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append escalation: %w", err)
	}
	return nil
}

// LastEscalation returns the most recent escalation of a given kind for an
// agent, or nil if none has ever fired — the cooldown check every
// idle/cadence/mention worker runs before re-firing.
func (r *WatchdogRepo) LastEscalation(ctx context.Context, agent, kind string) (*model.Escalation, error) {
	var row struct {
		ID        string `db:"id"`
		Agent     string `db:"agent"`
		Kind      string `db:"kind"`
		Detail    string `db:"detail"`
		CreatedAt string `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, agent, kind, detail, created_at FROM escalations
		WHERE agent = ? AND kind = ? ORDER BY created_at DESC LIMIT 1`, agent, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last escalation: %w", err)
	}
	createdAt, perr := parseTime(row.CreatedAt)
	if perr != nil {
		return nil, perr
	}
	return &model.Escalation{ID: row.ID, Agent: row.Agent, Kind: row.Kind, Detail: row.Detail, CreatedAt: createdAt}, nil
}

// RecurringTasks returns every configured recurring task definition.
func (r *WatchdogRepo) RecurringTasks(ctx context.Context) ([]*model.RecurringTaskDef, error) {
	var rows []struct {
		ID       string `db:"id"`
		CronExpr string `db:"cron_expr"`
		Title    string `db:"title"`
		Type     string `db:"type"`
		TeamID   string `db:"team_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, cron_expr, title, type, team_id FROM recurring_tasks`); err != nil {
		return nil, fmt.Errorf("recurring tasks: %w", err)
	}
	out := make([]*model.RecurringTaskDef, 0, len(rows))
	for _, row := range rows {
		out = append(out, &model.RecurringTaskDef{
			ID: row.ID, CronExpr: row.CronExpr, Title: row.Title,
			Type: model.TaskType(row.Type), TeamID: row.TeamID,
		})
	}
	return out, nil
}

// DueReminders returns undelivered calendar events whose RemindAt has
// elapsed, the reminder engine's poll query.
func (r *WatchdogRepo) DueReminders(ctx context.Context, now time.Time) ([]*model.CalendarEvent, error) {
	var rows []struct {
		ID        string `db:"id"`
		Title     string `db:"title"`
		RemindAt  string `db:"remind_at"`
		Delivered int    `db:"delivered"`
		TargetID  string `db:"target_id"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, title, remind_at, delivered, target_id FROM calendar_events
		WHERE delivered = 0 AND remind_at <= ? ORDER BY remind_at ASC`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	out := make([]*model.CalendarEvent, 0, len(rows))
	for _, row := range rows {
		remindAt, perr := parseTime(row.RemindAt)
		if perr != nil {
			return nil, perr
		}
		out = append(out, &model.CalendarEvent{
			ID: row.ID, Title: row.Title, RemindAt: remindAt,
			Delivered: row.Delivered != 0, TargetID: row.TargetID,
		})
	}
	return out, nil
}

// MarkReminderDelivered flags a calendar event as sent so the poll never
// redelivers it.
func (r *WatchdogRepo) MarkReminderDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE calendar_events SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminder delivered: %w", err)
	}
	return nil
}
