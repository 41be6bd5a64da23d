package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgovernor/governor/internal/model"
)

// ChatRepo backs the chat/inbox/presence supplemental module (spec §9).
type ChatRepo struct {
	db *sqlx.DB
}

func NewChatRepo(db *sqlx.DB) *ChatRepo { return &ChatRepo{db: db} }

// AppendMessage stores a chat message, with its mentions encoded as a JSON
// array in the same row.
func (r *ChatRepo) AppendMessage(ctx context.Context, m *model.ChatMessage) error {
	mentions, err := json.Marshal(m.Mentions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, channel, author, body, mentions, created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Channel, m.Author, m.Body, string(mentions), m.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Since returns channel messages created after a given timestamp, used by
// SSE catch-up and the mention-rescue worker.
func (r *ChatRepo) Since(ctx context.Context, channel string, since time.Time, limit int) ([]*model.ChatMessage, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, channel, author, body, mentions, created_at FROM chat_messages
		WHERE channel = ? AND created_at > ? ORDER BY created_at ASC LIMIT ?`,
		channel, since.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()
	var out []*model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var mentions, createdAt string
		if err := rows.Scan(&m.ID, &m.Channel, &m.Author, &m.Body, &mentions, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mentions), &m.Mentions); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpsertSubscription records or refreshes an agent's last-read position.
func (r *ChatRepo) UpsertSubscription(ctx context.Context, s *model.InboxSubscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox_subscriptions (agent, channel, last_read_at) VALUES (?,?,?)
		ON CONFLICT(agent, channel) DO UPDATE SET last_read_at = excluded.last_read_at`,
		s.Agent, s.Channel, s.LastReadAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// LastRead returns an agent's last-read timestamp for a channel, or the
// zero time if never subscribed.
func (r *ChatRepo) LastRead(ctx context.Context, agent, channel string) (time.Time, error) {
	var s string
	err := r.db.QueryRowContext(ctx, `SELECT last_read_at FROM inbox_subscriptions WHERE agent=? AND channel=?`,
		agent, channel).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last read: %w", err)
	}
	return parseTime(s)
}

// TouchPresence records an agent's most recent observed activity kind.
func (r *ChatRepo) TouchPresence(ctx context.Context, p *model.PresenceRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO presence (agent, last_activity_at, last_kind) VALUES (?,?,?)
		ON CONFLICT(agent) DO UPDATE SET last_activity_at = excluded.last_activity_at, last_kind = excluded.last_kind`,
		p.Agent, p.LastActivityAt.UTC().Format(timeLayout), p.LastKind)
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// Presence returns an agent's last known activity, if any has been recorded.
func (r *ChatRepo) Presence(ctx context.Context, agent string) (*model.PresenceRow, error) {
	var p model.PresenceRow
	var ts string
	err := r.db.QueryRowContext(ctx, `SELECT agent, last_activity_at, last_kind FROM presence WHERE agent=?`, agent).
		Scan(&p.Agent, &ts, &p.LastKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	if p.LastActivityAt, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &p, nil
}

// StaleAssignees returns every agent whose last activity predates cutoff,
// fed into the idle-nudge worker.
func (r *ChatRepo) StaleAssignees(ctx context.Context, cutoff time.Time) ([]string, error) {
	var out []string
	err := r.db.SelectContext(ctx, &out, `SELECT agent FROM presence WHERE last_activity_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("stale assignees: %w", err)
	}
	return out, nil
}
