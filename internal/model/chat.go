package model

import "time"

// ChatMessage is an append-only chat log row (SPEC_FULL §9).
type ChatMessage struct {
	ID        string    `db:"id" json:"id"`
	Channel   string    `db:"channel" json:"channel"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body"`
	Mentions  []string  `db:"-" json:"mentions,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InboxSubscription tracks an agent's last-read position in a channel.
type InboxSubscription struct {
	Agent      string    `db:"agent" json:"agent"`
	Channel    string    `db:"channel" json:"channel"`
	LastReadAt time.Time `db:"last_read_at" json:"last_read_at"`
}

// PresenceRow tracks an agent's most recent observed activity.
type PresenceRow struct {
	Agent          string    `db:"agent" json:"agent"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	LastKind       string    `db:"last_kind" json:"last_kind"` // message | comment | status_change
}

// SuppressionLedgerEntry records a withheld automated message, enabling
// later audit (spec §4.6, glossary "Suppression ledger").
type SuppressionLedgerEntry struct {
	ID        string    `db:"id" json:"id"`
	Channel   string    `db:"channel" json:"channel"`
	AlertKey  string    `db:"alert_key" json:"alert_key"`
	Reason    string    `db:"reason" json:"reason"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NoiseBudgetSnapshot is a point-in-time per-channel budget read.
type NoiseBudgetSnapshot struct {
	Channel       string    `db:"channel" json:"channel"`
	WindowStart   time.Time `db:"window_start" json:"window_start"`
	MessageCount  int       `db:"message_count" json:"message_count"`
	Diverted      int       `db:"diverted" json:"diverted"`
	Enforcing     bool      `db:"enforcing" json:"enforcing"`
}

// Escalation is produced by the idle-nudge/cadence/mention-rescue workers
// when a nudge crosses into escalation territory.
type Escalation struct {
	ID        string    `db:"id" json:"id"`
	Agent     string    `db:"agent" json:"agent"`
	Kind      string    `db:"kind" json:"kind"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RecurringTaskDef describes a cron-scheduled task template.
type RecurringTaskDef struct {
	ID       string `db:"id" json:"id"`
	CronExpr string `db:"cron_expr" json:"cron_expr"`
	Title    string `db:"title" json:"title"`
	Type     TaskType `db:"type" json:"type"`
	TeamID   string `db:"team_id" json:"team_id,omitempty"`
}

// CalendarEvent backs the reminder engine.
type CalendarEvent struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	RemindAt  time.Time `db:"remind_at" json:"remind_at"`
	Delivered bool      `db:"delivered" json:"delivered"`
	TargetID  string    `db:"target_id" json:"target_id,omitempty"`
}
