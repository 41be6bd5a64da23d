package model

import "time"

// WebhookStatus enumerates delivery lifecycle states (spec §3 WebhookEvent).
type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "pending"
	WebhookDelivering WebhookStatus = "delivering"
	WebhookDelivered  WebhookStatus = "delivered"
	WebhookRetrying   WebhookStatus = "retrying"
	WebhookDeadLetter WebhookStatus = "dead_letter"
)

// WebhookEvent is a durable, idempotent delivery queue row.
type WebhookEvent struct {
	ID              string        `db:"id" json:"id"`
	IdempotencyKey  string        `db:"idempotency_key" json:"idempotency_key"`
	Provider        string        `db:"provider" json:"provider"`
	EventType       string        `db:"event_type" json:"event_type"`
	Payload         []byte        `db:"payload" json:"-"`
	TargetURL       string        `db:"target_url" json:"target_url"`
	Status          WebhookStatus `db:"status" json:"status"`
	Attempts        int           `db:"attempts" json:"attempts"`
	MaxAttempts     int           `db:"max_attempts" json:"max_attempts"`
	NextRetryAt     *time.Time    `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastAttemptAt   *time.Time    `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError       string        `db:"last_error" json:"last_error,omitempty"`
	LastStatusCode  int           `db:"last_status_code" json:"last_status_code,omitempty"`
	DeliveredAt     *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt       *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	Metadata        Metadata      `db:"-" json:"metadata,omitempty"`
}

// WebhookAttempt is one logged delivery attempt, used for replay auditing.
type WebhookAttempt struct {
	ID         string    `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"event_id"`
	Attempt    int       `db:"attempt" json:"attempt"`
	StatusCode int       `db:"status_code" json:"status_code"`
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
