package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/resilience"
	"github.com/opsgovernor/governor/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := store.NewWebhookRepo(sqlxDB)
	w := config.NewWatcher(config.New(), "")
	log := logging.New("webhook_test", "error", "text")
	return New(repo, eventbus.New(), log, w), mock
}

func TestHeaders_CarryRequiredSet(t *testing.T) {
	ev := &model.WebhookEvent{ID: "e1", IdempotencyKey: "k1", EventType: "task.updated", Provider: "github"}
	h := headers(ev, 3)
	assert.Equal(t, "e1", h.Get("X-Webhook-ID"))
	assert.Equal(t, "k1", h.Get("X-Idempotency-Key"))
	assert.Equal(t, "task.updated", h.Get("X-Webhook-Event"))
	assert.Equal(t, "github", h.Get("X-Webhook-Provider"))
	assert.Equal(t, "3", h.Get("X-Webhook-Attempt"))
	assert.NotEmpty(t, h.Get("X-Webhook-Timestamp"))
}

func TestBackoff_MatchesDocumentedSequence(t *testing.T) {
	// spec §8 scenario 3: delays approx 1s, 2s, 4s, 8s, 16s (+/-20%).
	initial := time.Second
	max := 16 * time.Second
	expect := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for attempt, want := range expect {
		for i := 0; i < 20; i++ {
			got := resilience.Backoff(attempt+1, initial, max, 2.0)
			lo := time.Duration(float64(want) * 0.79)
			hi := time.Duration(float64(want) * 1.21)
			assert.GreaterOrEqual(t, got, lo)
			assert.LessOrEqual(t, got, hi)
		}
	}
}

func TestBackoff_ClampsToMax(t *testing.T) {
	got := resilience.Backoff(10, time.Second, 16*time.Second, 2.0)
	assert.LessOrEqual(t, got, time.Duration(float64(16*time.Second)*1.21))
}

func TestEnqueue_DuplicateIdempotencyKeyReturnsExisting(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM webhook_events WHERE idempotency_key = \?`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "idempotency_key", "provider", "event_type", "payload", "target_url", "status",
			"attempts", "max_attempts", "next_retry_at", "last_attempt_at", "last_error", "last_status_code",
			"delivered_at", "created_at", "expires_at", "metadata",
		}).AddRow("existing-id", "k1", "github", "pr.opened", []byte("{}"), "http://x", "pending",
			0, 5, nil, nil, "", 0, nil, time.Now().UTC().Format(time.RFC3339Nano), nil, "{}"))

	got, err := e.Enqueue(ctx, "github", "pr.opened", "http://x", []byte("{}"), "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, "existing-id", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPost_Success2xxReportsNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Webhook-ID"))
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, _ := newTestEngine(t)
	ev := &model.WebhookEvent{ID: "e1", IdempotencyKey: "k1", TargetURL: srv.URL, Attempts: 1}
	status, err := e.post(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestPost_NonTwoXXIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := newTestEngine(t)
	ev := &model.WebhookEvent{ID: "e1", IdempotencyKey: "k1", TargetURL: srv.URL, Attempts: 1}
	_, err := e.post(context.Background(), ev)
	assert.Error(t, err)
}
