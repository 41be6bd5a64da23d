package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgovernor/governor/internal/chat"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/webhook"
)

func newTestSuite(t *testing.T) (*Suite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	tasks := store.NewTaskRepo(sqlxDB)
	audit := store.NewAuditRepo(sqlxDB)
	wd := store.NewWatchdogRepo(sqlxDB)
	chatRepo := store.NewChatRepo(sqlxDB)
	whRepo := store.NewWebhookRepo(sqlxDB)

	bus := eventbus.New()
	w := config.NewWatcher(config.New(), "")
	log := logging.New("watchdog_test", "error", "text")
	chatSvc := chat.New(chatRepo, bus)
	whEngine := webhook.New(whRepo, bus, log, w)

	return New(tasks, audit, wd, chatSvc, bus, whEngine, w, log), mock
}

var taskColumns = []string{
	"id", "title", "description", "type", "status", "priority", "assignee", "reviewer",
	"done_criteria", "created_by", "created_at", "updated_at", "blocked_by", "tags", "team_id", "metadata",
}

func taskRow(id string, updatedAt time.Time) []driverValue {
	return []driverValue{
		id, "title-" + id, "", "bug", "doing", "P1", "kai", "",
		"[]", "kai", updatedAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano), "[]", "[]", "", "{}",
	}
}

type driverValue = interface{}

func TestCadenceTick_DeterministicOrderingByTaskID(t *testing.T) {
	s, mock := newTestSuite(t)
	now := time.Now()
	stale := now.Add(-3 * time.Hour)

	rows := sqlmock.NewRows(taskColumns).
		AddRow(taskRow("task-zzz", stale)...).
		AddRow(taskRow("task-aaa", stale)...)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE status = \? ORDER BY updated_at DESC`).
		WithArgs("doing").WillReturnRows(rows)
	mock.ExpectQuery(`SELECT id, agent, kind, detail, created_at FROM escalations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent", "kind", "detail", "created_at"}))
	mock.ExpectExec(`INSERT INTO escalations`).WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := s.CadenceTick(context.Background(), now, Opts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "task-aaa", got[0].TaskID)
	assert.Equal(t, "task-zzz", got[1].TaskID)
}

func TestCadenceTick_DryRunTakesNoAction(t *testing.T) {
	s, mock := newTestSuite(t)
	now := time.Now()
	stale := now.Add(-3 * time.Hour)

	rows := sqlmock.NewRows(taskColumns).AddRow(taskRow("task-aaa", stale)...)
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE status = \? ORDER BY updated_at DESC`).
		WithArgs("doing").WillReturnRows(rows)

	got, err := s.CadenceTick(context.Background(), now, Opts{DryRun: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
