package task

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	tasks := store.NewTaskRepo(sqlxDB)
	audit := store.NewAuditRepo(sqlxDB)
	reflections := store.NewReflectionRepo(sqlxDB)
	w := config.NewWatcher(config.New(), "")
	log := logging.New("task_test", "error", "text")
	return New(tasks, audit, reflections, eventbus.New(), log, w, nil), mock
}

var taskCols = []string{
	"id", "title", "description", "type", "status", "priority", "assignee", "reviewer",
	"done_criteria", "created_by", "created_at", "updated_at", "blocked_by", "tags", "team_id", "metadata",
}

func taskRow(id string, status model.TaskStatus, reviewer, assignee string) []driverValue {
	return []driverValue{
		id, "Fix login SSO state handling", "", "bug", string(status), "P1", assignee, reviewer,
		`["SSO callback handles missing state"]`, "link", time.Now().UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano), "[]", "[]", "", "{}",
	}
}

type driverValue = any

// TestApply_UnauthorizedApproval covers spec §8 scenario 2 through the full
// engine: an actor other than the designated reviewer submits
// reviewer_approved=true and is rejected before anything is persisted.
func TestApply_UnauthorizedApproval(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id LIKE \?`).
		WithArgs("task1%").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskRow("task1", model.StatusValidating, "kai", "link")...))

	_, err := e.Apply(ctx, "task1", &model.Patch{
		Actor:    "sage",
		Metadata: model.Metadata{"reviewer_approved": true},
	})

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindAuthorization, ae.Kind)
	assert.Equal(t, "reviewer_identity", ae.Gate)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestApply_CloseGateViolation covers spec §8 scenario 5: closing a task
// with an empty artifacts list is rejected with gate=artifacts and nothing
// is persisted.
func TestApply_CloseGateViolation(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()
	status := model.StatusDone

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id LIKE \?`).
		WithArgs("task1%").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskRow("task1", model.StatusValidating, "kai", "link")...))

	_, err := e.Apply(ctx, "task1", &model.Patch{
		Actor:  "link",
		Status: &status,
	})

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "artifacts", ae.Gate)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestApply_DoingStampsBranchAndPersists covers the todo->doing leg of spec
// §8 scenario 1: a successful mutation stamps a branch name, auto-defaults
// the model, and persists the update.
func TestApply_DoingStampsBranchAndPersists(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()
	status := model.StatusDoing
	assignee := "link"

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id LIKE \?`).
		WithArgs("task1%").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskRow("task1", model.StatusTodo, "kai", "")...))
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE assignee = \?`).
		WithArgs("link", string(model.StatusDoing)).
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectQuery(`SELECT done_tasks_since_reflection, last_reflection_at`).
		WithArgs("link").
		WillReturnRows(sqlmock.NewRows([]string{"done_tasks_since_reflection", "last_reflection_at"}))
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE assignee = \?`).
		WithArgs("link", string(model.StatusDoing)).
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectExec(`UPDATE tasks SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO task_history`).WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := e.Apply(ctx, "task1", &model.Patch{
		Actor:    "link",
		Status:   &status,
		Assignee: &assignee,
	})
	require.NoError(t, err)
	assert.Equal(t, "link/task-task1", got.Metadata["branch"])
	assert.Equal(t, "claude-sonnet-4", got.Metadata["model"])
	require.NoError(t, mock.ExpectationsWereMet())
}
