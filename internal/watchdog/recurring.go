package watchdog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/opsgovernor/governor/internal/model"
)

// RecurringScheduler drives recurring task creation off the cron
// expressions stored in recurring_tasks, reusing robfig/cron's standard
// five-field parser instead of hand-rolling interval arithmetic for
// "every Monday at 9am"-style schedules (spec §4.3 "recurring task
// creation runs on its own schedule, independent of the tick-based
// watchdog workers").
type RecurringScheduler struct {
	suite *Suite
	cron  *cron.Cron
}

func NewRecurringScheduler(suite *Suite) *RecurringScheduler {
	return &RecurringScheduler{suite: suite, cron: cron.New()}
}

// Start loads every recurring_tasks row once and registers its cron
// expression; definitions are read at startup, matching the fixed-
// definition scheduling model the rest of the worker suite uses.
func (rs *RecurringScheduler) Start(ctx context.Context) error {
	defs, err := rs.suite.watchdog.RecurringTasks(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		def := def
		if _, err := rs.cron.AddFunc(def.CronExpr, func() { rs.create(ctx, def) }); err != nil {
			rs.suite.log.WithFields(map[string]interface{}{"recurring_task": def.ID, "cron_expr": def.CronExpr}).
				WithError(err).Warn("invalid cron expression, skipping recurring task")
		}
	}
	rs.cron.Start()
	return nil
}

// Stop ends the cron loop; already-fired jobs in flight are not
// interrupted.
func (rs *RecurringScheduler) Stop() {
	rs.cron.Stop()
}

func (rs *RecurringScheduler) create(ctx context.Context, def *model.RecurringTaskDef) {
	now := time.Now()
	t := &model.Task{
		ID:        uuid.NewString(),
		Title:     def.Title,
		Type:      def.Type,
		Status:    model.StatusTodo,
		Priority:  model.P2,
		CreatedBy: "recurring_scheduler",
		TeamID:    def.TeamID,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{"recurring"},
		Metadata:  model.Metadata{"recurring_task_id": def.ID},
	}
	if err := rs.suite.tasks.Create(ctx, t); err != nil {
		rs.suite.log.WithFields(map[string]interface{}{"recurring_task": def.ID}).
			WithError(err).Warn("failed to create recurring task")
	}
}
