package watchdog

import (
	"context"
	"time"
)

// ReminderTick polls for due, undelivered calendar reminders and delivers
// them as chat-channel notifications, marking each delivered so the poll
// never redelivers it (spec §4.3 "Reminder engine").
func (s *Suite) ReminderTick(ctx context.Context, channel string, now time.Time, opts Opts) ([]string, error) {
	due, err := s.watchdog.DueReminders(ctx, now)
	if err != nil {
		return nil, err
	}

	var delivered []string
	for _, ev := range due {
		delivered = append(delivered, ev.ID)
		if opts.DryRun {
			continue
		}
		if _, perr := s.chat.Post(ctx, channel, "reminder_engine", "reminder: "+ev.Title); perr != nil {
			continue
		}
		_ = s.watchdog.MarkReminderDelivered(ctx, ev.ID)
	}
	return delivered, nil
}
