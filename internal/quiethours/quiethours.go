// Package quiethours implements the timezone-aware suppression window
// every watchdog consults before emitting an external message (spec §4.3,
// §6, §8 "Quiet-hours containment").
package quiethours

import (
	"time"

	"github.com/opsgovernor/governor/internal/config"
)

// Window is a single configured quiet-hours window.
type Window struct {
	Enabled   bool
	StartHour int
	EndHour   int
	TZ        string
}

// IsQuiet reports whether now falls inside the window, handling overnight
// wraparound (start > end means the window spans midnight).
func (w Window) IsQuiet(now time.Time) bool {
	if !w.Enabled {
		return false
	}
	loc, err := time.LoadLocation(w.TZ)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	h := local.Hour()

	if w.StartHour == w.EndHour {
		return true // 24h window
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Overnight wrap, e.g. 23 -> 8.
	return h >= w.StartHour || h < w.EndHour
}

// FromConfig builds a Window from the policy config.
func FromConfig(c config.QuietHours) Window {
	return Window{Enabled: c.Enabled, StartHour: c.StartHour, EndHour: c.EndHour, TZ: c.TZ}
}

// Union reports whether now is quiet under ANY of the given windows —
// overlapping windows resolve by union per spec §4.3.
func Union(now time.Time, windows ...Window) bool {
	for _, w := range windows {
		if w.IsQuiet(now) {
			return true
		}
	}
	return false
}

// Gate decides whether a worker may emit an external message right now.
// force bypasses the quiet-hours check entirely, matching every watchdog's
// documented dryRun/force tick contract.
func Gate(now time.Time, force bool, windows ...Window) (suppressed bool, reason string) {
	if force {
		return false, ""
	}
	if Union(now, windows...) {
		return true, "quiet-hours"
	}
	return false, ""
}
