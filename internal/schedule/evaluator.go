// Package schedule decides whether enforcement is active at a given
// instant. Pure functions over a config snapshot, safe from any goroutine.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"curfewd/internal/domain"
)

// IsActive reports whether any window in the schedule covers now.
// An empty schedule is never active: the daemon fails open so a blank or
// freshly created config cannot lock the user out of everything.
func IsActive(now time.Time, windows domain.Schedule) bool {
	for _, w := range windows {
		if windowActive(now, w) {
			return true
		}
	}
	return false
}

// windowActive evaluates one window. Windows with no days, unparsable
// times, or start == end are skipped rather than failing the pass.
func windowActive(now time.Time, w domain.TimeWindow) bool {
	if len(w.Days) == 0 {
		return false
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	weekday := int(now.Weekday())
	sec := now.Hour()*3600 + now.Minute()*60 + now.Second()

	if start < end {
		// Same-day window: [start, end) on a listed day.
		return hasDay(w.Days, weekday) && sec >= start && sec < end
	}

	// Overnight window. The portion after midnight belongs to the
	// previous calendar day's membership: Monday 23:00-07:00 covers
	// Tuesday 02:00 because Monday is listed, not Tuesday.
	if hasDay(w.Days, weekday) && sec >= start {
		return true
	}
	return hasDay(w.Days, (weekday+6)%7) && sec < end
}

// ParseClock parses "HH:MM" into seconds since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*3600 + m*60, nil
}

func hasDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}
