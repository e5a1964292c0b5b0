package usecase

import "time"

// NotificationGate bounds warning frequency per rule: however many
// instances of a rule's process appear in quick succession, at most one
// warning is surfaced per cooldown interval. Suppression affects the
// notification only, never enforcement timing.
type NotificationGate struct {
	lastWarned map[string]time.Time
}

// NewNotificationGate creates an empty gate.
func NewNotificationGate() *NotificationGate {
	return &NotificationGate{lastWarned: make(map[string]time.Time)}
}

// ShouldWarn reports whether a warning for ruleID may be shown at now.
func (g *NotificationGate) ShouldWarn(ruleID string, now time.Time, cooldown time.Duration) bool {
	last, ok := g.lastWarned[ruleID]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// RecordWarned stamps the time a warning was actually shown for ruleID.
func (g *NotificationGate) RecordWarned(ruleID string, now time.Time) {
	g.lastWarned[ruleID] = now
}

// Reset forgets all cooldown state. Called when the window lifts.
func (g *NotificationGate) Reset() {
	g.lastWarned = make(map[string]time.Time)
}
