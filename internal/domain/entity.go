// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Rule is a configured executable subject to enforcement.
// ID is stable across config saves and keys all per-rule state
// (grace timers, notification cooldowns).
type Rule struct {
	ID          string `json:"id"`
	ProcessName string `json:"process_name"`           // matched case-insensitively, extension ignored
	DisplayName string `json:"display_name,omitempty"` // shown in notifications; falls back to ProcessName
	Path        string `json:"path,omitempty"`         // expected executable path when pinned
	PathPinned  bool   `json:"path_pinned,omitempty"`  // require exact path match, not just name match
}

// Display returns the name to show in notifications and the audit log.
func (r Rule) Display() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ProcessName
}

// TimeWindow is a weekday-tagged time range during which enforcement is
// active. Start and End are "HH:MM" clock times. Start < End is a same-day
// window; Start > End spans midnight, with the early-morning portion
// attributed to the previous day's weekday set. Start == End is degenerate
// and never matches.
type TimeWindow struct {
	Days  []int  `json:"days"` // 0=Sunday .. 6=Saturday
	Start string `json:"start"`
	End   string `json:"end"`
}

// Schedule is an ordered set of windows. Enforcement is active when any
// window matches. An empty schedule never enforces (fail-open).
type Schedule []TimeWindow

// Config is the full user configuration, handed to the engine as an
// immutable snapshot at the start of each tick.
type Config struct {
	Rules                []Rule   `json:"rules"`
	Schedule             Schedule `json:"schedule"`
	PollIntervalSeconds  int      `json:"poll_interval_seconds"`
	GraceSeconds         int      `json:"grace_seconds"`
	ToastCooldownSeconds int      `json:"toast_cooldown_seconds"`
}

// PollInterval returns the tick spacing, floored at one second.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds < 1 {
		return time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GracePeriod returns the delay between detection and termination.
func (c Config) GracePeriod() time.Duration {
	if c.GraceSeconds < 1 {
		return time.Second
	}
	return time.Duration(c.GraceSeconds) * time.Second
}

// ToastCooldown returns the minimum spacing between warnings for one rule.
func (c Config) ToastCooldown() time.Duration {
	return time.Duration(c.ToastCooldownSeconds) * time.Second
}

// ProcessInfo describes one running process observed during enumeration.
type ProcessInfo struct {
	PID       int32
	Name      string
	StartedAt int64 // creation time, milliseconds since epoch; 0 if unreadable
}

// InstanceKey identifies one running process instance for the lifetime of
// that process. It includes the process start time so a recycled pid is
// never mistaken for the instance it replaced. Never persisted; rebuilt
// fresh every run.
type InstanceKey struct {
	RuleID    string
	PID       int32
	StartedAt int64
}

// EventKind classifies audit-log events.
type EventKind string

const (
	EventDetected         EventKind = "detected"
	EventGraceStarted     EventKind = "grace_started"
	EventTerminated       EventKind = "terminated"
	EventTerminateSkipped EventKind = "terminate_skipped" // access denied, not retried
	EventTerminateFailed  EventKind = "terminate_failed"
	EventVerifyFailed     EventKind = "verify_failed" // identity unverifiable, once per instance
	EventInstanceError    EventKind = "instance_error"
)

// Event is one structured audit-log record.
type Event struct {
	Kind        EventKind
	RuleID      string
	ProcessName string
	PID         int32
	Detail      string
	PlannedKill time.Time // set for EventGraceStarted only
	At          time.Time
}

// TickResult captures what happened during a single enforcement tick.
type TickResult struct {
	At         time.Time
	Active     bool
	Detected   []InstanceKey // entered grace this tick
	Terminated []InstanceKey
	Skipped    []InstanceKey // termination denied
	Failed     []InstanceKey
	Pending    int // instances still inside their grace period
	Errors     []error
}
