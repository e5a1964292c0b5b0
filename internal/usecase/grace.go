package usecase

import (
	"time"

	"curfewd/internal/domain"
)

// GraceTracker tracks when each enforceable process instance was first
// seen, so termination happens only after the grace period elapses.
// Owned exclusively by the engine and mutated only inside a tick; no
// locking needed.
type GraceTracker struct {
	entries map[domain.InstanceKey]*graceEntry
}

type graceEntry struct {
	firstSeen time.Time
	deadline  time.Time
	warned    bool
}

// NewGraceTracker creates an empty tracker.
func NewGraceTracker() *GraceTracker {
	return &GraceTracker{entries: make(map[domain.InstanceKey]*graceEntry)}
}

// Touch records that key is enforceable at now. Returns true on the first
// observation of this instance. The termination deadline is fixed here,
// from the grace in effect at detection time; later grace changes apply
// only to instances detected after them. firstSeen and the deadline are
// never reset while the entry lives.
func (t *GraceTracker) Touch(key domain.InstanceKey, now time.Time, grace time.Duration) bool {
	if _, ok := t.entries[key]; ok {
		return false
	}
	t.entries[key] = &graceEntry{firstSeen: now, deadline: now.Add(grace)}
	return true
}

// FirstSeen returns when key was first observed.
func (t *GraceTracker) FirstSeen(key domain.InstanceKey) (time.Time, bool) {
	e, ok := t.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.firstSeen, true
}

// Elapsed reports whether key's grace period has run out at now,
// against the deadline fixed when the instance was first touched.
func (t *GraceTracker) Elapsed(key domain.InstanceKey, now time.Time) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	return !now.Before(e.deadline)
}

// MarkWarned remembers that a warning was surfaced for key.
func (t *GraceTracker) MarkWarned(key domain.InstanceKey) {
	if e, ok := t.entries[key]; ok {
		e.warned = true
	}
}

// Warned reports whether key was warned.
func (t *GraceTracker) Warned(key domain.InstanceKey) bool {
	e, ok := t.entries[key]
	return ok && e.warned
}

// Evict removes a single entry (terminated, or exited on its own).
func (t *GraceTracker) Evict(key domain.InstanceKey) {
	delete(t.entries, key)
}

// KeysForRule returns the tracked keys belonging to ruleID.
func (t *GraceTracker) KeysForRule(ruleID string) []domain.InstanceKey {
	var keys []domain.InstanceKey
	for key := range t.entries {
		if key.RuleID == ruleID {
			keys = append(keys, key)
		}
	}
	return keys
}

// Prune removes every tracked key absent from live and returns the
// evicted keys. Covers self-exit and verification demotion.
func (t *GraceTracker) Prune(live map[domain.InstanceKey]struct{}) []domain.InstanceKey {
	var evicted []domain.InstanceKey
	for key := range t.entries {
		if _, ok := live[key]; !ok {
			evicted = append(evicted, key)
			delete(t.entries, key)
		}
	}
	return evicted
}

// Clear drops all entries at once. Used when the enforcement window
// lifts: the precondition is global, so no per-entry re-evaluation.
func (t *GraceTracker) Clear() {
	t.entries = make(map[domain.InstanceKey]*graceEntry)
}

// Len returns the number of tracked instances.
func (t *GraceTracker) Len() int {
	return len(t.entries)
}
