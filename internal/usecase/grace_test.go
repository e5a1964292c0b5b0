package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curfewd/internal/domain"
)

func key(rule string, pid int32) domain.InstanceKey {
	return domain.InstanceKey{RuleID: rule, PID: pid, StartedAt: 1000}
}

func TestGraceTracker_TouchIsFirstOnceOnly(t *testing.T) {
	tr := NewGraceTracker()
	t0 := time.Now()

	assert.True(t, tr.Touch(key("r", 1), t0, time.Minute))
	assert.False(t, tr.Touch(key("r", 1), t0.Add(time.Second), time.Minute))
	assert.Equal(t, 1, tr.Len())

	// firstSeen stays the earliest detection time.
	seen, ok := tr.FirstSeen(key("r", 1))
	require.True(t, ok)
	assert.Equal(t, t0, seen)
}

func TestGraceTracker_Elapsed(t *testing.T) {
	tr := NewGraceTracker()
	t0 := time.Now()
	grace := 5 * time.Minute
	tr.Touch(key("r", 1), t0, grace)

	assert.False(t, tr.Elapsed(key("r", 1), t0))
	assert.False(t, tr.Elapsed(key("r", 1), t0.Add(grace-time.Second)))
	assert.True(t, tr.Elapsed(key("r", 1), t0.Add(grace)))
	assert.True(t, tr.Elapsed(key("r", 1), t0.Add(grace+time.Second)))

	// Unknown keys never report elapsed.
	assert.False(t, tr.Elapsed(key("r", 2), t0.Add(time.Hour)))
}

func TestGraceTracker_DeadlineFixedAtDetection(t *testing.T) {
	tr := NewGraceTracker()
	t0 := time.Now()
	tr.Touch(key("r", 1), t0, 5*time.Minute)

	// Re-touching with a shorter grace does not move the deadline.
	tr.Touch(key("r", 1), t0.Add(time.Minute), time.Minute)
	assert.False(t, tr.Elapsed(key("r", 1), t0.Add(2*time.Minute)))
	assert.True(t, tr.Elapsed(key("r", 1), t0.Add(5*time.Minute)))
}

func TestGraceTracker_KeysForRule(t *testing.T) {
	tr := NewGraceTracker()
	now := time.Now()
	tr.Touch(key("r", 1), now, time.Minute)
	tr.Touch(key("r", 2), now, time.Minute)
	tr.Touch(key("other", 3), now, time.Minute)

	assert.Len(t, tr.KeysForRule("r"), 2)
	assert.Len(t, tr.KeysForRule("other"), 1)
	assert.Empty(t, tr.KeysForRule("absent"))
}

func TestGraceTracker_Warned(t *testing.T) {
	tr := NewGraceTracker()
	tr.Touch(key("r", 1), time.Now(), time.Minute)

	assert.False(t, tr.Warned(key("r", 1)))
	tr.MarkWarned(key("r", 1))
	assert.True(t, tr.Warned(key("r", 1)))
	assert.False(t, tr.Warned(key("r", 2)))
}

func TestGraceTracker_Prune(t *testing.T) {
	tr := NewGraceTracker()
	now := time.Now()
	tr.Touch(key("r", 1), now, time.Minute)
	tr.Touch(key("r", 2), now, time.Minute)
	tr.Touch(key("other", 3), now, time.Minute)

	live := map[domain.InstanceKey]struct{}{
		key("r", 2): {},
	}
	evicted := tr.Prune(live)

	assert.Len(t, evicted, 2)
	assert.Equal(t, 1, tr.Len())
	_, ok := tr.FirstSeen(key("r", 2))
	assert.True(t, ok)
}

func TestGraceTracker_ClearIsBulk(t *testing.T) {
	tr := NewGraceTracker()
	now := time.Now()
	for pid := int32(1); pid <= 10; pid++ {
		tr.Touch(key("r", pid), now, time.Minute)
	}

	tr.Clear()
	assert.Equal(t, 0, tr.Len())

	// A re-detected key after Clear gets a fresh firstSeen.
	later := now.Add(time.Hour)
	assert.True(t, tr.Touch(key("r", 1), later, time.Minute))
	seen, _ := tr.FirstSeen(key("r", 1))
	assert.Equal(t, later, seen)
}
