// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"curfewd/internal/domain"
	"curfewd/internal/schedule"
)

// Engine runs one full enforcement pass per tick: evaluate the schedule,
// enumerate candidate processes per rule, verify identity, advance grace
// timers, warn, terminate, and evict. All tracker and gate state is owned
// by the engine and mutated only inside Tick, which the daemon runner
// guarantees never overlaps.
type Engine struct {
	config   domain.ConfigSource
	procs    domain.ProcessManager
	audit    domain.AuditLog
	notifier domain.Notifier
	verifier *IdentityVerifier
	logger   *zap.Logger
	now      func() time.Time

	tracker *GraceTracker
	gate    *NotificationGate

	// verifyLogged rate-limits verify_failed events to once per process
	// instance, not once per tick.
	verifyLogged map[domain.InstanceKey]struct{}
}

// NewEngine creates an enforcement engine using the wall clock.
func NewEngine(
	cfg domain.ConfigSource,
	pm domain.ProcessManager,
	audit domain.AuditLog,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Engine {
	return NewEngineWithClock(cfg, pm, audit, notifier, logger, time.Now)
}

// NewEngineWithClock creates an engine with an injected clock, for tests
// and deterministic replay.
func NewEngineWithClock(
	cfg domain.ConfigSource,
	pm domain.ProcessManager,
	audit domain.AuditLog,
	notifier domain.Notifier,
	logger *zap.Logger,
	now func() time.Time,
) *Engine {
	return &Engine{
		config:       cfg,
		procs:        pm,
		audit:        audit,
		notifier:     notifier,
		verifier:     NewIdentityVerifier(pm),
		logger:       logger,
		now:          now,
		tracker:      NewGraceTracker(),
		gate:         NewNotificationGate(),
		verifyLogged: make(map[domain.InstanceKey]struct{}),
	}
}

// candidate pairs an enforceable instance with the rule that matched it,
// for the duration of one tick.
type candidate struct {
	key  domain.InstanceKey
	rule domain.Rule
	proc domain.ProcessInfo
}

// Tick runs one enforcement pass. Errors in a single rule or instance are
// recorded and skipped; they never abort the remaining work or the loop.
func (e *Engine) Tick(ctx context.Context) domain.TickResult {
	now := e.now()
	if err := ctx.Err(); err != nil {
		// Shutdown already requested; skip the pass entirely rather
		// than start work we will not finish.
		return domain.TickResult{At: now}
	}
	snap := e.config.Snapshot()

	result := domain.TickResult{At: now}
	result.Active = schedule.IsActive(now, snap.Schedule)

	if !result.Active {
		// Grace cancellation: the countdown is abandoned, nothing is
		// killed. Bulk clear, the precondition is global.
		if e.tracker.Len() > 0 {
			e.logger.Debug("enforcement window lifted, clearing grace state",
				zap.Int("tracked", e.tracker.Len()))
		}
		e.tracker.Clear()
		e.gate.Reset()
		e.verifyLogged = make(map[domain.InstanceKey]struct{})
		return result
	}

	candidates, seen, carried := e.collect(snap, now, &result)

	live := make(map[domain.InstanceKey]struct{}, len(candidates)+len(carried))
	for _, c := range candidates {
		live[c.key] = struct{}{}
	}
	for key := range carried {
		live[key] = struct{}{}
	}

	for _, c := range candidates {
		e.advance(c, snap, now, &result)
	}

	// Anything tracked before this tick but no longer enforceable:
	// process exited, or verification demoted it.
	for _, key := range e.tracker.Prune(live) {
		e.logger.Debug("instance no longer enforceable, grace abandoned",
			zap.String("rule", key.RuleID),
			zap.Int32("pid", key.PID))
	}

	// Forget verify_failed suppression for instances that disappeared,
	// so a future lifetime of the same pid logs again.
	for key := range e.verifyLogged {
		if _, ok := seen[key]; !ok {
			delete(e.verifyLogged, key)
		}
	}

	result.Pending = e.tracker.Len()
	return result
}

// collect enumerates and verifies processes for every rule, returning the
// enforceable candidates, the set of all observed instance keys
// (including unverifiable ones, for verify-log bookkeeping), and the keys
// carried over from rules whose enumeration failed this tick.
func (e *Engine) collect(snap domain.Config, now time.Time, result *domain.TickResult) ([]candidate, map[domain.InstanceKey]struct{}, map[domain.InstanceKey]struct{}) {
	var candidates []candidate
	seen := make(map[domain.InstanceKey]struct{})
	carried := make(map[domain.InstanceKey]struct{})

	for _, rule := range snap.Rules {
		procs, err := e.procs.ListByName(rule.ProcessName)
		if err != nil {
			// Transient OS error: skip this rule for this tick only.
			// Its in-progress countdowns and verify bookkeeping stay
			// alive, so a flaky scan does not reset grace progress.
			e.logger.Warn("process enumeration failed",
				zap.String("rule", rule.ID),
				zap.String("process", rule.ProcessName),
				zap.Error(err))
			result.Errors = append(result.Errors, fmt.Errorf("rule %s: list processes: %w", rule.ID, err))
			for _, key := range e.tracker.KeysForRule(rule.ID) {
				seen[key] = struct{}{}
				carried[key] = struct{}{}
			}
			for key := range e.verifyLogged {
				if key.RuleID == rule.ID {
					seen[key] = struct{}{}
				}
			}
			continue
		}

		for _, p := range procs {
			key := domain.InstanceKey{RuleID: rule.ID, PID: p.PID, StartedAt: p.StartedAt}
			seen[key] = struct{}{}

			verdict, detail := e.verifyInstance(rule, p)
			switch verdict {
			case VerdictMatch:
				candidates = append(candidates, candidate{key: key, rule: rule, proc: p})
			case VerdictUnverifiable:
				if _, logged := e.verifyLogged[key]; !logged {
					e.verifyLogged[key] = struct{}{}
					e.emit(domain.Event{
						Kind:        domain.EventVerifyFailed,
						RuleID:      rule.ID,
						ProcessName: p.Name,
						PID:         p.PID,
						Detail:      detail,
						At:          now,
					})
					e.logger.Warn("identity unverifiable, not enforcing",
						zap.String("rule", rule.ID),
						zap.Int32("pid", p.PID),
						zap.String("reason", detail))
				}
			case VerdictNoMatch:
				// Different executable wearing the same name, or a name
				// drift between enumeration and verification. Ignore.
			}
		}
	}
	return candidates, seen, carried
}

// verifyInstance wraps verification so a panic in one instance degrades
// to unverifiable instead of killing the tick.
func (e *Engine) verifyInstance(rule domain.Rule, p domain.ProcessInfo) (verdict Verdict, detail string) {
	defer func() {
		if r := recover(); r != nil {
			verdict = VerdictUnverifiable
			detail = fmt.Sprintf("panic during verification: %v", r)
		}
	}()
	return e.verifier.Verify(rule, p)
}

// advance moves one enforceable instance through the grace state machine.
func (e *Engine) advance(c candidate, snap domain.Config, now time.Time, result *domain.TickResult) {
	defer func() {
		if r := recover(); r != nil {
			e.emit(domain.Event{
				Kind:        domain.EventInstanceError,
				RuleID:      c.rule.ID,
				ProcessName: c.proc.Name,
				PID:         c.proc.PID,
				Detail:      fmt.Sprintf("panic: %v", r),
				At:          now,
			})
			e.logger.Error("unexpected error processing instance",
				zap.String("rule", c.rule.ID),
				zap.Int32("pid", c.proc.PID),
				zap.Any("panic", r))
			result.Errors = append(result.Errors, fmt.Errorf("rule %s pid %d: panic: %v", c.rule.ID, c.proc.PID, r))
		}
	}()

	grace := snap.GracePeriod()

	if e.tracker.Touch(c.key, now, grace) {
		plannedKill := now.Add(grace)
		result.Detected = append(result.Detected, c.key)

		e.emit(domain.Event{
			Kind:        domain.EventDetected,
			RuleID:      c.rule.ID,
			ProcessName: c.proc.Name,
			PID:         c.proc.PID,
			Detail:      "enforceable process detected",
			At:          now,
		})
		e.emit(domain.Event{
			Kind:        domain.EventGraceStarted,
			RuleID:      c.rule.ID,
			ProcessName: c.proc.Name,
			PID:         c.proc.PID,
			Detail:      fmt.Sprintf("termination planned at %s", plannedKill.Format(time.RFC3339)),
			PlannedKill: plannedKill,
			At:          now,
		})
		e.logger.Info("grace countdown started",
			zap.String("rule", c.rule.ID),
			zap.Int32("pid", c.proc.PID),
			zap.Time("planned_kill", plannedKill))

		// Warn once per instance, only on this transition, and only if
		// the per-rule cooldown allows. A suppressed instance still
		// enters its grace period silently.
		if e.gate.ShouldWarn(c.rule.ID, now, snap.ToastCooldown()) {
			e.gate.RecordWarned(c.rule.ID, now)
			e.tracker.MarkWarned(c.key)
			if err := e.notifier.Warn(c.rule.Display(), grace); err != nil {
				e.logger.Warn("notification failed",
					zap.String("rule", c.rule.ID),
					zap.Error(err))
			}
		}
		return
	}

	// Elapsed goes by the deadline fixed at detection, matching the
	// audited planned termination time. A grace change applies from
	// the next detection onward, never to a countdown already underway.
	if !e.tracker.Elapsed(c.key, now) {
		return
	}

	// Grace elapsed: request termination and evict regardless of
	// outcome. A failed kill is logged, not retried; the next detection
	// cycle re-evaluates from scratch.
	err := e.terminate(c)
	e.tracker.Evict(c.key)

	switch {
	case err == nil:
		result.Terminated = append(result.Terminated, c.key)
		e.emit(domain.Event{
			Kind:        domain.EventTerminated,
			RuleID:      c.rule.ID,
			ProcessName: c.proc.Name,
			PID:         c.proc.PID,
			Detail:      "grace elapsed, process terminated",
			At:          now,
		})
		e.logger.Info("terminated process",
			zap.String("rule", c.rule.ID),
			zap.Int32("pid", c.proc.PID))
	case domain.IsAccessDenied(err):
		result.Skipped = append(result.Skipped, c.key)
		e.emit(domain.Event{
			Kind:        domain.EventTerminateSkipped,
			RuleID:      c.rule.ID,
			ProcessName: c.proc.Name,
			PID:         c.proc.PID,
			Detail:      fmt.Sprintf("access denied: %v", err),
			At:          now,
		})
		e.logger.Warn("termination skipped, access denied",
			zap.String("rule", c.rule.ID),
			zap.Int32("pid", c.proc.PID),
			zap.Error(err))
	default:
		result.Failed = append(result.Failed, c.key)
		e.emit(domain.Event{
			Kind:        domain.EventTerminateFailed,
			RuleID:      c.rule.ID,
			ProcessName: c.proc.Name,
			PID:         c.proc.PID,
			Detail:      err.Error(),
			At:          now,
		})
		e.logger.Warn("termination failed",
			zap.String("rule", c.rule.ID),
			zap.Int32("pid", c.proc.PID),
			zap.Error(err))
	}
}

// terminate issues a fire-and-forget kill, recovering a panicking
// process-manager call into a plain error.
func (e *Engine) terminate(c candidate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during termination: %v", r)
		}
	}()
	return e.procs.Terminate(c.proc.PID)
}

// emit appends an audit event; audit failures are logged, never fatal.
func (e *Engine) emit(ev domain.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ev); err != nil {
		e.logger.Warn("audit log append failed",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// Tracked returns the number of instances currently inside a grace
// period. Exposed for the status command and tests.
func (e *Engine) Tracked() int {
	return e.tracker.Len()
}
