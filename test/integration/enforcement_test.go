//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"curfewd/internal/domain"
	"curfewd/internal/usecase"
)

// fakeClock is a manually advanced clock shared with the engine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeProcessTable is an in-memory OS: processes can be added, removed,
// and given unkillable or unreadable behavior.
type fakeProcessTable struct {
	mu         sync.Mutex
	procs      map[int32]domain.ProcessInfo
	exePaths   map[int32]string
	terminated []int32
}

func newFakeProcessTable() *fakeProcessTable {
	return &fakeProcessTable{
		procs:    make(map[int32]domain.ProcessInfo),
		exePaths: make(map[int32]string),
	}
}

func (f *fakeProcessTable) add(pid int32, name, exe string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = domain.ProcessInfo{PID: pid, Name: name, StartedAt: int64(pid) * 1000}
	f.exePaths[pid] = exe
}

func (f *fakeProcessTable) remove(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
	delete(f.exePaths, pid)
}

func (f *fakeProcessTable) ListByName(name string) ([]domain.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessInfo
	for _, p := range f.procs {
		if domain.SameProcessName(p.Name, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProcessTable) ResolveExe(pid int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exePaths[pid], nil
}

func (f *fakeProcessTable) Terminate(pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	delete(f.procs, pid)
	return nil
}

func (f *fakeProcessTable) killed() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.terminated...)
}

// mutableConfig lets specs swap the schedule mid-run, like the settings
// UI would.
type mutableConfig struct {
	mu  sync.Mutex
	cfg domain.Config
}

func (m *mutableConfig) Snapshot() domain.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *mutableConfig) setSchedule(s domain.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Schedule = s
}

// memoryAudit collects events in memory for assertions.
type memoryAudit struct {
	mu     sync.Mutex
	events []domain.Event
}

func (a *memoryAudit) Append(ev domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *memoryAudit) Recent(limit int) ([]domain.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Event(nil), a.events...), nil
}

func (a *memoryAudit) Close() error { return nil }

func (a *memoryAudit) kinds() []domain.EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.EventKind, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Kind
	}
	return out
}

type silentNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *silentNotifier) Warn(string, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func (n *silentNotifier) warned() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

var _ = Describe("Enforcement engine", func() {
	var (
		clock    *fakeClock
		table    *fakeProcessTable
		config   *mutableConfig
		audit    *memoryAudit
		notifier *silentNotifier
		engine   *usecase.Engine
		ctx      context.Context
	)

	// Monday night window, five minute grace.
	mondayNight := domain.Schedule{{Days: []int{1}, Start: "23:00", End: "07:00"}}

	// 2024-01-01 was a Monday.
	monday := func(hour, min, sec int) time.Time {
		return time.Date(2024, 1, 1, hour, min, sec, 0, time.UTC)
	}
	tuesday := func(hour, min, sec int) time.Time {
		return time.Date(2024, 1, 2, hour, min, sec, 0, time.UTC)
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = &fakeClock{now: monday(22, 0, 0)}
		table = newFakeProcessTable()
		audit = &memoryAudit{}
		notifier = &silentNotifier{}
		config = &mutableConfig{cfg: domain.Config{
			Rules: []domain.Rule{
				{ID: "app", ProcessName: "app.exe", DisplayName: "App"},
			},
			Schedule:             mondayNight,
			PollIntervalSeconds:  5,
			GraceSeconds:         300,
			ToastCooldownSeconds: 60,
		}}
		engine = usecase.NewEngineWithClock(config, table, audit, notifier, zap.NewNop(), clock.Now)
	})

	Describe("grace countdown inside an overnight window", func() {
		It("warns on detection and terminates only after the grace period", func() {
			table.add(100, "app.exe", "/opt/app/app.exe")

			By("detecting the process shortly after the window opens")
			clock.Set(monday(23, 0, 5))
			result := engine.Tick(ctx)
			Expect(result.Active).To(BeTrue())
			Expect(result.Detected).To(HaveLen(1))
			Expect(notifier.warned()).To(Equal(1))
			Expect(audit.kinds()).To(ContainElements(domain.EventDetected, domain.EventGraceStarted))

			By("recording the planned termination time")
			events, _ := audit.Recent(10)
			var planned time.Time
			for _, ev := range events {
				if ev.Kind == domain.EventGraceStarted {
					planned = ev.PlannedKill
				}
			}
			Expect(planned).To(Equal(monday(23, 5, 5)))

			By("leaving the process alone mid-grace")
			clock.Set(monday(23, 3, 0))
			result = engine.Tick(ctx)
			Expect(result.Terminated).To(BeEmpty())
			Expect(result.Pending).To(Equal(1))
			Expect(table.killed()).To(BeEmpty())

			By("terminating once the grace period has elapsed")
			clock.Set(monday(23, 5, 6))
			result = engine.Tick(ctx)
			Expect(result.Terminated).To(HaveLen(1))
			Expect(table.killed()).To(Equal([]int32{100}))
			Expect(result.Pending).To(BeZero())
			Expect(audit.kinds()).To(ContainElement(domain.EventTerminated))
		})

		It("stays in effect across midnight into the next morning", func() {
			table.add(100, "app.exe", "/opt/app/app.exe")

			clock.Set(tuesday(2, 0, 0))
			result := engine.Tick(ctx)
			Expect(result.Active).To(BeTrue(), "Tuesday 02:00 belongs to Monday's window")
			Expect(result.Detected).To(HaveLen(1))
		})
	})

	Describe("window lifted mid-grace", func() {
		It("abandons the countdown without killing the process", func() {
			table.add(100, "app.exe", "/opt/app/app.exe")

			clock.Set(monday(23, 0, 5))
			engine.Tick(ctx)
			Expect(engine.Tracked()).To(Equal(1))

			By("the schedule changing while the countdown runs")
			config.setSchedule(domain.Schedule{})
			clock.Set(monday(23, 2, 0))
			result := engine.Tick(ctx)
			Expect(result.Active).To(BeFalse())
			Expect(engine.Tracked()).To(BeZero())

			By("the process surviving past the original deadline")
			clock.Set(monday(23, 5, 6))
			engine.Tick(ctx)
			Expect(table.killed()).To(BeEmpty())
		})
	})

	Describe("path pinning", func() {
		It("never enforces a same-named executable from another path", func() {
			config.mu.Lock()
			config.cfg.Rules = []domain.Rule{
				{ID: "g", ProcessName: "g.exe", Path: `C:\G\g.exe`, PathPinned: true},
			}
			config.mu.Unlock()

			table.add(200, "g.exe", `C:\Other\g.exe`)

			clock.Set(monday(23, 0, 5))
			result := engine.Tick(ctx)
			Expect(result.Detected).To(BeEmpty())
			Expect(engine.Tracked()).To(BeZero())

			clock.Set(monday(23, 30, 0))
			engine.Tick(ctx)
			Expect(table.killed()).To(BeEmpty())
		})
	})
})
