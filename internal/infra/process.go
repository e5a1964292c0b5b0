// Package infra implements infrastructure concerns (process, config,
// audit log, notifications).
package infra

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"curfewd/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// ListByName returns running processes whose name matches, case-insensitive
// and ignoring file extension. Processes whose name cannot be read (exited
// mid-scan, or protected) are silently skipped.
func (pm *ProcessManagerImpl) ListByName(name string) ([]domain.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	var found []domain.ProcessInfo
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if !domain.SameProcessName(n, name) {
			continue
		}

		created, err := p.CreateTime()
		if err != nil {
			// Still trackable: a zero start time just weakens the
			// instance key back to (rule, pid).
			created = 0
		}
		found = append(found, domain.ProcessInfo{PID: p.Pid, Name: n, StartedAt: created})
	}

	return found, nil
}

// ResolveExe returns the absolute executable path for a PID. Fails with a
// permission error for protected or elevated processes.
func (pm *ProcessManagerImpl) ResolveExe(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", fmt.Errorf("open process %d: %w", pid, err)
	}
	exe, err := p.Exe()
	if err != nil {
		return "", fmt.Errorf("resolve executable of %d: %w", pid, err)
	}
	return exe, nil
}

// Terminate kills a process by PID using SIGKILL. Fire-and-forget: no
// wait for exit, no retry.
func (pm *ProcessManagerImpl) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
