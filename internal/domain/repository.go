package domain

import "time"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
// Every call is fallible per process; a single unreadable or protected
// process must never poison a whole enumeration pass.
type ProcessManager interface {
	// ListByName returns running processes whose name matches,
	// case-insensitively and ignoring file extension.
	ListByName(name string) ([]ProcessInfo, error)

	// ResolveExe returns the absolute executable path of a process.
	// Fails for protected or elevated processes (access denied).
	ResolveExe(pid int32) (string, error)

	// Terminate kills a process by PID. Fire-and-forget: no wait for
	// exit, no retry. May fail with a permission error for targets
	// running above our privilege level.
	Terminate(pid int32) error
}

// ConfigSource hands the engine a consistent configuration snapshot.
// Snapshot is called exactly once per tick; the returned value must not
// alias mutable store state.
type ConfigSource interface {
	Snapshot() Config
}

// AuditLog records enforcement events, append-only.
type AuditLog interface {
	Append(ev Event) error

	// Recent returns up to limit events, newest first.
	Recent(limit int) ([]Event, error)

	Close() error
}

// Notifier surfaces a user-visible warning that a process is about to be
// terminated. Failures are logged by the caller, never escalated:
// notification is best-effort and must not affect enforcement.
type Notifier interface {
	Warn(displayName string, remaining time.Duration) error
}

// KeyProvider abstracts the source of the audit-log encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// AutostartManager handles "run at login" registration, so the daemon
// survives a logout without the user re-launching it.
type AutostartManager interface {
	// Install registers the daemon to start at login.
	Install(execPath string) error

	// Uninstall removes the registration.
	Uninstall() error

	// IsInstalled checks if the registration exists.
	IsInstalled() bool

	// NeedsUpdate checks if the registration exists but points at a
	// different binary or stale content.
	NeedsUpdate(execPath string) bool

	// UnitPath returns the registration file path (for status output).
	UnitPath() string
}
