package infra

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"curfewd/internal/domain"
)

const (
	notifyBusName    = "org.freedesktop.Notifications"
	notifyObjectPath = "/org/freedesktop/Notifications"
	notifyMethod     = "org.freedesktop.Notifications.Notify"
)

// DBusNotifier implements domain.Notifier via desktop notifications on
// the session bus. On headless systems (no session bus) it degrades to
// log-only: a missing warning never blocks enforcement.
type DBusNotifier struct {
	logger *zap.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDBusNotifier creates a notifier. The bus connection is established
// lazily on first use.
func NewDBusNotifier(logger *zap.Logger) *DBusNotifier {
	return &DBusNotifier{logger: logger}
}

// Warn shows a desktop notification that displayName will be terminated
// after the remaining grace duration.
func (n *DBusNotifier) Warn(displayName string, remaining time.Duration) error {
	summary := fmt.Sprintf("%s is blocked right now", displayName)
	body := fmt.Sprintf("It will be closed in %s. Save your work.", remaining.Round(time.Second))

	conn, err := n.connect()
	if err != nil {
		// Headless or no session bus: the log entry is the warning.
		n.logger.Warn("desktop notification unavailable, logging instead",
			zap.String("app", displayName),
			zap.Duration("remaining", remaining),
			zap.Error(err))
		return nil
	}

	obj := conn.Object(notifyBusName, dbus.ObjectPath(notifyObjectPath))
	call := obj.Call(notifyMethod, 0,
		"curfewd",               // app_name
		uint32(0),               // replaces_id
		"dialog-warning",        // app_icon
		summary,                 // summary
		body,                    // body
		[]string{},              // actions
		map[string]dbus.Variant{ // hints
			"urgency": dbus.MakeVariant(byte(2)), // critical
		},
		int32(-1), // expire_timeout: server default
	)
	if call.Err != nil {
		n.dropConn()
		return fmt.Errorf("notify call failed: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		return err
	}
	return nil
}

func (n *DBusNotifier) connect() (*dbus.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return n.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	n.conn = conn
	return conn, nil
}

// dropConn discards a connection after a failed call so the next warning
// reconnects from scratch.
func (n *DBusNotifier) dropConn() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

// Ensure DBusNotifier implements domain.Notifier.
var _ domain.Notifier = (*DBusNotifier)(nil)
