package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"curfewd/internal/domain"
)

const auditDBName = "audit.db"

// EncryptedAuditLog implements domain.AuditLog using a SQLCipher encrypted
// SQLite database. Encrypted so enforcement history cannot be casually
// edited away by the person the tool is protecting from themselves.
type EncryptedAuditLog struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedAuditLog opens (or creates) the encrypted audit database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedAuditLog(dataDir string, key []byte) (*EncryptedAuditLog, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, auditDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	log := &EncryptedAuditLog{db: db, dbPath: dbPath}
	if err := log.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return log, nil
}

func (l *EncryptedAuditLog) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		process_name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		planned_kill INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append stores one enforcement event. Append-only: rows are never
// updated or deleted by the daemon.
func (l *EncryptedAuditLog) Append(ev domain.Event) error {
	var planned int64
	if !ev.PlannedKill.IsZero() {
		planned = ev.PlannedKill.Unix()
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := l.db.Exec(`
		INSERT INTO events (kind, rule_id, process_name, pid, detail, planned_kill, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.RuleID, ev.ProcessName, ev.PID, ev.Detail, planned, at.Unix(),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (l *EncryptedAuditLog) Recent(limit int) ([]domain.Event, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := l.db.Query(`
		SELECT kind, rule_id, process_name, pid, detail, planned_kill, at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var kind string
		var planned, at int64
		if err := rows.Scan(&kind, &ev.RuleID, &ev.ProcessName, &ev.PID, &ev.Detail, &planned, &at); err != nil {
			return nil, err
		}
		ev.Kind = domain.EventKind(kind)
		if planned > 0 {
			ev.PlannedKill = time.Unix(planned, 0)
		}
		ev.At = time.Unix(at, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Path returns the database file path.
func (l *EncryptedAuditLog) Path() string {
	return l.dbPath
}

// Close releases the database connection.
func (l *EncryptedAuditLog) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Ensure EncryptedAuditLog implements domain.AuditLog.
var _ domain.AuditLog = (*EncryptedAuditLog)(nil)
