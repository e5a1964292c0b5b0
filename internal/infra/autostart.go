package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"curfewd/internal/domain"
)

const unitFileName = "curfewd.service"

// systemd user unit template
const unitTemplate = `[Unit]
Description=curfewd - time-window process enforcement
After=default.target

[Service]
ExecStart={{.ExecutablePath}} run
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`

type unitConfig struct {
	ExecutablePath string
}

// SystemdManager implements domain.AutostartManager with a systemd user
// unit, so the daemon starts with the user's session.
type SystemdManager struct {
	unitDir  string
	unitPath string
}

// NewSystemdManager creates a manager for the current user's unit directory.
func NewSystemdManager() domain.AutostartManager {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	return &SystemdManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitFileName),
	}
}

func (m *SystemdManager) generateUnitContent(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse unit template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitConfig{ExecutablePath: execPath}); err != nil {
		return nil, fmt.Errorf("render unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit file and enables it for the user session.
func (m *SystemdManager) Install(execPath string) error {
	content, err := m.generateUnitContent(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	if err := runSystemctl("daemon-reload"); err != nil {
		return err
	}
	return runSystemctl("enable", "--now", unitFileName)
}

// Uninstall disables the unit and removes the file.
func (m *SystemdManager) Uninstall() error {
	// Best effort: the unit may already be gone or disabled.
	_ = runSystemctl("disable", "--now", unitFileName)

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	return runSystemctl("daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate checks if the unit file exists but differs from what we
// would write for execPath (binary moved, or template changed).
func (m *SystemdManager) NeedsUpdate(execPath string) bool {
	existing, err := os.ReadFile(m.unitPath)
	if err != nil {
		return false
	}
	expected, err := m.generateUnitContent(execPath)
	if err != nil {
		return false
	}
	return !bytes.Equal(existing, expected)
}

// UnitPath returns the unit file path.
func (m *SystemdManager) UnitPath() string {
	return m.unitPath
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl --user %v: %w: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}

// Ensure SystemdManager implements domain.AutostartManager.
var _ domain.AutostartManager = (*SystemdManager)(nil)
