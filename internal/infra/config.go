package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"curfewd/internal/domain"
	"curfewd/internal/schedule"
)

// FileConfigStore loads and saves the user configuration as a JSON file
// and serves consistent snapshots to the engine. The file may be edited
// externally at any time; a watcher reloads it so the engine picks up the
// new snapshot on its next tick. Invalid edits are rejected and the last
// good configuration stays in effect.
type FileConfigStore struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current domain.Config
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() domain.Config {
	return domain.Config{
		Rules:                []domain.Rule{},
		Schedule:             domain.Schedule{},
		PollIntervalSeconds:  5,
		GraceSeconds:         300,
		ToastCooldownSeconds: 60,
	}
}

// DefaultConfigPath returns $CURFEWD_CONFIG, or
// ~/.config/curfewd/config.json.
func DefaultConfigPath() string {
	if p := os.Getenv("CURFEWD_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".config", "curfewd", "config.json")
}

// NewFileConfigStore opens the config file, creating it with defaults if
// missing.
func NewFileConfigStore(path string, logger *zap.Logger) (*FileConfigStore, error) {
	s := &FileConfigStore{path: path, logger: logger}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.current = DefaultConfig()
		if err := s.Save(s.current); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the config file path in use.
func (s *FileConfigStore) Path() string {
	return s.path
}

// Snapshot returns a deep copy of the current configuration. The engine
// uses one snapshot for a whole tick; concurrent saves or reloads never
// mutate a handed-out copy.
func (s *FileConfigStore) Snapshot() domain.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConfig(s.current)
}

// Reload re-reads and validates the file, swapping the current config
// only when the new content is valid.
func (s *FileConfigStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg domain.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}

// Save validates and atomically writes the configuration, then makes it
// the current snapshot source.
func (s *FileConfigStore) Save(cfg domain.Config) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	s.mu.Lock()
	s.current = copyConfig(cfg)
	s.mu.Unlock()
	return nil
}

// Watch reloads the config whenever the file changes, until ctx is done.
// Editors and atomic writers replace the file rather than write in place,
// so the path is re-added after remove/rename events.
func (s *FileConfigStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: atomic replaces swap the file inode out from
	// under a file-level watch.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		// Small debounce: editors fire several events per save.
		var pending *time.Timer
		reload := func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("config reload failed, keeping previous config",
					zap.String("path", s.path),
					zap.Error(err))
				return
			}
			s.logger.Info("config reloaded", zap.String("path", s.path))
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Validate rejects malformed configuration at the boundary: unparsable
// time strings, empty day-sets, out-of-range weekdays, duplicate or empty
// rule ids, and invalid intervals never reach the engine.
func Validate(cfg domain.Config) error {
	if cfg.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be >= 1, got %d", cfg.PollIntervalSeconds)
	}
	if cfg.GraceSeconds < 1 {
		return fmt.Errorf("grace_seconds must be >= 1, got %d", cfg.GraceSeconds)
	}
	if cfg.ToastCooldownSeconds < 0 {
		return fmt.Errorf("toast_cooldown_seconds must be >= 0, got %d", cfg.ToastCooldownSeconds)
	}

	seen := make(map[string]struct{}, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.ProcessName == "" {
			return fmt.Errorf("rule %q: process_name is required", r.ID)
		}
		if r.PathPinned && r.Path == "" {
			return fmt.Errorf("rule %q: path_pinned requires path", r.ID)
		}
	}

	for i, w := range cfg.Schedule {
		if len(w.Days) == 0 {
			return fmt.Errorf("window %d: days must not be empty", i)
		}
		for _, d := range w.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("window %d: weekday %d out of range [0,6]", i, d)
			}
		}
		if _, err := schedule.ParseClock(w.Start); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
		if _, err := schedule.ParseClock(w.End); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
	}

	return nil
}

func copyConfig(cfg domain.Config) domain.Config {
	out := cfg
	out.Rules = make([]domain.Rule, len(cfg.Rules))
	copy(out.Rules, cfg.Rules)
	out.Schedule = make(domain.Schedule, len(cfg.Schedule))
	for i, w := range cfg.Schedule {
		cw := w
		cw.Days = append([]int(nil), w.Days...)
		out.Schedule[i] = cw
	}
	return out
}

// Ensure FileConfigStore implements domain.ConfigSource.
var _ domain.ConfigSource = (*FileConfigStore)(nil)
