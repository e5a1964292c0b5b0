// Package main is the CLI entry point for curfewd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"curfewd/internal/daemon"
	"curfewd/internal/infra"
	"curfewd/internal/schedule"
	"curfewd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "curfewd",
	Short: "Time-window process enforcement",
	Long: `curfewd terminates configured applications during blocked time windows.
While a window is active, matching processes get a grace period with a
single warning, then are closed. Outside the windows they run unimpeded.

This is a self-control tool, not a security boundary: it runs at your
own privilege level and can be defeated by anyone determined enough.
The point is the speed bump.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement daemon in the foreground",
	Long: `Starts the enforcement loop: every poll interval, evaluate the schedule,
detect matching processes, warn, and terminate after the grace period.
The config file is watched and reloaded on change.`,
	RunE: runDaemon,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single enforcement tick and print the decisions",
	RunE:  runScan,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether enforcement is active right now",
	RunE:  runStatus,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List configured rules and schedule windows",
	RunE:  runRules,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent audit events",
	RunE:  runLog,
}

var autostartCmd = &cobra.Command{
	Use:       "autostart [enable|disable|status]",
	Short:     "Manage the systemd user unit for starting at login",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"enable", "disable", "status"},
	RunE:      runAutostart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath string
	logLimit   int
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: $CURFEWD_CONFIG or ~/.config/curfewd/config.json)")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "Number of events to show")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return infra.DefaultConfigPath()
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".curfewd"
	}
	return filepath.Join(home, ".local", "share", "curfewd")
}

func openAuditLog() (*infra.EncryptedAuditLog, error) {
	dir := dataDir()
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(dir))
	if err != nil {
		return nil, fmt.Errorf("audit log key: %w", err)
	}
	return infra.NewEncryptedAuditLog(dir, key)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := infra.NewFileConfigStore(resolveConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	audit, err := openAuditLog()
	if err != nil {
		return err
	}
	defer func() { _ = audit.Close() }()

	notifier := infra.NewDBusNotifier(logger)
	defer func() { _ = notifier.Close() }()

	engine := usecase.NewEngine(store, infra.NewProcessManager(), audit, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := store.Watch(ctx); err != nil {
		logger.Warn("config watcher unavailable, edits need a restart", zap.Error(err))
	}

	logger.Info("curfewd started",
		zap.String("version", Version),
		zap.String("config", store.Path()),
		zap.Int("rules", len(store.Snapshot().Rules)))

	runner := daemon.NewRunner(engine, func() time.Duration {
		return store.Snapshot().PollInterval()
	}, logger)

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runScan(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	store, err := infra.NewFileConfigStore(resolveConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	audit, err := openAuditLog()
	if err != nil {
		return err
	}
	defer func() { _ = audit.Close() }()

	notifier := infra.NewDBusNotifier(logger)
	defer func() { _ = notifier.Close() }()

	engine := usecase.NewEngine(store, infra.NewProcessManager(), audit, notifier, logger)
	result := engine.Tick(context.Background())

	fmt.Println("\n=== Enforcement Tick ===")
	if !result.Active {
		fmt.Println("No blocked window is active right now. Nothing to do.")
		fmt.Println("========================")
		return nil
	}

	fmt.Printf("Window active at %s\n", result.At.Format(time.RFC3339))
	fmt.Printf("  New detections: %d\n", len(result.Detected))
	for _, k := range result.Detected {
		fmt.Printf("    - rule %s pid %d (grace started)\n", k.RuleID, k.PID)
	}
	fmt.Printf("  Still in grace: %d\n", result.Pending)
	fmt.Printf("  Terminated: %d\n", len(result.Terminated))
	if len(result.Skipped) > 0 {
		fmt.Printf("  Skipped (access denied): %d\n", len(result.Skipped))
	}
	if len(result.Failed) > 0 {
		fmt.Printf("  Failed: %d\n", len(result.Failed))
	}
	for _, e := range result.Errors {
		fmt.Printf("  Error: %v\n", e)
	}
	fmt.Println("========================")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	store, err := infra.NewFileConfigStore(resolveConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := store.Snapshot()

	now := time.Now()
	active := schedule.IsActive(now, cfg.Schedule)

	fmt.Println("\n=== curfewd Status ===")
	fmt.Printf("Config: %s\n", store.Path())
	fmt.Printf("Time: %s (%s)\n", now.Format("15:04:05"), now.Weekday())
	if active {
		fmt.Println("Enforcement: ACTIVE (blocked window in effect)")
	} else {
		fmt.Println("Enforcement: inactive")
	}
	fmt.Printf("Rules: %d, Windows: %d\n", len(cfg.Rules), len(cfg.Schedule))
	fmt.Printf("Poll: %s, Grace: %s, Warning cooldown: %s\n",
		cfg.PollInterval(), cfg.GracePeriod(), cfg.ToastCooldown())

	sm := infra.NewSystemdManager()
	if sm.IsInstalled() {
		fmt.Println("Autostart: enabled")
	} else {
		fmt.Println("Autostart: disabled")
	}
	fmt.Println("======================")
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	store, err := infra.NewFileConfigStore(resolveConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := store.Snapshot()

	fmt.Println("\n=== Rules ===")
	if len(cfg.Rules) == 0 {
		fmt.Println("(none configured)")
	}
	for _, r := range cfg.Rules {
		fmt.Printf("\n[%s] %s\n", r.ID, r.Display())
		fmt.Printf("  Process: %s\n", r.ProcessName)
		if r.PathPinned {
			fmt.Printf("  Pinned path: %s\n", r.Path)
		}
	}

	fmt.Println("\n=== Schedule ===")
	if len(cfg.Schedule) == 0 {
		fmt.Println("(empty - enforcement never active)")
	}
	for _, w := range cfg.Schedule {
		days := make([]string, len(w.Days))
		for i, d := range w.Days {
			days[i] = time.Weekday(d).String()[:3]
		}
		fmt.Printf("  %s-%s on %s\n", w.Start, w.End, strings.Join(days, ","))
	}
	fmt.Println()
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	audit, err := openAuditLog()
	if err != nil {
		return err
	}
	defer func() { _ = audit.Close() }()

	events, err := audit.Recent(logLimit)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No audit events recorded yet.")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-18s rule=%s process=%s pid=%d",
			ev.At.Format("2006-01-02 15:04:05"), ev.Kind, ev.RuleID, ev.ProcessName, ev.PID)
		if ev.Detail != "" {
			line += "  " + ev.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func runAutostart(cmd *cobra.Command, args []string) error {
	sm := infra.NewSystemdManager()

	switch args[0] {
	case "enable":
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable path: %w", err)
		}
		if sm.IsInstalled() && !sm.NeedsUpdate(execPath) {
			fmt.Println("Autostart already enabled.")
			return nil
		}
		if err := sm.Install(execPath); err != nil {
			return fmt.Errorf("enable autostart: %w", err)
		}
		fmt.Printf("Autostart enabled: %s\n", sm.UnitPath())
	case "disable":
		if !sm.IsInstalled() {
			fmt.Println("Autostart is not enabled.")
			return nil
		}
		if err := sm.Uninstall(); err != nil {
			return fmt.Errorf("disable autostart: %w", err)
		}
		fmt.Println("Autostart disabled.")
	case "status":
		if sm.IsInstalled() {
			fmt.Printf("Autostart enabled: %s\n", sm.UnitPath())
		} else {
			fmt.Println("Autostart disabled.")
		}
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
	return nil
}

func createLogger() *zap.Logger {
	logPath := filepath.Join(dataDir(), "curfewd.log")
	_ = os.MkdirAll(filepath.Dir(logPath), 0700)

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{logPath, "stderr"}
	config.ErrorOutputPaths = []string{logPath, "stderr"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("curfewd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
