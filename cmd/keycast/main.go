package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/engine"
	"github.com/keycast/keycast/pkg/hotkey"
	"github.com/keycast/keycast/pkg/journal"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/ui"
	"github.com/keycast/keycast/pkg/winctl"
)

var (
	flagConfig config.Config
	configFile string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "keycast",
	Short: "Send keys to a game window on timers or when screen regions light up",
	Long: `keycast watches one application window and presses keys into it, either on
fixed per-key intervals (timed mode) or whenever configured screen regions
turn saturated (monitor mode). A global toggle hotkey starts and stops the
armed mode; per-key reset hotkeys and per-region enable hotkeys adjust a
run while it is live.

Configuration precedence (highest to lowest):
1. CLI flags
2. Environment variables (KEYCAST_*)
3. Configuration file
4. Default values

Configuration is loaded from a TOML file. The tool looks for configuration
files in the following order:
1. File specified by --config flag
2. .keycast.toml / keycast.toml in current directory
3. .keycast.toml / keycast.toml in home directory

Environment variables:
- KEYCAST_WINDOW_TITLE: Title of the window to drive
- KEYCAST_MODE: Armed mode ("timed", "monitor", or "none")
- KEYCAST_LOG_LEVEL: Log level ("debug", "info", "warn", "error")
- KEYCAST_MONITOR_TICK: Monitor capture interval (e.g. "100ms")
- KEYCAST_SATURATION_THRESHOLD: Region activity threshold (0-255)
- KEYCAST_MATCH_THRESHOLD: Template match threshold (0-1)
- KEYCAST_INJECTION_BACKEND: Key delivery backend ("post" or "tap")
- KEYCAST_JOURNAL_PATH: SQLite run journal path (empty disables)

EXAMPLES:
  # Run with a config file, toggle with the configured hotkey
  keycast --config game.toml

  # Pick the window and armed mode on the command line
  keycast --window "Legend of Merchant" --mode monitor

  # Journal runs to disk and keep debug frames of the first capture
  keycast --journal runs.db --debug-dir ./frames

  # Diagnostics
  keycast windows
  keycast calibrate --config game.toml --save ./frames
  keycast journal --limit 5`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress real-time event output")

	// CLI flags (these override config file and environment values)
	rootCmd.Flags().StringVarP(&flagConfig.WindowTitle, "window", "w", "", "Title of the window to drive (exact match preferred, substring accepted)")
	rootCmd.Flags().StringVarP(&flagConfig.Mode, "mode", "m", "", "Armed mode the toggle hotkey starts (default: timed)\n                                 Options: timed, monitor, none")
	rootCmd.Flags().StringVarP(&flagConfig.LogLevel, "log-level", "l", "", "Log level (default: info, options: debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flagConfig.Injection.Backend, "backend", "", "Key delivery backend (default: post, options: post, tap)")
	rootCmd.Flags().StringVar(&flagConfig.Journal.Path, "journal", "", "SQLite run journal path (default: empty = disabled)")
	rootCmd.Flags().StringVar(&flagConfig.Monitor.DebugDir, "debug-dir", "", "Directory for first-frame region dumps (default: empty = disabled)")

	rootCmd.AddCommand(createWindowsCommand(nil))
	rootCmd.AddCommand(createCalibrateCommand(nil))
	rootCmd.AddCommand(createJournalCommand())
}

// loadConfiguration loads configuration with full precedence support
func loadConfiguration(cmd *cobra.Command) (*config.Config, []config.ValidationError, error) {
	// Determine config file to use
	var configPath string
	if configFile != "" {
		configPath = configFile
	} else {
		cwd, _ := os.Getwd()
		if found := config.FindConfigFile(cwd); found != "" {
			configPath = found
		} else if homeDir, err := os.UserHomeDir(); err == nil {
			configPath = config.FindConfigFile(homeDir)
		}
	}

	var effectiveFlagConfig *config.Config
	var explicitFields map[string]bool

	if hasAnyFlagsSet(cmd) {
		effectiveFlagConfig = &flagConfig
		explicitFields = make(map[string]bool)

		if cmd.Flags().Changed("window") {
			explicitFields["window_title"] = true
		}
		if cmd.Flags().Changed("mode") {
			explicitFields["mode"] = true
		}
		if cmd.Flags().Changed("log-level") {
			explicitFields["log_level"] = true
		}
		if cmd.Flags().Changed("backend") {
			explicitFields["injection.backend"] = true
		}
		if cmd.Flags().Changed("journal") {
			explicitFields["journal.path"] = true
		}
		if cmd.Flags().Changed("debug-dir") {
			explicitFields["monitor.debug_dir"] = true
		}
	}

	return config.LoadWithPrecedence(configPath, effectiveFlagConfig, explicitFields)
}

// hasAnyFlagsSet checks if any CLI flags were set
func hasAnyFlagsSet(cmd *cobra.Command) bool {
	flagNames := []string{"window", "mode", "log-level", "backend", "journal", "debug-dir"}

	for _, flagName := range flagNames {
		if cmd.Flags().Changed(flagName) {
			return true
		}
	}
	return false
}

// logPruned reports entries the config loader dropped
func logPruned(logger *logging.Logger, pruned []config.ValidationError) {
	for _, p := range pruned {
		logger.Warn("config entry dropped", "field", p.Field, "value", p.Value, "reason", p.Message)
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, pruned, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger("keycast", logging.Level(cfg.LogLevel))
	logPruned(logger, pruned)

	if cfg.WindowTitle == "" {
		return fmt.Errorf("no window title configured (use --window, window_title in the config file, or KEYCAST_WINDOW_TITLE)")
	}

	// Early probe so a typo in the title surfaces before the first toggle.
	// The run itself re-resolves; failure here is only a warning.
	if _, err := winctl.NewCache(nil).ResolveFresh(cfg.WindowTitle); err != nil {
		logger.Warn("window not found yet, runs will retry the lookup",
			"window_title", cfg.WindowTitle, "error", err.Error())
	}

	reporter := ui.NewReporter(os.Stdout)
	reporter.SetQuiet(quiet)

	sinks := []engine.Events{reporter}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		sinks = append(sinks, journal.NewRecorder(j, cfg.WindowTitle, logger.WithComponent("journal")))
	}

	eng, err := engine.New(cfg, nil, engine.FanOut(sinks...), logger)
	if err != nil {
		return err
	}

	bound := eng.Start()
	if bound == 0 {
		logger.Warn("no hotkeys bound, nothing can start or stop a run")
	}
	reporter.StartBanner(cfg.WindowTitle, eng.Armed().String(), toggleDisplay(cfg), bound)
	logger.LogRunStart(cfg.Mode, cfg.WindowTitle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	eng.Shutdown()
	reporter.FinalSummary()
	return nil
}

// toggleDisplay returns the normalized display form of the toggle hotkey,
// or empty when none is configured or it does not parse.
func toggleDisplay(cfg *config.Config) string {
	if cfg.Hotkeys.Toggle == "" {
		return ""
	}
	spec, err := hotkey.Parse(cfg.Hotkeys.Toggle)
	if err != nil {
		return ""
	}
	return spec.Display
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
