package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the keycast engine
type Config struct {
	WindowTitle string          `mapstructure:"window_title"`
	Mode        string          `mapstructure:"mode"`
	LogLevel    string          `mapstructure:"log_level"`
	Keys        []KeyConfig     `mapstructure:"keys"`
	Regions     []RegionConfig  `mapstructure:"regions"`
	Monitor     MonitorConfig   `mapstructure:"monitor"`
	Hotkeys     HotkeysConfig   `mapstructure:"hotkeys"`
	Injection   InjectionConfig `mapstructure:"injection"`
	Journal     JournalConfig   `mapstructure:"journal"`
}

// KeyConfig describes one timed key: what to send and how often.
// Entries are immutable for the duration of a run.
type KeyConfig struct {
	Key         string        `mapstructure:"key"`
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Label       string        `mapstructure:"label"`
	ResetHotkey string        `mapstructure:"reset_hotkey"`
}

// RegionConfig describes one watched screen region in reference-resolution
// coordinates. SendKey overrides the fallback key table for this region.
type RegionConfig struct {
	Index        int    `mapstructure:"index"`
	Name         string `mapstructure:"name"`
	X            int    `mapstructure:"x"`
	Y            int    `mapstructure:"y"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	Enabled      bool   `mapstructure:"enabled"`
	SendKey      string `mapstructure:"send_key"`
	Icon         string `mapstructure:"icon"`
	EnableHotkey string `mapstructure:"enable_hotkey"`
}

// MonitorConfig holds the visual state monitor settings
type MonitorConfig struct {
	Tick                time.Duration     `mapstructure:"tick"`
	ReferenceWidth      int               `mapstructure:"reference_width"`
	ReferenceHeight     int               `mapstructure:"reference_height"`
	SaturationThreshold int               `mapstructure:"saturation_threshold"`
	MatchThreshold      float64           `mapstructure:"match_threshold"`
	DebugDir            string            `mapstructure:"debug_dir"`
	FallbackKeys        map[string]string `mapstructure:"fallback_keys"`
}

// HotkeysConfig holds the global hotkey bindings
type HotkeysConfig struct {
	Toggle string `mapstructure:"toggle"`
}

// InjectionConfig holds the key injection settings
type InjectionConfig struct {
	Backend  string        `mapstructure:"backend"`
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// JournalConfig holds the run journal settings. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// envMappings maps environment variables to config keys
var envMappings = map[string]string{
	"KEYCAST_WINDOW_TITLE":         "window_title",
	"KEYCAST_MODE":                 "mode",
	"KEYCAST_LOG_LEVEL":            "log_level",
	"KEYCAST_MONITOR_TICK":         "monitor.tick",
	"KEYCAST_SATURATION_THRESHOLD": "monitor.saturation_threshold",
	"KEYCAST_MATCH_THRESHOLD":      "monitor.match_threshold",
	"KEYCAST_INJECTION_BACKEND":    "injection.backend",
	"KEYCAST_JOURNAL_PATH":         "journal.path",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(configFile string) (*Config, []ValidationError, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configFile)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	pruned := config.Prune()

	if err := config.Validate(); err != nil {
		return nil, pruned, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, pruned, nil
}

// LoadWithPrecedence loads configuration with full precedence support:
// flags > environment > config file > defaults. The explicitFields map
// tracks which flags were set on the command line so zero values merge
// correctly. Pruned-entry warnings are returned for the caller to log.
func LoadWithPrecedence(configFile string, flagConfig *Config, explicitFields map[string]bool) (*Config, []ValidationError, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KEYCAST")
	v.AutomaticEnv()

	for envVar, configKey := range envMappings {
		v.BindEnv(configKey, envVar)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flagConfig != nil && explicitFields != nil {
		config = *config.MergeWithExplicitFlags(flagConfig, explicitFields)
	}

	pruned := config.Prune()

	if err := config.Validate(); err != nil {
		return nil, pruned, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, pruned, nil
}

// LoadWithDefaults returns a configuration with default values
func LoadWithDefaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)
	return &config
}

// setDefaults sets the default configuration values. The threshold and
// pacing defaults match the behavior the engine was tuned with.
func setDefaults(v *viper.Viper) {
	v.SetDefault("window_title", "")
	v.SetDefault("mode", "timed")
	v.SetDefault("log_level", "info")
	v.SetDefault("monitor.tick", 100*time.Millisecond)
	v.SetDefault("monitor.reference_width", 0)
	v.SetDefault("monitor.reference_height", 0)
	v.SetDefault("monitor.saturation_threshold", 50)
	v.SetDefault("monitor.match_threshold", 0.89)
	v.SetDefault("monitor.debug_dir", "")
	v.SetDefault("hotkeys.toggle", "Ctrl+Num0")
	v.SetDefault("injection.backend", "post")
	v.SetDefault("injection.attempts", 3)
	v.SetDefault("injection.delay", 200*time.Millisecond)
	v.SetDefault("journal.path", "")
}

// MergeWithExplicitFlags merges configuration with explicitly set flag values
func (c *Config) MergeWithExplicitFlags(flags *Config, explicitFields map[string]bool) *Config {
	result := *c // Copy base config

	if explicitFields["window_title"] {
		result.WindowTitle = flags.WindowTitle
	}
	if explicitFields["mode"] {
		result.Mode = flags.Mode
	}
	if explicitFields["log_level"] {
		result.LogLevel = flags.LogLevel
	}
	if explicitFields["injection.backend"] {
		result.Injection.Backend = flags.Injection.Backend
	}
	if explicitFields["journal.path"] {
		result.Journal.Path = flags.Journal.Path
	}
	if explicitFields["monitor.debug_dir"] {
		result.Monitor.DebugDir = flags.Monitor.DebugDir
	}

	return &result
}

// FindConfigFile searches for a configuration file in the given directory.
// It looks for .keycast.toml and keycast.toml files.
func FindConfigFile(dir string) string {
	configNames := []string{".keycast.toml", "keycast.toml"}

	for _, name := range configNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return ""
}

// Prune normalizes the config in place and drops entries that can never be
// used: keys with empty names or negative intervals, duplicate key names,
// regions with non-positive dimensions. Each dropped entry is reported so
// the caller can log a warning; a bad entry never fails the whole config.
func (c *Config) Prune() []ValidationError {
	var pruned []ValidationError

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Injection.Backend = strings.ToLower(strings.TrimSpace(c.Injection.Backend))

	keys := c.Keys[:0]
	seen := make(map[string]bool)
	for i, k := range c.Keys {
		k.Key = strings.TrimSpace(k.Key)
		switch {
		case k.Key == "":
			pruned = append(pruned, ValidationError{
				Field:   fmt.Sprintf("keys[%d].key", i),
				Value:   "",
				Message: "key name is empty, entry dropped",
			})
		case k.Interval < 0:
			pruned = append(pruned, ValidationError{
				Field:   fmt.Sprintf("keys[%d].interval", i),
				Value:   k.Interval,
				Message: "interval is negative, entry dropped",
			})
		case seen[strings.ToUpper(k.Key)]:
			pruned = append(pruned, ValidationError{
				Field:   fmt.Sprintf("keys[%d].key", i),
				Value:   k.Key,
				Message: "duplicate key name, entry dropped",
			})
		default:
			seen[strings.ToUpper(k.Key)] = true
			keys = append(keys, k)
		}
	}
	c.Keys = keys

	regions := c.Regions[:0]
	for i, r := range c.Regions {
		if r.Width <= 0 || r.Height <= 0 {
			pruned = append(pruned, ValidationError{
				Field:   fmt.Sprintf("regions[%d]", i),
				Value:   fmt.Sprintf("%dx%d", r.Width, r.Height),
				Message: "region dimensions must be positive, entry dropped",
			})
			continue
		}
		if r.Index <= 0 {
			r.Index = len(regions) + 1
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("region%d", r.Index)
		}
		regions = append(regions, r)
	}
	c.Regions = regions

	return pruned
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errors []ValidationError

	switch c.Mode {
	case "timed", "monitor", "none":
	default:
		errors = append(errors, ValidationError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "must be 'timed', 'monitor' or 'none'",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: "must be 'debug', 'info', 'warn' or 'error'",
		})
	}

	switch c.Injection.Backend {
	case "post", "tap":
	default:
		errors = append(errors, ValidationError{
			Field:   "injection.backend",
			Value:   c.Injection.Backend,
			Message: "must be 'post' or 'tap'",
		})
	}

	if c.Injection.Attempts < 1 || c.Injection.Attempts > 10 {
		errors = append(errors, ValidationError{
			Field:   "injection.attempts",
			Value:   c.Injection.Attempts,
			Message: "must be between 1 and 10",
		})
	}

	if c.Injection.Delay < 0 {
		errors = append(errors, ValidationError{
			Field:   "injection.delay",
			Value:   c.Injection.Delay,
			Message: "must be non-negative",
		})
	}
	if c.Injection.Delay > 5*time.Second {
		errors = append(errors, ValidationError{
			Field:   "injection.delay",
			Value:   c.Injection.Delay,
			Message: "must be 5 seconds or less",
		})
	}

	if c.Monitor.Tick <= 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.tick",
			Value:   c.Monitor.Tick,
			Message: "must be positive",
		})
	}
	if c.Monitor.Tick > 5*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.tick",
			Value:   c.Monitor.Tick,
			Message: "must be 5 seconds or less",
		})
	}

	if c.Monitor.ReferenceWidth < 0 || c.Monitor.ReferenceHeight < 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.reference_width",
			Value:   fmt.Sprintf("%dx%d", c.Monitor.ReferenceWidth, c.Monitor.ReferenceHeight),
			Message: "reference resolution must be non-negative (0 disables scaling)",
		})
	}
	if (c.Monitor.ReferenceWidth == 0) != (c.Monitor.ReferenceHeight == 0) {
		errors = append(errors, ValidationError{
			Field:   "monitor.reference_height",
			Value:   fmt.Sprintf("%dx%d", c.Monitor.ReferenceWidth, c.Monitor.ReferenceHeight),
			Message: "reference width and height must be set together",
		})
	}

	if c.Monitor.SaturationThreshold < 0 || c.Monitor.SaturationThreshold > 255 {
		errors = append(errors, ValidationError{
			Field:   "monitor.saturation_threshold",
			Value:   c.Monitor.SaturationThreshold,
			Message: "must be between 0 and 255",
		})
	}

	if c.Monitor.MatchThreshold <= 0 || c.Monitor.MatchThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.match_threshold",
			Value:   c.Monitor.MatchThreshold,
			Message: "must be greater than 0 and at most 1",
		})
	}

	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return nil
}
