package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Backend BackendConfig `mapstructure:"backend"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Render  RenderConfig  `mapstructure:"render"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// BackendConfig describes the chat backend the client streams from
type BackendConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	PersonaID      int           `mapstructure:"persona_id"`
	Timeout        time.Duration `mapstructure:"-"`
	TimeoutStr     string        `mapstructure:"timeout"`
	StopTimeout    time.Duration `mapstructure:"-"`
	StopTimeoutStr string        `mapstructure:"stop_timeout"`
}

// StreamConfig holds the presentation timings of the packet reveal
type StreamConfig struct {
	Animate       bool          `mapstructure:"animate"`
	Tick          time.Duration `mapstructure:"-"`
	TickStr       string        `mapstructure:"tick"`
	MinDisplay    time.Duration `mapstructure:"-"`
	MinDisplayStr string        `mapstructure:"min_display"`
}

// RenderConfig holds terminal rendering options
type RenderConfig struct {
	Width       int    `mapstructure:"width"`
	SyntaxStyle string `mapstructure:"syntax_style"`
	Color       bool   `mapstructure:"color"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Set installs c as the global config. Mostly useful in tests.
func Set(c *Config) {
	cfg = c
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.chatstream") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "chatstream"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults apply. A broken one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			if _, statErr := os.Stat(cfgFile); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper doesn't handle time.Duration from plain strings in nested structs
	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("logging.log_file", "./.chatstream/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("backend.url", "http://localhost:8080")
	viper.SetDefault("backend.api_key", "")
	viper.SetDefault("backend.persona_id", 0)
	viper.SetDefault("backend.timeout", "5m")
	viper.SetDefault("backend.stop_timeout", "5s")

	viper.SetDefault("stream.animate", true)
	viper.SetDefault("stream.tick", "10ms")
	viper.SetDefault("stream.min_display", "1500ms")

	viper.SetDefault("render.width", 100)
	viper.SetDefault("render.syntax_style", "monokai")
	viper.SetDefault("render.color", true)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", ":9464")
}

// bindEnvironmentVariables binds CHATSTREAM_ environment variables to viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("backend.url", "CHATSTREAM_BACKEND_URL")
	viper.BindEnv("backend.api_key", "CHATSTREAM_API_KEY")
	viper.BindEnv("backend.timeout", "CHATSTREAM_BACKEND_TIMEOUT")
	viper.BindEnv("logging.level", "CHATSTREAM_LOG_LEVEL")
	viper.BindEnv("logging.log_file", "CHATSTREAM_LOG_FILE")
	viper.BindEnv("stream.animate", "CHATSTREAM_ANIMATE")
	viper.BindEnv("stream.tick", "CHATSTREAM_TICK")
	viper.BindEnv("stream.min_display", "CHATSTREAM_MIN_DISPLAY")
}

// processDurations converts string durations to time.Duration
func processDurations(c *Config) error {
	fields := []struct {
		key string
		raw string
		dst *time.Duration
		def time.Duration
	}{
		{"backend.timeout", c.Backend.TimeoutStr, &c.Backend.Timeout, 5 * time.Minute},
		{"backend.stop_timeout", c.Backend.StopTimeoutStr, &c.Backend.StopTimeout, 5 * time.Second},
		{"stream.tick", c.Stream.TickStr, &c.Stream.Tick, 10 * time.Millisecond},
		{"stream.min_display", c.Stream.MinDisplayStr, &c.Stream.MinDisplay, 1500 * time.Millisecond},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", f.key)
		}
		*f.dst = d
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
