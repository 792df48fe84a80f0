// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level static configuration.
// Maps to the `mmrobot:` root key in YAML.
type Config struct {
	Card    CardConfig    `mapstructure:"card"`
	Capture CaptureConfig `mapstructure:"capture"`
	Profile ProfileConfig `mapstructure:"profile"`
	Sinks   []SinkConfig  `mapstructure:"sinks"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Capture Card ───

// CardConfig addresses the capture card's two UDP channels and sets the
// command and packet-shaping parameters programmed during configuration.
type CardConfig struct {
	Addr          string `mapstructure:"addr"`            // card command endpoint
	LocalCmdAddr  string `mapstructure:"local_cmd_addr"`  // host command endpoint
	LocalDataAddr string `mapstructure:"local_data_addr"` // host data endpoint

	CommandTimeout  string `mapstructure:"command_timeout"`  // per-command deadline
	CommandAttempts int    `mapstructure:"command_attempts"` // tries per config command

	PacketSize    int    `mapstructure:"packet_size"`     // data payload bytes per datagram
	PacketDelayUs int    `mapstructure:"packet_delay_us"` // inter-packet delay
	LVDSLanes     int    `mapstructure:"lvds_lanes"`      // 4 (xWR14xx) or 2
	SampleBits    int    `mapstructure:"sample_bits"`     // 12, 14 or 16
	CaptureTimer  string `mapstructure:"capture_timer"`   // card-side record safety timer
}

// ─── Receive Path ───

// CaptureConfig tunes the data receive loop.
type CaptureConfig struct {
	ReadBufferMB int `mapstructure:"read_buffer_mb"` // kernel receive buffer
	QueueFrames  int `mapstructure:"queue_frames"`   // bounded frame queue to the sink
	MaxGapMB     int `mapstructure:"max_gap_mb"`     // largest plausible single loss
}

// ─── Radar Profile ───

// ProfileConfig carries the frame geometry the radar was programmed with.
// The card knows nothing about frames; these numbers are the only way the
// capture pipeline learns where one frame ends and the next begins.
type ProfileConfig struct {
	Samples       int     `mapstructure:"samples"`
	Chirps        int     `mapstructure:"chirps"`
	RxChannels    int     `mapstructure:"rx_channels"`
	TxChannels    int     `mapstructure:"tx_channels"`
	FramePeriodMs float64 `mapstructure:"frame_period_ms"`
	FrameCount    int     `mapstructure:"frame_count"` // 0 = capture until cancelled
}

// ─── Sinks ───

// SinkConfig selects one frame sink and carries its type-specific options.
// Options are decoded by the sink itself.
type SinkConfig struct {
	Type    string         `mapstructure:"type"` // file | kafka | console
	Options map[string]any `mapstructure:"options"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `mmrobot: ...`.
type configRoot struct {
	MMRobot Config `mapstructure:"mmrobot"`
}

// Load loads configuration from file.
// The YAML file uses `mmrobot:` as root key; env vars use the MMROBOT_ prefix
// (e.g. MMROBOT_LOG_LEVEL overrides mmrobot.log.level).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides. The `mmrobot.` key prefix maps to the
	// MMROBOT_ env prefix through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.MMRobot

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "mmrobot." prefix to match the YAML root wrapper.
// Card addressing follows the vendor's static network plan: the card answers
// commands on 192.168.33.181:4096 and streams data to host port 4098.
func setDefaults(v *viper.Viper) {
	// Card defaults
	v.SetDefault("mmrobot.card.addr", "192.168.33.181:4096")
	v.SetDefault("mmrobot.card.local_cmd_addr", "192.168.33.30:4096")
	v.SetDefault("mmrobot.card.local_data_addr", "192.168.33.30:4098")
	v.SetDefault("mmrobot.card.command_timeout", "1s")
	v.SetDefault("mmrobot.card.command_attempts", 3)
	v.SetDefault("mmrobot.card.packet_size", 1456)
	v.SetDefault("mmrobot.card.packet_delay_us", 25)
	v.SetDefault("mmrobot.card.lvds_lanes", 4)
	v.SetDefault("mmrobot.card.sample_bits", 16)
	v.SetDefault("mmrobot.card.capture_timer", "30s")

	// Receive path defaults
	v.SetDefault("mmrobot.capture.read_buffer_mb", 8)
	v.SetDefault("mmrobot.capture.queue_frames", 64)
	v.SetDefault("mmrobot.capture.max_gap_mb", 256)

	// Profile defaults. Geometry has no sane default; only the knobs that
	// tolerate one get one.
	v.SetDefault("mmrobot.profile.chirps", 1)
	v.SetDefault("mmrobot.profile.tx_channels", 1)

	// Log defaults
	v.SetDefault("mmrobot.log.level", "info")
	v.SetDefault("mmrobot.log.format", "text")
	v.SetDefault("mmrobot.log.outputs.file.enabled", false)
	v.SetDefault("mmrobot.log.outputs.file.path", "mmrobot.log")
	v.SetDefault("mmrobot.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("mmrobot.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("mmrobot.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("mmrobot.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("mmrobot.metrics.enabled", false)
	v.SetDefault("mmrobot.metrics.listen", ":9091")
	v.SetDefault("mmrobot.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults that depend on other fields.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Card validation ──
	for name, value := range map[string]string{
		"card.addr":            cfg.Card.Addr,
		"card.local_cmd_addr":  cfg.Card.LocalCmdAddr,
		"card.local_data_addr": cfg.Card.LocalDataAddr,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	for name, value := range map[string]string{
		"card.command_timeout": cfg.Card.CommandTimeout,
		"card.capture_timer":   cfg.Card.CaptureTimer,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if cfg.Card.CommandAttempts < 1 {
		return fmt.Errorf("card.command_attempts must be at least 1, got %d", cfg.Card.CommandAttempts)
	}

	// ── Receive path validation ──
	if cfg.Capture.QueueFrames < 1 {
		return fmt.Errorf("capture.queue_frames must be at least 1, got %d", cfg.Capture.QueueFrames)
	}

	// ── Profile validation ──
	for name, value := range map[string]int{
		"profile.samples":     cfg.Profile.Samples,
		"profile.chirps":      cfg.Profile.Chirps,
		"profile.rx_channels": cfg.Profile.RxChannels,
		"profile.tx_channels": cfg.Profile.TxChannels,
	} {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, value)
		}
	}
	if cfg.Profile.FramePeriodMs < 0 {
		return fmt.Errorf("profile.frame_period_ms must not be negative, got %v", cfg.Profile.FramePeriodMs)
	}
	if cfg.Profile.FrameCount < 0 {
		return fmt.Errorf("profile.frame_count must not be negative, got %d", cfg.Profile.FrameCount)
	}

	// ── Sinks validation ──
	if len(cfg.Sinks) == 0 {
		// Captures with no sink configured still run; frames land on disk in
		// the working directory.
		cfg.Sinks = []SinkConfig{{Type: "file", Options: map[string]any{"dir": "."}}}
	}
	for i, s := range cfg.Sinks {
		if s.Type == "" {
			return fmt.Errorf("sinks[%d].type is required", i)
		}
	}

	return nil
}

// Duration returns the parsed value of a duration field validated by
// ValidateAndApplyDefaults.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
