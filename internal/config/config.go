// Package config loads the ftpd configuration from a YAML file, FTPD_*
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete ftpd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FTPD_*, e.g. FTPD_SERVER_LISTEN_ADDR)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for sessions to finish
	// on SIGINT/SIGTERM before they are closed forcibly.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// Server configures the FTP listener and sessions
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage selects the filesystem served to clients
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the FTP server.
type ServerConfig struct {
	// ListenAddr is the control connection address
	// Default: ":2121"
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// MaxConnections caps simultaneous sessions (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// MaxConnectionsPerIP caps simultaneous sessions per client IP (0 = unlimited)
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip" validate:"gte=0" yaml:"max_connections_per_ip"`

	// MaxCommandLength caps a control line in bytes
	// Default: 4096
	MaxCommandLength int `mapstructure:"max_command_length" validate:"gt=0" yaml:"max_command_length"`

	// CommandBatching allows several ';'-separated commands per line
	CommandBatching bool `mapstructure:"command_batching" yaml:"command_batching"`

	// EnableKill enables the KILL command, which stops the server
	EnableKill bool `mapstructure:"enable_kill" yaml:"enable_kill"`

	// RedactIPs masks client addresses in logs
	RedactIPs bool `mapstructure:"redact_ips" yaml:"redact_ips"`

	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Passive   PassiveConfig   `mapstructure:"passive" yaml:"passive"`
	Bandwidth BandwidthConfig `mapstructure:"bandwidth" yaml:"bandwidth"`
}

// TimeoutsConfig bounds every blocking point of a session. Zero disables a
// timeout.
type TimeoutsConfig struct {
	// Idle is the wait for the next command
	// Default: 5m
	Idle time.Duration `mapstructure:"idle" validate:"gte=0" yaml:"idle"`

	// Accept is the wait for a client to connect to a passive port
	// Default: 30s
	Accept time.Duration `mapstructure:"accept" validate:"gte=0" yaml:"accept"`

	// Dial is the connect timeout of active mode
	// Default: 10s
	Dial time.Duration `mapstructure:"dial" validate:"gte=0" yaml:"dial"`

	// Data is the inactivity timeout of a running transfer
	// Default: 1m
	Data time.Duration `mapstructure:"data" validate:"gte=0" yaml:"data"`
}

// PassiveConfig configures PASV.
type PassiveConfig struct {
	// PublicHost is advertised in 227 replies instead of the local address
	PublicHost string `mapstructure:"public_host" yaml:"public_host"`

	// PortMin and PortMax restrict passive listeners to a range.
	// Both zero means any free port.
	PortMin int `mapstructure:"port_min" validate:"gte=0,lte=65535" yaml:"port_min"`
	PortMax int `mapstructure:"port_max" validate:"gte=0,lte=65535" yaml:"port_max"`
}

// BandwidthConfig limits data connections in bytes per second (0 = unlimited).
type BandwidthConfig struct {
	Global     int64 `mapstructure:"global" validate:"gte=0" yaml:"global"`
	PerSession int64 `mapstructure:"per_session" validate:"gte=0" yaml:"per_session"`
}

// StorageConfig selects and configures the filesystem backend.
type StorageConfig struct {
	// Type is one of: os, memory, s3, dropbox
	// Default: os
	Type string `mapstructure:"type" validate:"required,oneof=os memory s3 dropbox" yaml:"type"`

	// Root is the served directory for the os backend
	Root string `mapstructure:"root" yaml:"root"`

	// ReadOnly rejects every modifying operation
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
	Dropbox DropboxConfig `mapstructure:"dropbox" yaml:"dropbox"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Static credentials. When empty the AWS SDK default chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// PathStyle forces path-style addressing, needed by MinIO and friends
	PathStyle bool `mapstructure:"path_style" yaml:"path_style"`
}

// DropboxConfig configures the dropbox backend.
type DropboxConfig struct {
	// Token is the API token. Falls back to $DROPBOX_TOKEN.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the HTTP address of /metrics and /health
	// Default: ":9121"
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath means $XDG_CONFIG_HOME/ftpd/config.yaml. A missing
// file is not an error; environment variables and defaults still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
// The file is created with mode 0600 since it may hold storage credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// location. Every key gets a default so that AutomaticEnv can override keys
// that are absent from the file.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file. A missing file is fine.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings such as "30s" or "5m" and raw integer
// nanoseconds to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/ftpd, ~/.config/ftpd, or "." when no
// home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ftpd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ftpd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
