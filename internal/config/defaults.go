package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values.
const (
	DefaultListenAddr        = ":2121"
	DefaultMetricsListenAddr = ":9121"
	DefaultMaxCommandLength  = 4096
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultAcceptTimeout     = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultDataTimeout       = time.Minute
)

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Timeouts: TimeoutsConfig{
				Idle:   DefaultIdleTimeout,
				Accept: DefaultAcceptTimeout,
				Dial:   DefaultDialTimeout,
				Data:   DefaultDataTimeout,
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults and normalizes
// values. Explicit values are preserved.
//
// Timeouts are not defaulted here: zero is a meaningful "disabled" value for
// them, so their defaults come from registerDefaults instead.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = DefaultMetricsListenAddr
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxCommandLength == 0 {
		cfg.MaxCommandLength = DefaultMaxCommandLength
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "os"
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Type == "os" && cfg.Root == "" {
		cfg.Root = "."
	}
}

// registerDefaults declares every key with viper. Keys unknown to viper are
// invisible to AutomaticEnv during Unmarshal, so this is what lets
// environment variables work without a config file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.max_connections_per_ip", 0)
	v.SetDefault("server.max_command_length", DefaultMaxCommandLength)
	v.SetDefault("server.command_batching", false)
	v.SetDefault("server.enable_kill", false)
	v.SetDefault("server.redact_ips", false)
	v.SetDefault("server.timeouts.idle", DefaultIdleTimeout)
	v.SetDefault("server.timeouts.accept", DefaultAcceptTimeout)
	v.SetDefault("server.timeouts.dial", DefaultDialTimeout)
	v.SetDefault("server.timeouts.data", DefaultDataTimeout)
	v.SetDefault("server.passive.public_host", "")
	v.SetDefault("server.passive.port_min", 0)
	v.SetDefault("server.passive.port_max", 0)
	v.SetDefault("server.bandwidth.global", 0)
	v.SetDefault("server.bandwidth.per_session", 0)

	v.SetDefault("storage.type", "os")
	v.SetDefault("storage.root", ".")
	v.SetDefault("storage.read_only", false)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("storage.dropbox.token", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", DefaultMetricsListenAddr)
}
