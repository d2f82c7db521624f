package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, ":2121", cfg.Server.ListenAddr)
	assert.Equal(t, 4096, cfg.Server.MaxCommandLength)
	assert.Equal(t, 5*time.Minute, cfg.Server.Timeouts.Idle)
	assert.Equal(t, "os", cfg.Storage.Type)
	assert.False(t, cfg.Server.CommandBatching)
	assert.False(t, cfg.Server.EnableKill)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
shutdown_timeout: 5s
server:
  listen_addr: "127.0.0.1:2200"
  max_connections: 50
  max_connections_per_ip: 5
  command_batching: true
  timeouts:
    idle: 90s
    data: 0s
  passive:
    public_host: ftp.example.com
    port_min: 30000
    port_max: 30010
  bandwidth:
    per_session: 1048576
storage:
  type: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "127.0.0.1:2200", cfg.Server.ListenAddr)
	assert.Equal(t, 50, cfg.Server.MaxConnections)
	assert.Equal(t, 5, cfg.Server.MaxConnectionsPerIP)
	assert.True(t, cfg.Server.CommandBatching)
	assert.Equal(t, 90*time.Second, cfg.Server.Timeouts.Idle)
	assert.Zero(t, cfg.Server.Timeouts.Data)
	assert.Equal(t, DefaultAcceptTimeout, cfg.Server.Timeouts.Accept)
	assert.Equal(t, "ftp.example.com", cfg.Server.Passive.PublicHost)
	assert.Equal(t, 30000, cfg.Server.Passive.PortMin)
	assert.Equal(t, 30010, cfg.Server.Passive.PortMax)
	assert.Equal(t, int64(1048576), cfg.Server.Bandwidth.PerSession)
	assert.Equal(t, "memory", cfg.Storage.Type)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FTPD_SERVER_LISTEN_ADDR", ":2525")
	t.Setenv("FTPD_SERVER_ENABLE_KILL", "true")
	t.Setenv("FTPD_SERVER_TIMEOUTS_IDLE", "2m")
	t.Setenv("FTPD_STORAGE_TYPE", "memory")

	path := writeConfig(t, "server:\n  listen_addr: \":3000\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":2525", cfg.Server.ListenAddr)
	assert.True(t, cfg.Server.EnableKill)
	assert.Equal(t, 2*time.Minute, cfg.Server.Timeouts.Idle)
	assert.Equal(t, "memory", cfg.Storage.Type)
}

func TestLoad_EnvWithoutFile(t *testing.T) {
	t.Setenv("FTPD_METRICS_ENABLED", "true")
	t.Setenv("FTPD_SERVER_BANDWIDTH_GLOBAL", "4096")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9121", cfg.Metrics.ListenAddr)
	assert.Equal(t, int64(4096), cfg.Server.Bandwidth.Global)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "shutdown_timeout: soon\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ListenAddr = ":2999"
	cfg.Server.Timeouts.Idle = 42 * time.Second
	cfg.Storage.Type = "memory"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	for _, section := range []string{"# ftpd Configuration File", "logging:", "server:", "storage:", "metrics:"} {
		assert.True(t, strings.Contains(text, section), "missing %q", section)
	}

	var parsed Config
	require.NoError(t, yaml.Unmarshal(content, &parsed))
	assert.Equal(t, DefaultIdleTimeout, parsed.Server.Timeouts.Idle)

	_, err = InitConfig(false)
	assert.ErrorContains(t, err, "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err)
}
