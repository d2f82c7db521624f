package commands

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/server"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile = ""
		initForce = false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	Version, Commit, Date = "1.2.3", "abc", "today"
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ftpd 1.2.3 (commit: abc, built: today)\n", out)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftpd.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListenAddr, cfg.Server.ListenAddr)

	_, err = execute(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: gopher\n"), 0o600))

	_, err := execute(t, "serve", "--config", path)
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestServerOptions(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.MaxConnections = 10
	cfg.Server.MaxConnectionsPerIP = 2
	cfg.Server.Passive.PortMin = 30000
	cfg.Server.Passive.PortMax = 30010
	cfg.Server.Bandwidth.Global = 1 << 20

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := serverOptions(cfg, log, server.NewAferoDriver(afero.NewMemMapFs()))

	srv, err := server.NewServer(cfg.Server.ListenAddr, opts...)
	require.NoError(t, err)
	assert.NotNil(t, srv)

	cfg.Server.Passive.PortMin = 40000
	_, err = server.NewServer(cfg.Server.ListenAddr, serverOptions(cfg, log, server.NewAferoDriver(afero.NewMemMapFs()))...)
	assert.ErrorContains(t, err, "invalid passive port range")
}
