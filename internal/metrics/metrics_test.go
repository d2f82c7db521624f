package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConnection(true, "accepted")
	c.RecordConnection(true, "accepted")
	c.RecordConnection(false, "per_ip_limit_reached")
	c.RecordCommand("RETR", true, 5*time.Millisecond)
	c.RecordCommand("RETR", false, time.Millisecond)
	c.RecordCommand("PWD", true, 0)
	c.RecordTransfer("STOR", 2048, time.Second)
	c.RecordTransfer("STOR", 1024, time.Second)
	c.RecordSessionClosed(3 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues("true", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues("false", "per_ip_limit_reached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("RETR", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("RETR", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transfersTotal.WithLabelValues("STOR")))
	assert.Equal(t, 3072.0, testutil.ToFloat64(c.transferBytes.WithLabelValues("STOR")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionDuration))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordCommand("NOOP", true, 0)
		c.RecordTransfer("RETR", 1, 0)
		c.RecordConnection(true, "accepted")
		c.RecordSessionClosed(0)
	})
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordCommand("NOOP", true, 0)

	srv := httptest.NewServer(NewRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ftpd_commands_total{command="NOOP",status="success"} 1`)

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ln.Addr().String(), prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	// A second Stop is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}
