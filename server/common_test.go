package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func fatalIfErr(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer serves an in-memory filesystem on a loopback port. The
// server is closed when the test ends.
func startTestServer(t *testing.T, options ...Option) (*Server, string, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	opts := append([]Option{
		WithDriver(NewAferoDriver(fs)),
		WithLogger(discardLogger()),
	}, options...)

	s, err := NewServer("127.0.0.1:0", opts...)
	fatalIfErr(t, err, "NewServer")

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	fatalIfErr(t, err, "listen")

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return s, ln.Addr().String(), fs
}

// ctrl is a raw control connection.
type ctrl struct {
	t *testing.T
	*textproto.Conn
}

// dialCtrl connects and consumes the 220 greeting.
func dialCtrl(t *testing.T, addr string) *ctrl {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err, "dial %s", addr)
	conn := newTextprotoConn(nc)
	t.Cleanup(func() { conn.Close() })

	c := &ctrl{t: t, Conn: conn}
	c.expect(220)
	return c
}

// newTextprotoConn wraps nc with a read deadline so a missing reply fails
// the test instead of hanging it.
func newTextprotoConn(nc net.Conn) *textproto.Conn {
	_ = nc.SetDeadline(time.Now().Add(10 * time.Second))
	return textproto.NewConn(nc)
}

// expect reads one reply and fails the test unless it carries code.
func (c *ctrl) expect(code int) string {
	c.t.Helper()
	got, msg, err := c.ReadCodeLine(-1)
	if err != nil {
		c.t.Fatalf("reading reply (want %d): %v", code, err)
	}
	if got != code {
		c.t.Fatalf("got reply %d %q, want %d", got, msg, code)
	}
	return msg
}

// cmd sends a command and expects a reply with code.
func (c *ctrl) cmd(code int, format string, args ...any) string {
	c.t.Helper()
	fatalIfErr(c.t, c.PrintfLine(format, args...), "send %q", format)
	return c.expect(code)
}

// pasv issues PASV and returns the advertised address.
func (c *ctrl) pasv() string {
	c.t.Helper()
	msg := c.cmd(227, "PASV")
	addr, err := parsePASVReply(msg)
	fatalIfErr(c.t, err, "parse %q", msg)
	return addr
}

func parsePASVReply(msg string) (string, error) {
	start, end := strings.Index(msg, "("), strings.LastIndex(msg, ")")
	if start < 0 || end < start {
		return "", fmt.Errorf("no tuple in %q", msg)
	}
	f := strings.Split(msg[start+1:end], ",")
	if len(f) != 6 {
		return "", fmt.Errorf("bad tuple in %q", msg)
	}
	p1, err := strconv.Atoi(f[4])
	if err != nil {
		return "", err
	}
	p2, err := strconv.Atoi(f[5])
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(strings.Join(f[:4], "."), strconv.Itoa(p1*256+p2)), nil
}

// readData connects to addr and reads until the server closes.
func readData(t *testing.T, addr string) <-chan string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err, "data dial %s", addr)

	out := make(chan string, 1)
	go func() {
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		out <- string(b)
	}()
	return out
}

// fakeCollector records every metrics event.
type fakeCollector struct {
	mu sync.Mutex
	collectorState
}

type collectorState struct {
	commands  []string
	failures  []string
	transfers map[string]int64
	accepted  int
	rejected  map[string]int
	closed    int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{collectorState: collectorState{
		transfers: make(map[string]int64),
		rejected:  make(map[string]int),
	}}
}

func (f *fakeCollector) RecordCommand(cmd string, success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if !success {
		f.failures = append(f.failures, cmd)
	}
}

func (f *fakeCollector) RecordTransfer(op string, bytes int64, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[op] += bytes
}

func (f *fakeCollector) RecordConnection(accepted bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accepted {
		f.accepted++
	} else {
		f.rejected[reason]++
	}
}

func (f *fakeCollector) RecordSessionClosed(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeCollector) snapshot() collectorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := collectorState{
		commands:  append([]string(nil), f.commands...),
		failures:  append([]string(nil), f.failures...),
		transfers: make(map[string]int64),
		rejected:  make(map[string]int),
		accepted:  f.accepted,
		closed:    f.closed,
	}
	for k, v := range f.transfers {
		st.transfers[k] = v
	}
	for k, v := range f.rejected {
		st.rejected[k] = v
	}
	return st
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
