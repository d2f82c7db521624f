package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It accepts control connections and runs one session per connection in its
// own goroutine. Sessions share nothing but the Driver and the server's
// termination flag.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Stop with Shutdown() (graceful) or Close() (immediate)
//
// Basic example:
//
//	driver, _ := server.NewOSDriver("/srv/ftp")
//	s, err := server.NewServer(":2121", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":2121").
	addr string

	// driver is the filesystem provider.
	driver Driver

	logger *slog.Logger

	// maxIdleTime bounds the wait for the next command. Defaults to 5 minutes.
	maxIdleTime time.Duration

	// acceptTimeout bounds the wait for a client to connect to a PASV port.
	acceptTimeout time.Duration

	// dialTimeout bounds the outgoing connect of active mode.
	dialTimeout time.Duration

	// dataTimeout is the inactivity timeout on data connections.
	dataTimeout time.Duration

	// maxConnections is the maximum number of simultaneous sessions.
	// If 0, there is no limit.
	maxConnections int

	// maxConnectionsPerIP is the maximum number of simultaneous sessions per
	// client IP. If 0, there is no per-IP limit.
	maxConnectionsPerIP int

	maxCommandLength int
	commandBatching  bool
	enableKill       bool

	// Passive mode settings
	publicHost      string
	pasvMinPort     int
	pasvMaxPort     int
	nextPassivePort atomic.Int32

	// Bandwidth limits in bytes per second (0 = unlimited)
	bandwidthLimitPerSession int64
	globalLimiter            *rate.Limiter

	metricsCollector MetricsCollector
	pathRedactor     PathRedactor
	redactIPs        bool

	// ctx is cancelled by Close. Sessions and data connections derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	connsByIP  map[string]int
	sessions   sync.WaitGroup
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Shutdown or Close, or after a KILL command.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - Passive accept timeout: 30 seconds
//   - Active dial timeout: 10 seconds
//   - Data inactivity timeout: 1 minute
//   - MaxConnections: 0 (unlimited)
//   - MaxCommandLength: 4096 bytes
//
// With connection limits:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10), // Max 100 total, 10 per IP
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:             addr,
		logger:           slog.Default(),
		maxIdleTime:      5 * time.Minute,
		acceptTimeout:    30 * time.Second,
		dialTimeout:      10 * time.Second,
		dataTimeout:      time.Minute,
		maxCommandLength: DefaultMaxCommandLength,
		conns:            make(map[net.Conn]struct{}),
		connsByIP:        make(map[string]int),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// ListenAndServe serves rootPath from the host filesystem on addr with
// default settings.
func ListenAndServe(addr, rootPath string) error {
	driver, err := NewOSDriver(rootPath)
	if err != nil {
		return err
	}
	s, err := NewServer(addr, WithDriver(driver))
	if err != nil {
		return err
	}
	return s.ListenAndServe()
}

// Serve accepts incoming connections on the listener l.
// It blocks until the server is shut down or the listener fails.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Shutdown stops the server gracefully.
//
// It closes the listener, lets every session finish the command it is
// running and then waits for the sessions to end. If ctx expires first, the
// remaining connections are closed as in Close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown.Store(true)
	err := s.closeListenerLocked()
	now := time.Now()
	for conn := range s.conns {
		// Wake sessions blocked waiting for their next command.
		_ = conn.SetReadDeadline(now)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return err
	case <-ctx.Done():
		var result *multierror.Error
		result = multierror.Append(result, ctx.Err())
		if cerr := s.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
		return result.ErrorOrNil()
	}
}

// Close stops the server immediately, closing the listener and every control
// and data connection.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.closeListenerLocked()
	for conn := range s.conns {
		conn.Close()
	}
	clear(s.conns)
	return err
}

// Terminated reports whether the server has been told to stop.
func (s *Server) Terminated() bool {
	return s.inShutdown.Load()
}

func (s *Server) closeListenerLocked() error {
	ln := s.listener
	s.listener = nil
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// handleConnection admits a new control connection and runs its session.
func (s *Server) handleConnection(conn net.Conn) {
	ip := remoteIP(conn)

	reason, ok := s.admit(conn, ip)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(ok, reason)
	}
	if !ok {
		s.reject(conn, ip, reason)
		return
	}
	defer s.release(conn, ip)

	started := time.Now()
	newSession(s, conn, ip).serve()

	if s.metricsCollector != nil {
		s.metricsCollector.RecordSessionClosed(time.Since(started))
	}
}

// admit registers conn unless the server is stopping or a limit is reached.
func (s *Server) admit(conn net.Conn, ip string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		return "shutdown", false
	}
	if s.maxConnections > 0 && len(s.conns) >= s.maxConnections {
		return "global_limit_reached", false
	}
	if s.maxConnectionsPerIP > 0 && s.connsByIP[ip] >= s.maxConnectionsPerIP {
		return "per_ip_limit_reached", false
	}

	s.conns[conn] = struct{}{}
	s.connsByIP[ip]++
	s.sessions.Add(1)
	return "accepted", true
}

func (s *Server) release(conn net.Conn, ip string) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
	s.mu.Unlock()
	s.sessions.Done()
}

func (s *Server) reject(conn net.Conn, ip, reason string) {
	defer conn.Close()

	if reason == "shutdown" {
		return
	}

	// Security audit: connection limit reached
	limit := s.maxConnections
	msg := "Too many users, sorry."
	if reason == "per_ip_limit_reached" {
		limit = s.maxConnectionsPerIP
		msg = "Too many connections from your IP address."
	}
	s.logger.Warn("connection_rejected",
		"remote_ip", s.redactIP(ip),
		"reason", reason,
		"limit", limit,
	)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn, "421 %s\r\n", msg)
}

// armIdleDeadline sets the read deadline for a session's next command.
// Once shutdown has begun the deadline is already in the past, so a session
// that finishes its current command stops instead of waiting for another.
func (s *Server) armIdleDeadline(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.inShutdown.Load():
		_ = conn.SetReadDeadline(time.Now())
	case s.maxIdleTime > 0:
		_ = conn.SetReadDeadline(time.Now().Add(s.maxIdleTime))
	default:
		_ = conn.SetReadDeadline(time.Time{})
	}
}

// passivePortOffset returns the round-robin starting offset for port ranges.
func (s *Server) passivePortOffset() int {
	return int(s.nextPassivePort.Add(1) & 0x7fffffff)
}

func (s *Server) newSessionLimiter() *rate.Limiter {
	return ratelimit.New(s.bandwidthLimitPerSession)
}

func (s *Server) redactPath(path string) string {
	if s.pathRedactor == nil {
		return path
	}
	return s.pathRedactor(path)
}

// redactIP masks the host part of an IPv4 address when IP redaction is on.
func (s *Server) redactIP(ip string) string {
	if !s.redactIPs {
		return ip
	}
	if i := strings.LastIndexByte(ip, '.'); i >= 0 {
		return ip[:i] + ".x"
	}
	return "x"
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return ip
}
