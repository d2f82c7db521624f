package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

var errNoRenameSource = errors.New("no rename source staged")

// session represents one FTP control connection.
//
// A session is served by a single goroutine. Commands run strictly one after
// another: a reply is fully written before the next line is read, and a
// transfer opens, streams and closes its data connection before the handler
// returns. Nothing in here needs a lock.
type session struct {
	server *Server
	conn   net.Conn
	lines  *lineReader
	writer *bufio.Writer
	logger *slog.Logger

	// ctx is cancelled when the session ends or the server is closed.
	ctx    context.Context
	cancel context.CancelFunc

	sessionID string
	remoteIP  string

	// State
	user         string
	cwd          string // always absolute and clean
	transferType string // "A" or "I", default I
	restOffset   int64  // consumed by the next RETR
	renameFrom   string // staged by RNFR

	data    dataChannel
	limiter *rate.Limiter

	// publicIP caches the resolved public host for PASV replies.
	publicIP net.IP

	// lastCode is the code of the most recent reply.
	lastCode int
	writeErr error
	quit     bool
}

func newSession(server *Server, conn net.Conn, remoteIP string) *session {
	ctx, cancel := context.WithCancel(server.ctx)
	id := uuid.NewString()

	return &session{
		server: server,
		conn:   conn,
		lines:  newLineReader(conn, server.maxCommandLength),
		writer: bufio.NewWriter(conn),
		logger: server.logger.With(
			"session_id", id,
			"remote_ip", server.redactIP(remoteIP),
		),
		ctx:          ctx,
		cancel:       cancel,
		sessionID:    id,
		remoteIP:     remoteIP,
		cwd:          "/",
		transferType: "I",
		data: dataChannel{
			acceptTimeout: server.acceptTimeout,
			dialTimeout:   server.dialTimeout,
			ioTimeout:     server.dataTimeout,
		},
		limiter: server.newSessionLimiter(),
	}
}

// serve runs the read-parse-dispatch loop until QUIT, KILL, a transport
// failure or server shutdown.
func (s *session) serve() {
	defer s.close()

	s.logger.Info("session_started")
	s.reply(220, "Service is ready")

	for !s.quit && s.writeErr == nil {
		if s.server.Terminated() {
			s.reply(421, "Service not available, closing control connection")
			return
		}

		s.server.armIdleDeadline(s.conn)
		line, err := s.lines.ReadLine()
		if err != nil {
			s.readFailed(err)
			return
		}

		for _, cmd := range parseLine(line, s.server.commandBatching) {
			s.handleCommand(cmd)
			if s.quit || s.writeErr != nil {
				break
			}
		}
	}
}

// readFailed ends the session after a control read error. Only an overlong
// line, an idle timeout or a shutdown get a reply.
func (s *session) readFailed(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrLineTooLong):
		s.reply(500, "Command line too long")
	case errors.As(err, &netErr) && netErr.Timeout():
		if s.server.Terminated() {
			s.reply(421, "Service not available, closing control connection")
			return
		}
		s.reply(421, "Idle timeout, closing control connection")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	default:
		s.logger.Warn("read error", "error", err)
	}
}

// handleCommand dispatches one parsed command.
func (s *session) handleCommand(cmd command) {
	s.logger.Debug("command_received",
		"user", s.user,
		"cmd", cmd.verb,
		"arg", s.redactPath(cmd.arg),
	)

	start := time.Now()
	s.lastCode = 0

	verb := cmd.verb
	if handler, ok := s.lookup(verb); ok {
		handler(s, cmd.arg)
	} else {
		verb = "UNKNOWN"
		s.reply(500, "Command not recognized")
	}

	if mc := s.server.metricsCollector; mc != nil {
		mc.RecordCommand(verb, s.lastCode > 0 && s.lastCode < 400, time.Since(start))
	}
}

// lookup returns the handler for verb. KILL is unknown unless enabled.
func (s *session) lookup(verb string) (func(*session, string), bool) {
	if verb == "KILL" && !s.server.enableKill {
		return nil, false
	}
	handler, ok := commandHandlers[verb]
	return handler, ok
}

// reply writes one reply line. The first write error is kept and ends the
// session once the current command returns.
func (s *session) reply(code int, message string) {
	s.lastCode = code
	if s.writeErr != nil {
		return
	}

	if s.server.maxIdleTime > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.maxIdleTime))
	}
	if _, err := fmt.Fprintf(s.writer, "%d %s\r\n", code, message); err != nil {
		s.writeErr = err
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.writeErr = err
	}
}

// replyErr reports a filesystem or socket failure with a 550 reply.
func (s *session) replyErr(err error) {
	s.reply(550, errorText(err))
}

// errorText strips path and operation context from err and capitalizes the
// rest, turning "open /x: no such file or directory" into
// "No such file or directory".
func errorText(err error) string {
	for unwrapping := true; unwrapping; {
		switch e := err.(type) {
		case *fs.PathError:
			err = e.Err
		case *os.LinkError:
			err = e.Err
		case *os.SyscallError:
			err = e.Err
		case *net.OpError:
			err = e.Err
		default:
			unwrapping = false
		}
	}

	msg := "Requested action not taken"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}

// resolve returns p unchanged when it is absolute and cwd + "/" + p
// otherwise. The result is not cleaned; drivers clean what they receive.
func resolve(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return cwd + "/" + p
}

// cleanPath normalizes p to an absolute path without "." or ".." elements.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// openData opens the negotiated data connection.
func (s *session) openData() (net.Conn, error) {
	conn, err := s.data.open(s.ctx)
	if err != nil {
		s.logger.Debug("data connection failed", "error", err)
		return nil, err
	}
	return conn, nil
}

func (s *session) closeData() error {
	return s.data.close()
}

// limitReader wraps r with the per-session and global bandwidth limits.
func (s *session) limitReader(r io.Reader) io.Reader {
	if s.limiter != nil {
		r = ratelimit.NewReader(s.ctx, r, s.limiter)
	}
	if s.server.globalLimiter != nil {
		r = ratelimit.NewReader(s.ctx, r, s.server.globalLimiter)
	}
	return r
}

// limitWriter wraps w with the per-session and global bandwidth limits.
func (s *session) limitWriter(w io.Writer) io.Writer {
	if s.limiter != nil {
		w = ratelimit.NewWriter(s.ctx, w, s.limiter)
	}
	if s.server.globalLimiter != nil {
		w = ratelimit.NewWriter(s.ctx, w, s.server.globalLimiter)
	}
	return w
}

func (s *session) redactPath(p string) string {
	return s.server.redactPath(p)
}

// logTransfer logs and records a completed RETR or STOR.
func (s *session) logTransfer(operation, p string, bytes int64, duration time.Duration) {
	throughput := float64(0)
	if secs := duration.Seconds(); secs > 0 {
		throughput = float64(bytes) / secs / 1024 / 1024
	}
	s.logger.Info("transfer_complete",
		"user", s.user,
		"operation", operation,
		"path", s.redactPath(p),
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughput),
	)

	if mc := s.server.metricsCollector; mc != nil {
		mc.RecordTransfer(operation, bytes, duration)
	}
}

// close releases the data channel and the control connection.
func (s *session) close() {
	s.cancel()

	var result *multierror.Error
	if err := s.data.release(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		s.logger.Debug("session cleanup failed", "error", err)
	}

	s.logger.Info("session_closed", "user", s.user)
}
