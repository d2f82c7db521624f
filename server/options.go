package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the filesystem backend. This option is required and can
// only be set once.
//
// Example:
//
//	driver, _ := server.NewOSDriver("/srv/ftp")
//	s, _ := server.NewServer(":2121", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets how long a session may wait for its next command
// before it is closed. Zero disables the timeout.
// If not specified, defaults to 5 minutes.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous sessions, in
// total and per client IP. Zero means no limit, which is the default.
//
// When a limit is reached, new connections receive a 421 reply and are
// closed.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10),
//	)
func WithMaxConnections(max, perIP int) Option {
	return func(s *Server) error {
		if max < 0 || perIP < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
		s.maxConnections = max
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithAcceptTimeout bounds the wait for a client to connect to a passive
// data port. Defaults to 30 seconds.
func WithAcceptTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.acceptTimeout = d
		return nil
	}
}

// WithDialTimeout bounds the connect to a PORT address. Defaults to 10 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.dialTimeout = d
		return nil
	}
}

// WithDataTimeout sets the inactivity timeout of data connections.
// A transfer that makes no progress for this long is aborted.
// Defaults to 1 minute; zero disables it.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.dataTimeout = d
		return nil
	}
}

// WithMaxCommandLength caps the length of a control line. Longer lines get
// "500 Command line too long" and end the session. Defaults to 4096.
func WithMaxCommandLength(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("max command length must be positive, got %d", n)
		}
		s.maxCommandLength = n
		return nil
	}
}

// WithCommandBatching lets a client send several commands on one line,
// separated by ';'. They run in order as if sent on separate lines.
func WithCommandBatching(enable bool) Option {
	return func(s *Server) error {
		s.commandBatching = enable
		return nil
	}
}

// WithKillCommand enables the KILL command, which lets any client stop the
// whole server. Only useful for tests and throwaway deployments.
func WithKillCommand(enable bool) Option {
	return func(s *Server) error {
		s.enableKill = enable
		return nil
	}
}

// WithPublicHost sets the host or IPv4 address advertised in PASV replies.
// Use it when the server runs behind NAT. Host names are resolved on first
// use.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithPublicHost("ftp.example.com"),
//	)
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithPassivePortRange restricts passive listeners to [min, max].
// Ports are handed out round-robin. Zero for both means any free port.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithPassivePortRange(30000, 30100),
//	)
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min == 0 && max == 0 {
			s.pasvMinPort, s.pasvMaxPort = 0, 0
			return nil
		}
		if min < 1 || max > 65535 || min > max {
			return fmt.Errorf("invalid passive port range [%d, %d]", min, max)
		}
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// WithBandwidthLimit caps data transfer rates in bytes per second.
// global is shared by every session; perSession applies to each one.
// Zero means unlimited.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithBandwidthLimit(10<<20, 1<<20), // 10 MiB/s total, 1 MiB/s each
//	)
func WithBandwidthLimit(global, perSession int64) Option {
	return func(s *Server) error {
		if global < 0 || perSession < 0 {
			return fmt.Errorf("bandwidth limits must not be negative")
		}
		s.globalLimiter = ratelimit.New(global)
		s.bandwidthLimitPerSession = perSession
		return nil
	}
}

// WithMetricsCollector sets a collector that receives command, transfer and
// connection metrics.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithPathRedactor sets a function applied to every path before it is
// logged.
func WithPathRedactor(redactor PathRedactor) Option {
	return func(s *Server) error {
		s.pathRedactor = redactor
		return nil
	}
}

// WithRedactIPs masks the last octet of client addresses in logs.
func WithRedactIPs(enable bool) Option {
	return func(s *Server) error {
		s.redactIPs = enable
		return nil
	}
}
