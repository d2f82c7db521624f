package server

import "time"

// PathRedactor is a function type for custom path redaction in logs.
// It takes a file path and returns a redacted version for privacy.
//
// Example:
//
//	func(path string) string {
//	    return regexp.MustCompile(`/users/[^/]+/`).ReplaceAllString(path, "/users/*/")
//	}
type PathRedactor func(path string) string

// MetricsCollector is an optional interface for collecting server metrics.
// The ftpd binary ships a Prometheus implementation in internal/metrics.
//
// Methods are called synchronously from session goroutines and should not
// block. The server checks for a nil collector before calling them.
type MetricsCollector interface {
	// RecordCommand records one dispatched command. cmd is the verb as
	// received; success is true when the final reply code was below 400.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records a completed RETR or STOR.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records a connection attempt. reason is one of
	// "accepted", "shutdown", "global_limit_reached" or
	// "per_ip_limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordSessionClosed records the end of an accepted session.
	RecordSessionClosed(duration time.Duration)
}
