// Package server implements a minimal FTP server.
//
// # Overview
//
// A Server accepts control connections and runs one session per connection.
// Each session reads CRLF (or bare LF) terminated command lines, dispatches
// them in order and writes one reply per command. Data is moved over a
// separate connection set up with PASV or PORT.
//
// There is no authentication: USER logs any name in and PASS is not part of
// the command set. Every session starts in "/" with binary (TYPE I)
// transfers.
//
// # Getting Started
//
// Serve a local directory:
//
//	driver, err := server.NewOSDriver("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.NewServer(":2121", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// Any afero.Fs can be served with NewAferoDriver, and custom backends only
// need to implement Driver.
//
// # Commands
//
//	CWD CDUP PWD LIST            navigation and listings
//	MKD RMD DELE RNFR RNTO SIZE  file management
//	RETR STOR REST TYPE          transfers
//	PASV PORT                    data connection setup
//	USER SYST NOOP QUIT KILL     session control
//
// The legacy X* variants (XPWD, XMKD, ...) are recognized and answered with
// 502. Any other verb gets 500. Verbs are case sensitive.
//
// # Limits and Shutdown
//
// Connection counts, idle and transfer timeouts, the command line length and
// bandwidth are all configured with Option values passed to NewServer.
// Shutdown lets running commands finish and sends 421 to idle sessions;
// Close drops everything immediately.
//
// # Metrics
//
// WithMetricsCollector receives per-command, per-transfer and per-connection
// events. The internal/metrics package provides a Prometheus implementation.
package server
