package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	errNoDataConnection = errors.New("no data connection")
	errDataConnOpen     = errors.New("data connection already open")
	errPassiveIPv4      = errors.New("passive mode requires IPv4")
)

// dataChannel owns the secondary connection of a session.
//
// PASV leaves a listener behind and PORT an address to dial; open consumes
// whichever was negotiated last. The two modes replace each other, and a
// new PASV closes the previous listener. At most one data connection is open
// at a time; close must be called once per successful open.
type dataChannel struct {
	listener   net.Listener
	activeAddr string
	conn       net.Conn
	stopWatch  func() bool

	acceptTimeout time.Duration
	dialTimeout   time.Duration
	ioTimeout     time.Duration
}

// listenPassive opens a new passive listener on ip, replacing any previous
// one. With a port range configured, ports are tried round-robin starting at
// offset.
func (d *dataChannel) listenPassive(ip net.IP, minPort, maxPort, offset int) (*net.TCPAddr, error) {
	d.activeAddr = ""
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}

	ln, err := listenPassivePort(ip, minPort, maxPort, offset)
	if err != nil {
		return nil, err
	}
	d.listener = ln
	return ln.Addr().(*net.TCPAddr), nil
}

func listenPassivePort(ip net.IP, minPort, maxPort, offset int) (net.Listener, error) {
	host := ip.String()
	if minPort <= 0 || maxPort < minPort {
		return net.Listen("tcp4", net.JoinHostPort(host, "0"))
	}

	rangeLen := maxPort - minPort + 1
	for i := range rangeLen {
		port := minPort + (offset+i)%rangeLen
		ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
}

// setActive stages addr for the next open, dropping any passive listener.
func (d *dataChannel) setActive(addr *net.TCPAddr) {
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
	d.activeAddr = addr.String()
}

// open establishes the data connection. It blocks until the client connects
// to the passive listener or the outgoing dial completes. Cancelling ctx
// aborts the wait and closes an established connection.
func (d *dataChannel) open(ctx context.Context) (net.Conn, error) {
	if d.conn != nil {
		return nil, errDataConnOpen
	}

	var (
		conn net.Conn
		err  error
	)
	switch {
	case d.listener != nil:
		conn, err = d.accept(ctx)
	case d.activeAddr != "":
		addr := d.activeAddr
		d.activeAddr = ""
		dialer := net.Dialer{Timeout: d.dialTimeout}
		conn, err = dialer.DialContext(ctx, "tcp4", addr)
	default:
		return nil, errNoDataConnection
	}
	if err != nil {
		return nil, err
	}

	if d.ioTimeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: d.ioTimeout}
	}
	d.conn = conn
	d.stopWatch = context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return conn, nil
}

// accept waits on the passive listener, which is consumed either way.
func (d *dataChannel) accept(ctx context.Context) (net.Conn, error) {
	ln := d.listener
	d.listener = nil
	defer ln.Close()

	if tl, ok := ln.(*net.TCPListener); ok && d.acceptTimeout > 0 {
		_ = tl.SetDeadline(time.Now().Add(d.acceptTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	return ln.Accept()
}

// close closes the open data connection.
func (d *dataChannel) close() error {
	if d.conn == nil {
		return nil
	}
	d.stopWatch()
	err := d.conn.Close()
	d.conn = nil
	d.stopWatch = nil
	return err
}

// release frees everything the channel holds. Called when the session ends.
func (d *dataChannel) release() error {
	var result *multierror.Error
	if d.listener != nil {
		if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		d.listener = nil
	}
	if err := d.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	d.activeAddr = ""
	return result.ErrorOrNil()
}

// deadlineConn pushes the read or write deadline forward before every I/O
// call, turning it into an inactivity timeout.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}

// formatPASV renders the h1,h2,h3,h4,p1,p2 tuple of a 227 reply.
// The port is split high byte first, as RFC 959 clients decode it.
func formatPASV(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", errPassiveIPv4
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d",
		ip4[0], ip4[1], ip4[2], ip4[3],
		(port>>8)&0xFF, port&0xFF,
	), nil
}

// parsePORT decodes an h1,h2,h3,h4,p1,p2 argument.
func parsePORT(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	var b [6]byte
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("invalid field %q", part)
		}
		b[i] = byte(v)
	}

	return &net.TCPAddr{
		IP:   net.IPv4(b[0], b[1], b[2], b[3]),
		Port: int(b[4])<<8 | int(b[5]),
	}, nil
}
