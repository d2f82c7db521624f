package server

import (
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	retrChunkSize = 4 << 10
	storChunkSize = 16 << 10
)

// handleRETR streams a file to the client, starting at the offset of a
// preceding REST. A directory is answered with its listing instead.
func (s *session) handleRETR(arg string) {
	offset := s.restOffset
	s.restOffset = 0

	if arg == "" {
		s.reply(501, "Usage: RETR <PATH>")
		return
	}

	target := resolve(s.cwd, arg)
	info, err := s.server.driver.Stat(target)
	if err != nil {
		s.replyErr(err)
		return
	}
	if info.IsDir() {
		s.sendListing(target)
		return
	}

	file, err := s.server.driver.Open(target)
	if err != nil {
		s.replyErr(err)
		return
	}
	defer file.Close()

	s.reply(150, "Opening data transfer")

	conn, err := s.openData()
	if err != nil {
		s.replyErr(err)
		return
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			_ = s.closeData()
			s.replyErr(err)
			return
		}
	}

	start := time.Now()
	n, err := io.CopyBuffer(s.limitWriter(conn), file, make([]byte, retrChunkSize))
	cerr := s.closeData()

	switch {
	case err != nil:
		s.replyErr(err)
	case cerr != nil:
		s.replyErr(cerr)
	default:
		s.logTransfer("RETR", target, n, time.Since(start))
		s.reply(226, "Transfer completed")
	}
}

// handleSTOR creates or truncates a file and fills it from the data
// connection until the client closes it. REST offsets do not apply.
func (s *session) handleSTOR(arg string) {
	if arg == "" {
		s.reply(501, "Usage: STOR <FILENAME>")
		return
	}

	target := resolve(s.cwd, arg)
	file, err := s.server.driver.Create(target)
	if err != nil {
		s.replyErr(err)
		return
	}

	s.reply(150, "Opening data transfer")

	conn, err := s.openData()
	if err != nil {
		_ = file.Close()
		s.replyErr(err)
		return
	}

	start := time.Now()
	n, err := io.CopyBuffer(file, s.limitReader(conn), make([]byte, storChunkSize))

	var closeErrs *multierror.Error
	if cerr := file.Close(); cerr != nil {
		closeErrs = multierror.Append(closeErrs, cerr)
	}
	if cerr := s.closeData(); cerr != nil {
		closeErrs = multierror.Append(closeErrs, cerr)
	}

	switch {
	case err != nil:
		s.replyErr(err)
	case closeErrs != nil:
		s.logger.Warn("upload close failed", "path", s.redactPath(target), "error", closeErrs)
		s.replyErr(closeErrs.Errors[0])
	default:
		s.logTransfer("STOR", target, n, time.Since(start))
		s.reply(226, "Data transfer complete")
	}
}

// handleREST stages the offset for the next RETR.
func (s *session) handleREST(arg string) {
	if arg == "" {
		s.reply(501, "Usage: REST <OFFSET>")
		return
	}
	s.restOffset = parseOffset(arg)
	s.reply(350, fmt.Sprintf("Restarting at %d", s.restOffset))
}

// parseOffset reads the leading decimal number of s the way C's atol does:
// leading blanks and a sign are accepted, parsing stops at the first
// non-digit, and text without digits yields 0. Negative values become 0 and
// overflow saturates.
func parseOffset(s string) int64 {
	s = strings.TrimLeft(s, " \t")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int64(s[i] - '0')
		if n > (math.MaxInt64-d)/10 {
			n = math.MaxInt64
			break
		}
		n = n*10 + d
	}
	if neg {
		return 0
	}
	return n
}

func (s *session) handleTYPE(arg string) {
	if arg == "" {
		s.reply(501, "Usage: TYPE <A|I>")
		return
	}

	// Format controls such as "A N" are accepted and ignored.
	t, _, _ := strings.Cut(arg, " ")
	switch t = strings.ToUpper(t); t {
	case "A", "I":
		s.transferType = t
		s.reply(200, "Type set to "+t)
	default:
		s.reply(501, "Invalid argument to TYPE")
	}
}

// handlePASV opens a passive listener on the control connection's local
// address and advertises it, or the configured public host, in a 227 reply.
func (s *session) handlePASV(_ string) {
	bindIP, advertiseIP, err := s.passiveAddrs()
	if err != nil {
		s.replyErr(err)
		return
	}

	addr, err := s.data.listenPassive(bindIP,
		s.server.pasvMinPort, s.server.pasvMaxPort, s.server.passivePortOffset())
	if err != nil {
		s.replyErr(err)
		return
	}

	tuple, err := formatPASV(advertiseIP, addr.Port)
	if err != nil {
		s.replyErr(err)
		return
	}
	s.reply(227, "Entering Passive Mode ("+tuple+").")
}

// passiveAddrs picks the address to bind the passive listener to and the
// address to tell the client about.
func (s *session) passiveAddrs() (bind, advertise net.IP, err error) {
	if tcp, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		bind = tcp.IP.To4()
	}

	if s.server.publicHost == "" {
		if bind == nil {
			return nil, nil, errPassiveIPv4
		}
		return bind, bind, nil
	}

	advertise, err = s.resolvePublicHost()
	if err != nil {
		return nil, nil, err
	}
	if bind == nil {
		bind = net.IPv4zero
	}
	return bind, advertise, nil
}

func (s *session) resolvePublicHost() (net.IP, error) {
	if s.publicIP != nil {
		return s.publicIP, nil
	}

	host := s.server.publicHost
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			s.publicIP = ip4
			return ip4, nil
		}
		return nil, errPassiveIPv4
	}

	ips, err := net.DefaultResolver.LookupIP(s.ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve public host %s: %w", host, err)
	}
	s.publicIP = ips[0].To4()
	return s.publicIP, nil
}

// handlePORT stages an active-mode address. The address must belong to the
// client on the control connection.
func (s *session) handlePORT(arg string) {
	addr, err := parsePORT(arg)
	if err != nil {
		s.reply(501, "Usage: PORT <h1,h2,h3,h4,p1,p2>")
		return
	}
	if !s.validateActiveIP(addr.IP) {
		s.logger.Warn("port_rejected", "target", s.server.redactIP(addr.IP.String()))
		s.reply(501, "Illegal PORT address")
		return
	}

	s.data.setActive(addr)
	s.reply(200, "PORT command successful")
}

// validateActiveIP ensures the data connection target matches the control
// connection source. This prevents FTP bounce attacks.
func (s *session) validateActiveIP(ip net.IP) bool {
	remote := net.ParseIP(s.remoteIP)
	return remote != nil && ip.Equal(remote)
}
