package server

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxCommandLength is the default cap on a control line, in bytes.
const DefaultMaxCommandLength = 4096

// ErrLineTooLong is returned by the line reader when a control line exceeds
// the configured maximum length.
var ErrLineTooLong = errors.New("ftp: command line too long")

const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// lineReader assembles control lines from the raw control stream.
//
// Telnet negotiation sequences are dropped and an escaped IAC IAC yields a
// literal 0xFF. A '\n' ends the line. A '\r' terminates the content seen so
// far and rewinds the write position, so later bytes overwrite the line from
// its start: "USER bob\r\n" reads as "USER bob" and "abc\rX\n" as "Xbc".
type lineReader struct {
	r   *bufio.Reader
	buf []byte
	max int
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	if maxLen <= 0 {
		maxLen = DefaultMaxCommandLength
	}
	return &lineReader{
		r:   bufio.NewReader(r),
		buf: make([]byte, 0, 256),
		max: maxLen,
	}
}

// readByte returns the next data byte, skipping telnet commands.
func (lr *lineReader) readByte() (byte, error) {
	for {
		b, err := lr.r.ReadByte()
		if err != nil || b != telnetIAC {
			return b, err
		}

		cmd, err := lr.r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch cmd {
		case telnetIAC:
			return telnetIAC, nil
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// IAC CMD OPT: drop the option byte too.
			if _, err := lr.r.ReadByte(); err != nil {
				return 0, err
			}
		}
	}
}

// ReadLine returns the next logical line without its terminator.
// A partial line at EOF is discarded and io.EOF returned.
func (lr *lineReader) ReadLine() (string, error) {
	lr.buf = lr.buf[:0]
	pos, end := 0, 0

	for {
		c, err := lr.readByte()
		if err != nil {
			return "", err
		}

		switch c {
		case '\r':
			end = pos
			pos = 0
			continue
		case '\n':
			return string(lr.buf[:max(pos, end)]), nil
		}

		if pos >= lr.max {
			return "", ErrLineTooLong
		}
		if pos < len(lr.buf) {
			lr.buf[pos] = c
		} else {
			lr.buf = append(lr.buf, c)
		}
		pos++
	}
}
