package server

import (
	"bufio"
	"io/fs"
	"path"
	"strconv"
	"strings"
)

func (s *session) handleCWD(arg string) {
	if arg == "" {
		s.reply(501, "Usage: CWD <PATH>")
		return
	}

	target := resolve(s.cwd, arg)
	info, err := s.server.driver.Stat(target)
	if err != nil {
		s.replyErr(err)
		return
	}
	if !info.IsDir() {
		s.reply(550, "No such directory")
		return
	}

	s.cwd = cleanPath(target)
	s.reply(250, "OK")
}

func (s *session) handleCDUP(_ string) {
	s.cwd = path.Dir(s.cwd)
	s.reply(250, "OK")
}

func (s *session) handlePWD(_ string) {
	// RFC 959 doubles quotes embedded in the directory name.
	s.reply(257, `"`+strings.ReplaceAll(s.cwd, `"`, `""`)+`"`)
}

// handleLIST sends a long listing of the working directory or of the path
// given after any "-" flags.
func (s *session) handleLIST(arg string) {
	target := s.cwd
	if p := stripListFlags(arg); p != "" {
		target = resolve(s.cwd, p)
	}
	s.sendListing(target)
}

// stripListFlags drops ls-style flags such as "-la" before or after the
// path. Spaces inside the path are kept.
func stripListFlags(arg string) string {
	for strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = strings.TrimSpace(rest)
	}
	for {
		i := strings.LastIndex(arg, " ")
		if i < 0 || !strings.HasPrefix(arg[i+1:], "-") {
			return arg
		}
		arg = strings.TrimSpace(arg[:i])
	}
}

// sendListing streams one formatted line per entry of dir over the data
// connection. Entries that cannot be stat'ed are skipped.
func (s *session) sendListing(dir string) {
	entries, err := s.server.driver.ReadDir(dir)
	if err != nil {
		s.replyErr(err)
		return
	}

	conn, err := s.openData()
	if err != nil {
		s.replyErr(err)
		return
	}
	s.reply(150, "Opening data transfer")

	w := bufio.NewWriter(s.limitWriter(conn))
	var werr error
	for _, entry := range entries {
		info := entry
		if entry.Mode()&fs.ModeSymlink != 0 {
			if info, err = s.server.driver.Stat(path.Join(dir, entry.Name())); err != nil {
				continue
			}
		}
		if _, werr = w.WriteString(formatListLine(info)); werr != nil {
			break
		}
	}
	if werr == nil {
		werr = w.Flush()
	}
	cerr := s.closeData()

	switch {
	case werr != nil:
		s.replyErr(werr)
	case cerr != nil:
		s.replyErr(cerr)
	default:
		s.reply(226, "Transfer complete")
	}
}

func (s *session) handleMKD(arg string) {
	if arg == "" {
		s.reply(501, "Usage: MKD <DIRNAME>")
		return
	}

	target := resolve(s.cwd, arg)
	if err := s.server.driver.MakeDir(target); err != nil {
		s.replyErr(err)
		return
	}

	s.logger.Info("directory_created", "user", s.user, "path", s.redactPath(target))
	s.reply(226, "Directory created")
}

func (s *session) handleRMD(arg string) {
	if arg == "" {
		s.reply(501, "Usage: RMD <DIRNAME>")
		return
	}

	target := resolve(s.cwd, arg)
	if err := s.server.driver.RemoveDir(target); err != nil {
		s.replyErr(err)
		return
	}

	s.logger.Info("directory_removed", "user", s.user, "path", s.redactPath(target))
	s.reply(226, "Directory deleted")
}

func (s *session) handleDELE(arg string) {
	if arg == "" {
		s.reply(501, "Usage: DELE <FILENAME>")
		return
	}

	target := resolve(s.cwd, arg)
	if err := s.server.driver.Remove(target); err != nil {
		s.replyErr(err)
		return
	}

	s.logger.Info("file_deleted", "user", s.user, "path", s.redactPath(target))
	s.reply(226, "File deleted")
}

func (s *session) handleRNFR(arg string) {
	s.renameFrom = ""
	if arg == "" {
		s.reply(501, "Usage: RNFR <PATH>")
		return
	}

	source := resolve(s.cwd, arg)
	if _, err := s.server.driver.Stat(source); err != nil {
		s.replyErr(err)
		return
	}

	s.renameFrom = source
	s.reply(350, "Awaiting new name")
}

// handleRNTO completes a rename staged by RNFR. The staged source is
// consumed by every attempt, successful or not.
func (s *session) handleRNTO(arg string) {
	source := s.renameFrom
	s.renameFrom = ""

	if arg == "" {
		s.reply(501, "Usage: RNTO <PATH>")
		return
	}
	if source == "" {
		s.replyErr(errNoRenameSource)
		return
	}
	if _, err := s.server.driver.Stat(source); err != nil {
		s.replyErr(err)
		return
	}

	target := resolve(s.cwd, arg)
	if err := s.server.driver.Rename(source, target); err != nil {
		s.replyErr(err)
		return
	}

	s.logger.Info("path_renamed",
		"user", s.user,
		"from", s.redactPath(source),
		"to", s.redactPath(target),
	)
	s.reply(226, "Path renamed")
}

func (s *session) handleSIZE(arg string) {
	if arg == "" {
		s.reply(501, "Usage: SIZE <FILENAME>")
		return
	}

	info, err := s.server.driver.Stat(resolve(s.cwd, arg))
	if err != nil {
		s.replyErr(err)
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}
