package server

import (
	"fmt"
	"io/fs"
	"os"
)

// listTimeFormat is the strftime "%b %d %H:%M" layout used in LIST lines.
const listTimeFormat = "Jan 02 15:04"

// modeString renders a file mode the way ls -l does: a type character
// followed by nine permission characters, including setuid, setgid and
// sticky markers. The result is always 10 bytes long.
func modeString(mode fs.FileMode) string {
	var b [10]byte

	switch {
	case mode&fs.ModeDir != 0:
		b[0] = 'd'
	case mode&fs.ModeSymlink != 0:
		b[0] = 'l'
	case mode&fs.ModeNamedPipe != 0:
		b[0] = 'p'
	case mode&fs.ModeSocket != 0:
		b[0] = 's'
	case mode&fs.ModeDevice != 0 && mode&fs.ModeCharDevice != 0:
		b[0] = 'c'
	case mode&fs.ModeDevice != 0:
		b[0] = 'b'
	default:
		b[0] = '-'
	}

	const rwx = "rwxrwxrwx"
	for i := range 9 {
		if mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}

	special := func(pos int, set bool, lower byte) {
		if !set {
			return
		}
		if b[pos] == 'x' {
			b[pos] = lower
		} else {
			b[pos] = lower - ('a' - 'A')
		}
	}
	special(3, mode&fs.ModeSetuid != 0, 's')
	special(6, mode&fs.ModeSetgid != 0, 's')
	special(9, mode&fs.ModeSticky != 0, 't')

	return string(b[:])
}

// formatListLine renders one LIST entry:
//
//	<mode> <nlink> <uid> <gid> <size> <Mon DD HH:MM> <name>\r\n
func formatListLine(info os.FileInfo) string {
	nlink, uid, gid := fileOwner(info)
	return fmt.Sprintf("%s %d %d %d %d %s %s\r\n",
		modeString(info.Mode()),
		nlink,
		uid,
		gid,
		info.Size(),
		info.ModTime().Format(listTimeFormat),
		info.Name(),
	)
}
