//go:build unix

package server

import (
	"os"
	"syscall"
)

// fileOwner returns link count and ownership from the platform stat data.
// Backends without it (in-memory, object stores) report 1 link owned by 0:0.
func fileOwner(info os.FileInfo) (nlink uint64, uid, gid uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return 1, 0, 0
	}
	return uint64(st.Nlink), st.Uid, st.Gid
}
