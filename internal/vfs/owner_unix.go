//go:build unix

package vfs

import (
	"io/fs"
	"syscall"
)

// ownership extracts uid and gid from platform metadata.
func ownership(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
