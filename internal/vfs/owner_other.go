//go:build !unix

package vfs

import "io/fs"

func ownership(info fs.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}
