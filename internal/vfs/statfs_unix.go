//go:build linux || darwin || freebsd

package vfs

import (
	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// DiskUsage reports the statvfs figures of the filesystem holding path.
func DiskUsage(path string) (*types.FsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}
	return &types.FsStats{
		BlockSize:   uint64(st.Bsize),
		FragSize:    uint64(st.Bsize),
		Blocks:      uint64(st.Blocks),
		BlocksFree:  uint64(st.Bfree),
		BlocksAvail: uint64(st.Bavail),
		Files:       uint64(st.Files),
		FilesFree:   uint64(st.Ffree),
		FilesAvail:  uint64(st.Ffree),
		NameMax:     255,
	}, nil
}
