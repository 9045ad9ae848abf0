//go:build !linux && !darwin && !freebsd

package vfs

import "github.com/ajaxzhan/sandbox-sftp/pkg/types"

// DiskUsage is not available on this platform.
func DiskUsage(path string) (*types.FsStats, error) {
	return nil, types.NewStatusError("statvfs", types.StatusOpUnsupported, types.ErrOpUnsupported)
}
