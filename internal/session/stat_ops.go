package session

import (
	"context"
	"os"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Stat returns the attributes of path, following symlinks.
func (s *Session) Stat(ctx context.Context, id uint32, path string) (*types.Attrs, error) {
	if err := s.lock(ctx, "stat"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.check("stat", local, types.AccessList); err != nil {
		return nil, err
	}
	info, err := os.Stat(local)
	if err != nil {
		s.log.Debug("Stat failed", logging.String("path", path), logging.Err(err))
		return nil, vfs.StatusError("stat", path, err)
	}
	return &types.Attrs{ID: id, Attrs: vfs.ToAttributes(info)}, nil
}

// Lstat returns the attributes of path without following a symlink in the
// final component.
func (s *Session) Lstat(ctx context.Context, id uint32, path string) (*types.Attrs, error) {
	if err := s.lock(ctx, "lstat"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.ResolveNoFollow(path)
	if err != nil {
		return nil, err
	}
	if err := s.check("lstat", local, types.AccessList); err != nil {
		return nil, err
	}
	info, err := os.Lstat(local)
	if err != nil {
		s.log.Debug("Lstat failed", logging.String("path", path), logging.Err(err))
		return nil, vfs.StatusError("lstat", path, err)
	}
	return &types.Attrs{ID: id, Attrs: vfs.ToAttributes(info)}, nil
}

// Fstat returns the attributes of an open file.
func (s *Session) Fstat(ctx context.Context, id uint32, handle string) (*types.Attrs, error) {
	if err := s.lock(ctx, "fstat"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	of, err := s.st.file("fstat", handle)
	if err != nil {
		return nil, err
	}
	info, err := of.file.Stat()
	if err != nil {
		s.log.Error("Fstat failed", logging.String("handle", handle), logging.Err(err))
		return nil, types.NewStatusError("fstat", types.StatusFailure, err).WithHandle(handle)
	}
	return &types.Attrs{ID: id, Attrs: vfs.ToAttributes(info)}, nil
}

// StatVFS reports disk usage of the filesystem holding path.
func (s *Session) StatVFS(ctx context.Context, id uint32, path string) (*types.FsStats, error) {
	if err := s.lock(ctx, "statvfs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.check("statvfs", local, types.AccessList); err != nil {
		return nil, err
	}
	st, err := vfs.DiskUsage(local)
	if err != nil {
		return nil, vfs.StatusError("statvfs", path, err)
	}
	st.ID = id
	return st, nil
}
