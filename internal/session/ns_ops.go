package session

import (
	"context"
	"errors"
	"os"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Remove deletes a file. A symlink is removed, not its target.
func (s *Session) Remove(ctx context.Context, id uint32, filePath string) (*types.Status, error) {
	if err := s.lock(ctx, "remove"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.ResolveNoFollow(filePath)
	if err != nil {
		return nil, err
	}
	if err := s.check("remove", local, types.AccessWrite); err != nil {
		return nil, err
	}

	info, err := os.Lstat(local)
	if err != nil {
		return nil, vfs.StatusError("remove", filePath, err)
	}
	if info.IsDir() {
		return nil, types.NewStatusError("remove", types.StatusFailure, errors.New("is a directory")).WithPath(filePath)
	}
	if err := os.Remove(local); err != nil {
		s.log.Warn("Remove failed", logging.String("path", filePath), logging.Err(err))
		return nil, vfs.StatusError("remove", filePath, err)
	}
	s.log.Info("Removed file", logging.String("path", filePath))
	return ok(id), nil
}

// Rename moves oldPath to newPath. The target must not exist.
func (s *Session) Rename(ctx context.Context, id uint32, oldPath, newPath string) (*types.Status, error) {
	return s.rename(ctx, "rename", id, oldPath, newPath, false)
}

// PosixRename moves oldPath to newPath, replacing an existing target.
func (s *Session) PosixRename(ctx context.Context, id uint32, oldPath, newPath string) (*types.Status, error) {
	return s.rename(ctx, "posix-rename", id, oldPath, newPath, true)
}

func (s *Session) rename(ctx context.Context, op string, id uint32, oldPath, newPath string, overwrite bool) (*types.Status, error) {
	if err := s.lock(ctx, op); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	oldLocal, err := s.resolver.ResolveNoFollow(oldPath)
	if err != nil {
		return nil, err
	}
	newLocal, err := s.resolver.ResolveNoFollow(newPath)
	if err != nil {
		return nil, err
	}
	if oldLocal == s.resolver.Root() || newLocal == s.resolver.Root() {
		return nil, types.NewStatusError(op, types.StatusPermissionDenied, types.ErrPermissionDenied).WithPath(oldPath)
	}
	if err := s.check(op, oldLocal, types.AccessWrite); err != nil {
		return nil, err
	}
	if err := s.check(op, newLocal, types.AccessWrite); err != nil {
		return nil, err
	}

	if _, err := os.Lstat(oldLocal); err != nil {
		return nil, vfs.StatusError(op, oldPath, err)
	}
	if !overwrite {
		if _, err := os.Lstat(newLocal); err == nil {
			return nil, types.NewStatusError(op, types.StatusFailure, os.ErrExist).WithPath(newPath)
		}
	}

	if err := os.Rename(oldLocal, newLocal); err != nil {
		s.log.Warn("Rename failed", logging.String("from", oldPath), logging.String("to", newPath), logging.Err(err))
		return nil, vfs.StatusError(op, oldPath, err)
	}
	s.log.Info("Renamed", logging.String("from", oldPath), logging.String("to", newPath))
	return ok(id), nil
}

// Setstat is not supported.
func (s *Session) Setstat(ctx context.Context, id uint32, path string, attrs types.Attributes) (*types.Status, error) {
	return nil, unsupported("setstat", path)
}

// Symlink is not supported.
func (s *Session) Symlink(ctx context.Context, id uint32, linkPath, targetPath string) (*types.Status, error) {
	return nil, unsupported("symlink", linkPath)
}

// Readlink is not supported.
func (s *Session) Readlink(ctx context.Context, id uint32, path string) (*types.Name, error) {
	return nil, unsupported("readlink", path)
}
