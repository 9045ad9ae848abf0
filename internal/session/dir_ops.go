package session

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Opendir opens a directory cursor.
func (s *Session) Opendir(ctx context.Context, id uint32, dirPath string) (*types.Handle, error) {
	if err := s.lock(ctx, "opendir"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.Resolve(dirPath)
	if err != nil {
		return nil, err
	}
	if err := s.check("opendir", local, types.AccessList); err != nil {
		return nil, err
	}

	dir, err := os.Open(local)
	if err != nil {
		s.log.Warn("Opendir failed", logging.String("path", dirPath), logging.Err(err))
		return nil, vfs.StatusError("opendir", dirPath, err)
	}
	info, err := dir.Stat()
	if err != nil || !info.IsDir() {
		dir.Close()
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, types.NewStatusError("opendir", types.StatusFailure, err).WithPath(dirPath)
	}

	handle := s.st.addDir(&openDir{dir: dir, local: local, virtual: s.resolver.Virtual(local)})
	s.log.Info("Opened directory", logging.String("handle", handle), logging.String("path", dirPath))
	return &types.Handle{ID: id, Handle: handle}, nil
}

// Readdir returns the next batch of at most ReadDirBatchSize entries. An
// exhausted cursor reports EOF. Entries whose metadata cannot be read carry
// default attributes; entries hidden by the access policy are skipped.
func (s *Session) Readdir(ctx context.Context, id uint32, handle string) (*types.Name, error) {
	if err := s.lock(ctx, "readdir"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	od, err := s.st.dir("readdir", handle)
	if err != nil {
		s.log.Warn("Readdir on invalid handle", logging.String("handle", handle))
		return nil, err
	}

	var files []types.NameEntry
	for len(files) == 0 {
		entries, err := od.dir.ReadDir(ReadDirBatchSize)
		for _, entry := range entries {
			if s.policy.Access(path.Join(od.virtual, entry.Name())) == types.AccessNone {
				continue
			}
			files = append(files, s.nameEntry(entry))
		}

		// A read error ends the listing like EOF does.
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("Readdir failed", logging.String("handle", handle), logging.Err(err))
			}
			break
		}
		if len(entries) == 0 {
			break
		}
	}

	if len(files) == 0 {
		s.log.Debug("Directory exhausted", logging.String("handle", handle))
		return nil, types.NewStatusError("readdir", types.StatusEOF, types.ErrEOF).WithHandle(handle)
	}
	s.log.Debug("Readdir", logging.String("handle", handle), logging.Int("entries", len(files)))
	return &types.Name{ID: id, Files: files}, nil
}

// nameEntry describes one directory entry. Metadata that cannot be read is
// replaced by default attributes.
func (s *Session) nameEntry(entry fs.DirEntry) types.NameEntry {
	name := entry.Name()
	attrs := types.DefaultAttributes()
	if info, err := entry.Info(); err == nil {
		attrs = vfs.ToAttributes(info)
	} else {
		s.log.Debug("Using default attributes", logging.String("name", name), logging.Err(err))
	}
	return types.NameEntry{
		Filename: name,
		Longname: vfs.FormatLongname(name, attrs),
		Attrs:    attrs,
	}
}

// Mkdir creates a directory. The parent must exist.
func (s *Session) Mkdir(ctx context.Context, id uint32, dirPath string, attrs types.Attributes) (*types.Status, error) {
	if err := s.lock(ctx, "mkdir"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.Resolve(dirPath)
	if err != nil {
		return nil, err
	}
	if err := s.check("mkdir", local, types.AccessWrite); err != nil {
		return nil, err
	}

	perm := os.FileMode(0755)
	if attrs.Flags&types.AttrPermissions != 0 {
		perm = os.FileMode(attrs.Permissions & 0o777)
	}
	if err := os.Mkdir(local, perm); err != nil {
		s.log.Warn("Mkdir failed", logging.String("path", dirPath), logging.Err(err))
		return nil, vfs.StatusError("mkdir", dirPath, err)
	}
	s.log.Info("Created directory", logging.String("path", dirPath))
	return ok(id), nil
}

// Rmdir removes an empty directory. The root cannot be removed.
func (s *Session) Rmdir(ctx context.Context, id uint32, dirPath string) (*types.Status, error) {
	if err := s.lock(ctx, "rmdir"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	local, err := s.resolver.ResolveNoFollow(dirPath)
	if err != nil {
		return nil, err
	}
	if local == s.resolver.Root() {
		return nil, types.NewStatusError("rmdir", types.StatusPermissionDenied, types.ErrPermissionDenied).WithPath(dirPath)
	}
	if err := s.check("rmdir", local, types.AccessWrite); err != nil {
		return nil, err
	}

	info, err := os.Lstat(local)
	if err != nil {
		return nil, vfs.StatusError("rmdir", dirPath, err)
	}
	if !info.IsDir() {
		return nil, types.NewStatusError("rmdir", types.StatusFailure, errors.New("not a directory")).WithPath(dirPath)
	}
	if err := os.Remove(local); err != nil {
		s.log.Warn("Rmdir failed", logging.String("path", dirPath), logging.Err(err))
		return nil, vfs.StatusError("rmdir", dirPath, err)
	}
	s.log.Info("Removed directory", logging.String("path", dirPath))
	return ok(id), nil
}
