package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// sniffLen is the number of leading bytes used to classify content.
const sniffLen = 512

// Open opens or creates a file. Write intent (write, create, truncate or
// append) requires the parent directory to exist and write access; anything
// else opens an existing regular file read-only.
func (s *Session) Open(ctx context.Context, id uint32, path string, flags types.OpenFlags, attrs types.Attributes) (*types.Handle, error) {
	if err := s.lock(ctx, "open"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	s.log.Debug("Open", logging.String("path", path), logging.Uint32("flags", uint32(flags)))

	local, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	var of *openFile
	if flags.WriteIntent() {
		of, err = s.openWrite(path, local, flags, attrs)
	} else {
		of, err = s.openRead(path, local)
	}
	if err != nil {
		s.log.Warn("Open failed", logging.String("path", path), logging.Err(err))
		return nil, err
	}

	handle := s.st.addFile(of)
	s.log.Info("Opened file",
		logging.String("handle", handle),
		logging.String("path", of.virtual),
		logging.Bool("write", flags.WriteIntent()),
		logging.Bool("text", of.textLike),
	)
	return &types.Handle{ID: id, Handle: handle}, nil
}

func (s *Session) openWrite(path, local string, flags types.OpenFlags, attrs types.Attributes) (*openFile, error) {
	if err := s.check("open", local, types.AccessWrite); err != nil {
		return nil, err
	}

	parent, err := os.Stat(filepath.Dir(local))
	if err != nil || !parent.IsDir() {
		return nil, types.NewStatusError("open", types.StatusNoSuchFile, types.ErrNoSuchFile).WithPath(path)
	}

	mode, err := osOpenFlags(flags)
	if err != nil {
		return nil, types.NewStatusError("open", types.StatusFailure, err).WithPath(path)
	}
	perm := os.FileMode(0644)
	if attrs.Flags&types.AttrPermissions != 0 {
		perm = os.FileMode(attrs.Permissions & 0o777)
	}

	f, err := os.OpenFile(local, mode, perm)
	if err != nil {
		return nil, vfs.StatusError("open", path, err)
	}
	return &openFile{
		file:     f,
		local:    local,
		virtual:  s.resolver.Virtual(local),
		textLike: textLike(f, local),
	}, nil
}

func (s *Session) openRead(path, local string) (*openFile, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, vfs.StatusError("open", path, err)
	}
	if err := s.check("open", local, types.AccessRead); err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, types.NewStatusError("open", types.StatusFailure, fmt.Errorf("%s is not a regular file", path)).WithPath(path)
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, vfs.StatusError("open", path, err)
	}
	return &openFile{
		file:     f,
		local:    local,
		virtual:  s.resolver.Virtual(local),
		textLike: textLike(f, local),
	}, nil
}

// osOpenFlags builds os.OpenFile flags from exactly the requested pflags.
// Append implies write. Create and truncate need write access.
func osOpenFlags(flags types.OpenFlags) (int, error) {
	writable := flags.Has(types.FlagWrite) || flags.Has(types.FlagAppend)
	if !writable && (flags.Has(types.FlagCreate) || flags.Has(types.FlagTruncate)) {
		return 0, errors.New("create or truncate without write access")
	}

	var mode int
	switch {
	case writable && flags.Has(types.FlagRead):
		mode = os.O_RDWR
	case writable:
		mode = os.O_WRONLY
	default:
		mode = os.O_RDONLY
	}
	if flags.Has(types.FlagAppend) {
		mode |= os.O_APPEND
	}
	if flags.Has(types.FlagCreate) {
		mode |= os.O_CREATE
		if flags.Has(types.FlagExclude) {
			mode |= os.O_EXCL
		}
	}
	if flags.Has(types.FlagTruncate) {
		mode |= os.O_TRUNC
	}
	return mode, nil
}

// textLike classifies file content for logging. Empty or unreadable files
// are classified by extension.
func textLike(f *os.File, local string) bool {
	buf := make([]byte, sniffLen)
	n, _ := f.ReadAt(buf, 0)

	var contentType string
	if n > 0 {
		contentType = http.DetectContentType(buf[:n])
	} else {
		contentType = mime.TypeByExtension(filepath.Ext(local))
	}
	return strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "xml") ||
		strings.Contains(contentType, "javascript")
}

// Close releases a file or directory handle. Unknown handles are accepted.
func (s *Session) Close(ctx context.Context, id uint32, handle string) (*types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.st.release(handle)
	if f == nil {
		s.log.Debug("Close of unknown handle", logging.String("handle", handle))
		return ok(id), nil
	}
	if err := f.Close(); err != nil {
		s.log.Warn("Failed to close handle", logging.String("handle", handle), logging.Err(err))
	}
	s.log.Info("Closed handle", logging.String("handle", handle))
	return ok(id), nil
}

// Read returns up to min(length, max read size) bytes at offset. Zero bytes
// read is reported as EOF.
func (s *Session) Read(ctx context.Context, id uint32, handle string, offset uint64, length uint32) (*types.Data, error) {
	if err := s.lock(ctx, "read"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	of, err := s.st.file("read", handle)
	if err != nil {
		s.log.Warn("Read on invalid handle", logging.String("handle", handle))
		return nil, err
	}

	if _, err := of.file.Seek(int64(offset), io.SeekStart); err != nil {
		s.log.Error("Seek failed", logging.String("handle", handle), logging.Uint64("offset", offset), logging.Err(err))
		return nil, types.NewStatusError("read", types.StatusFailure, err).WithHandle(handle)
	}

	buf := make([]byte, min(length, s.maxReadSize))
	n, err := of.file.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			s.log.Debug("End of file", logging.String("handle", handle), logging.Uint64("offset", offset))
			return nil, types.NewStatusError("read", types.StatusEOF, types.ErrEOF).WithHandle(handle)
		}
		s.log.Error("Read failed", logging.String("handle", handle), logging.Err(err))
		return nil, types.NewStatusError("read", types.StatusFailure, err).WithHandle(handle)
	}

	s.st.bytesRead += uint64(n)
	s.log.Debug("Read",
		logging.String("handle", handle),
		logging.Uint64("offset", offset),
		logging.Int("len", n),
		logging.Bool("text", of.textLike),
	)
	return &types.Data{ID: id, Data: buf[:n]}, nil
}

// Write writes all of data at offset and syncs the file before
// acknowledging. A short write is a failure.
func (s *Session) Write(ctx context.Context, id uint32, handle string, offset uint64, data []byte) (*types.Status, error) {
	if err := s.lock(ctx, "write"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	of, err := s.st.file("write", handle)
	if err != nil {
		s.log.Warn("Write on invalid handle", logging.String("handle", handle))
		return nil, err
	}

	if _, err := of.file.Seek(int64(offset), io.SeekStart); err != nil {
		s.log.Error("Seek failed", logging.String("handle", handle), logging.Uint64("offset", offset), logging.Err(err))
		return nil, types.NewStatusError("write", types.StatusFailure, err).WithHandle(handle)
	}
	n, err := of.file.Write(data)
	s.st.bytesWritten += uint64(n)
	if err != nil {
		s.log.Error("Write failed",
			logging.String("handle", handle),
			logging.Int("written", n),
			logging.Int("len", len(data)),
			logging.Err(err),
		)
		return nil, types.NewStatusError("write", types.StatusFailure, err).WithHandle(handle)
	}
	if err := of.file.Sync(); err != nil {
		s.log.Warn("Failed to sync file", logging.String("handle", handle), logging.Err(err))
	}

	s.log.Debug("Write", logging.String("handle", handle), logging.Uint64("offset", offset), logging.Int("len", n))
	return ok(id), nil
}

// Realpath canonicalizes path and returns it rooted at "/". It never fails:
// paths that cannot be resolved or canonicalized, or that are hidden by the
// access policy, map to "/".
func (s *Session) Realpath(ctx context.Context, id uint32, path string) (*types.Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := "/"
	if local, err := s.resolver.Resolve(path); err == nil {
		if canonical, err := s.resolver.Canonical(local); err == nil {
			if virtual := s.resolver.Virtual(canonical); s.policy.Access(virtual) != types.AccessNone {
				result = virtual
			}
		}
	}

	s.log.Debug("Realpath", logging.String("path", path), logging.String("result", result))
	return &types.Name{ID: id, Files: []types.NameEntry{{
		Filename: result,
		Longname: result,
	}}}, nil
}
