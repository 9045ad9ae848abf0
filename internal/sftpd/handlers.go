package sftpd

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"

	"github.com/ajaxzhan/sandbox-sftp/internal/session"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// requestHandler adapts a session.Handler to the pkg/sftp request server.
type requestHandler struct {
	sess session.Handler
	ids  atomic.Uint32
}

// NewHandlers returns request server handlers that forward every request to
// sess.
func NewHandlers(sess session.Handler) sftp.Handlers {
	h := &requestHandler{sess: sess}
	return sftp.Handlers{FileGet: h, FilePut: h, FileCmd: h, FileList: h}
}

var (
	_ sftp.OpenFileWriter       = (*requestHandler)(nil)
	_ sftp.PosixRenameFileCmder = (*requestHandler)(nil)
	_ sftp.StatVFSFileCmder     = (*requestHandler)(nil)
	_ sftp.LstatFileLister      = (*requestHandler)(nil)
	_ sftp.RealPathFileLister   = (*requestHandler)(nil)
	_ sftp.ReadlinkFileLister   = (*requestHandler)(nil)
)

func (h *requestHandler) nextID() uint32 {
	return h.ids.Add(1)
}

// Fileread opens a file for reading.
func (h *requestHandler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	return h.open(r)
}

// Filewrite opens a file for writing.
func (h *requestHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return h.open(r)
}

// OpenFile opens a file for reading and writing.
func (h *requestHandler) OpenFile(r *sftp.Request) (sftp.WriterAtReaderAt, error) {
	return h.open(r)
}

// The request server keeps pflags in Request.Flags for opens, so attribute
// flags cannot be decoded there; new files get the default mode.
func (h *requestHandler) open(r *sftp.Request) (*remoteFile, error) {
	ctx := r.Context()
	reply, err := h.sess.Open(ctx, h.nextID(), r.Filepath, openFlags(r.Pflags()), types.Attributes{})
	if err != nil {
		return nil, toSFTPError(err)
	}
	return &remoteFile{h: h, ctx: ctx, name: path.Base(r.Filepath), handle: reply.Handle}, nil
}

// Filecmd handles namespace mutations.
func (h *requestHandler) Filecmd(r *sftp.Request) error {
	ctx := r.Context()
	id := h.nextID()

	var err error
	switch r.Method {
	case "Mkdir":
		_, err = h.sess.Mkdir(ctx, id, r.Filepath, types.Attributes{})
	case "Rmdir":
		_, err = h.sess.Rmdir(ctx, id, r.Filepath)
	case "Remove":
		_, err = h.sess.Remove(ctx, id, r.Filepath)
	case "Rename":
		_, err = h.sess.Rename(ctx, id, r.Filepath, r.Target)
	case "Setstat":
		_, err = h.sess.Setstat(ctx, id, r.Filepath, requestAttrs(r))
	case "Symlink", "Link":
		_, err = h.sess.Symlink(ctx, id, r.Target, r.Filepath)
	default:
		err = types.ErrOpUnsupported
	}
	return toSFTPError(err)
}

// PosixRename handles the posix-rename@openssh.com extension.
func (h *requestHandler) PosixRename(r *sftp.Request) error {
	_, err := h.sess.PosixRename(r.Context(), h.nextID(), r.Filepath, r.Target)
	return toSFTPError(err)
}

// StatVFS handles the statvfs@openssh.com extension.
func (h *requestHandler) StatVFS(r *sftp.Request) (*sftp.StatVFS, error) {
	st, err := h.sess.StatVFS(r.Context(), h.nextID(), r.Filepath)
	if err != nil {
		return nil, toSFTPError(err)
	}
	return &sftp.StatVFS{
		Bsize:   st.BlockSize,
		Frsize:  st.FragSize,
		Blocks:  st.Blocks,
		Bfree:   st.BlocksFree,
		Bavail:  st.BlocksAvail,
		Files:   st.Files,
		Ffree:   st.FilesFree,
		Favail:  st.FilesAvail,
		Fsid:    st.FsID,
		Flag:    st.Flag,
		Namemax: st.NameMax,
	}, nil
}

// Filelist handles directory listings and stat.
func (h *requestHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	ctx := r.Context()
	switch r.Method {
	case "List":
		reply, err := h.sess.Opendir(ctx, h.nextID(), r.Filepath)
		if err != nil {
			return nil, toSFTPError(err)
		}
		return &dirLister{h: h, ctx: ctx, handle: reply.Handle}, nil
	case "Stat":
		reply, err := h.sess.Stat(ctx, h.nextID(), r.Filepath)
		if err != nil {
			return nil, toSFTPError(err)
		}
		return staticLister{newFileInfo(path.Base(r.Filepath), reply.Attrs)}, nil
	case "Readlink":
		_, err := h.sess.Readlink(ctx, h.nextID(), r.Filepath)
		return nil, toSFTPError(err)
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// Lstat stats a path without following a final symlink.
func (h *requestHandler) Lstat(r *sftp.Request) (sftp.ListerAt, error) {
	reply, err := h.sess.Lstat(r.Context(), h.nextID(), r.Filepath)
	if err != nil {
		return nil, toSFTPError(err)
	}
	return staticLister{newFileInfo(path.Base(r.Filepath), reply.Attrs)}, nil
}

// RealPath canonicalizes a path. It never fails.
func (h *requestHandler) RealPath(p string) (string, error) {
	reply, err := h.sess.Realpath(context.Background(), h.nextID(), p)
	if err != nil || len(reply.Files) == 0 {
		return "/", nil
	}
	return reply.Files[0].Filename, nil
}

// Readlink is not supported.
func (h *requestHandler) Readlink(p string) (string, error) {
	_, err := h.sess.Readlink(context.Background(), h.nextID(), p)
	return "", toSFTPError(err)
}

// remoteFile is an open session file handle seen through io.ReaderAt and
// io.WriterAt.
type remoteFile struct {
	h      *requestHandler
	ctx    context.Context
	name   string
	handle string

	closeOnce sync.Once
}

// ReadAt fills p from off, issuing as many session reads as the read size
// cap requires.
func (f *remoteFile) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		d, err := f.h.sess.Read(f.ctx, f.h.nextID(), f.handle, uint64(off)+uint64(n), uint32(min(len(p)-n, 1<<31-1)))
		if err != nil {
			if errors.Is(err, types.ErrEOF) {
				return n, io.EOF
			}
			return n, toSFTPError(err)
		}
		n += copy(p[n:], d.Data)
	}
	return n, nil
}

// WriteAt writes all of p at off.
func (f *remoteFile) WriteAt(p []byte, off int64) (int, error) {
	if _, err := f.h.sess.Write(f.ctx, f.h.nextID(), f.handle, uint64(off), p); err != nil {
		return 0, toSFTPError(err)
	}
	return len(p), nil
}

// Stat reports the attributes of the open file.
func (f *remoteFile) Stat() (os.FileInfo, error) {
	reply, err := f.h.sess.Fstat(f.ctx, f.h.nextID(), f.handle)
	if err != nil {
		return nil, toSFTPError(err)
	}
	return newFileInfo(f.name, reply.Attrs), nil
}

// Close releases the session handle.
func (f *remoteFile) Close() error {
	f.closeOnce.Do(func() {
		f.h.sess.Close(context.Background(), f.h.nextID(), f.handle)
	})
	return nil
}

// dirLister pages through a session directory handle. The request server
// asks for consecutive offsets; entries are buffered between batches.
type dirLister struct {
	h      *requestHandler
	ctx    context.Context
	handle string

	mu      sync.Mutex
	pending []types.NameEntry
	served  int64
	eof     bool
	closed  bool
}

// ListAt copies the entries starting at offset into dst.
func (l *dirLister) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset != l.served {
		return 0, sftp.ErrSSHFxFailure
	}

	for len(l.pending) < len(dst) && !l.eof {
		reply, err := l.h.sess.Readdir(l.ctx, l.h.nextID(), l.handle)
		if err != nil {
			if !errors.Is(err, types.ErrEOF) {
				return 0, toSFTPError(err)
			}
			l.eof = true
			l.release()
			break
		}
		l.pending = append(l.pending, reply.Files...)
	}

	n := 0
	for n < len(dst) && n < len(l.pending) {
		dst[n] = newFileInfo(l.pending[n].Filename, l.pending[n].Attrs)
		n++
	}
	l.pending = l.pending[n:]
	l.served += int64(n)

	if l.eof && len(l.pending) == 0 {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the directory handle if the listing was abandoned early.
func (l *dirLister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release()
	return nil
}

func (l *dirLister) release() {
	if l.closed {
		return
	}
	l.closed = true
	l.h.sess.Close(context.Background(), l.h.nextID(), l.handle)
}

// staticLister serves a fixed slice of entries.
type staticLister []os.FileInfo

func (l staticLister) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset < 0 || offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if int64(n)+offset >= int64(len(l)) {
		return n, io.EOF
	}
	return n, nil
}

// fileInfo presents protocol attributes as an os.FileInfo. It implements
// sftp.FileInfoUidGid so ownership reaches the client.
type fileInfo struct {
	name  string
	attrs types.Attributes
}

var _ sftp.FileInfoUidGid = fileInfo{}

func newFileInfo(name string, attrs types.Attributes) fileInfo {
	return fileInfo{name: name, attrs: attrs}
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.attrs.Size) }
func (fi fileInfo) Mode() os.FileMode  { return vfs.FileMode(fi.attrs.Permissions) }
func (fi fileInfo) ModTime() time.Time { return fi.attrs.ModTime() }
func (fi fileInfo) IsDir() bool        { return fi.attrs.IsDir() }
func (fi fileInfo) Sys() any           { return nil }
func (fi fileInfo) Uid() uint32        { return fi.attrs.UID }
func (fi fileInfo) Gid() uint32        { return fi.attrs.GID }

func openFlags(pf sftp.FileOpenFlags) types.OpenFlags {
	var f types.OpenFlags
	if pf.Read {
		f |= types.FlagRead
	}
	if pf.Write {
		f |= types.FlagWrite
	}
	if pf.Append {
		f |= types.FlagAppend
	}
	if pf.Creat {
		f |= types.FlagCreate
	}
	if pf.Trunc {
		f |= types.FlagTruncate
	}
	if pf.Excl {
		f |= types.FlagExclude
	}
	return f
}

func requestAttrs(r *sftp.Request) types.Attributes {
	fl := r.AttrFlags()
	st := r.Attributes()
	var a types.Attributes
	if st == nil {
		return a
	}
	if fl.Size {
		a.Flags |= types.AttrSize
		a.Size = st.Size
	}
	if fl.UidGid {
		a.Flags |= types.AttrUIDGID
		a.UID, a.GID = st.UID, st.GID
	}
	if fl.Permissions {
		a.Flags |= types.AttrPermissions
		a.Permissions = st.Mode
	}
	if fl.Acmodtime {
		a.Flags |= types.AttrACModTime
		a.Atime, a.Mtime = st.Atime, st.Mtime
	}
	return a
}

// toSFTPError maps a session error onto the status error values the request
// server encodes on the wire.
func toSFTPError(err error) error {
	if err == nil {
		return nil
	}
	switch types.CodeOf(err) {
	case types.StatusOK:
		return nil
	case types.StatusEOF:
		return io.EOF
	case types.StatusNoSuchFile:
		return sftp.ErrSSHFxNoSuchFile
	case types.StatusPermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	case types.StatusBadMessage:
		return sftp.ErrSSHFxBadMessage
	case types.StatusNoConnection:
		return sftp.ErrSSHFxNoConnection
	case types.StatusConnectionLost:
		return sftp.ErrSSHFxConnectionLost
	case types.StatusOpUnsupported:
		return sftp.ErrSSHFxOpUnsupported
	default:
		if errors.Is(err, types.ErrOpUnsupported) {
			return sftp.ErrSSHFxOpUnsupported
		}
		return sftp.ErrSSHFxFailure
	}
}
