// Package session implements the per-connection SFTP file service: handle
// management and one handler per protocol verb, all confined to a root
// directory.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

const (
	// DefaultMaxReadSize caps the bytes returned by a single read.
	DefaultMaxReadSize uint32 = 32768

	// ReadDirBatchSize is the maximum number of entries per readdir reply.
	ReadDirBatchSize = 10

	// ExtensionStatVFS is advertised in the version reply.
	ExtensionStatVFS = "statvfs@openssh.com"
)

// Config holds the parameters a session is created with.
type Config struct {
	// ID identifies the session in logs. Generated when empty.
	ID string

	// RootDir is the directory exposed as "/".
	RootDir string

	// MaxReadSize caps a single read. Zero means DefaultMaxReadSize.
	MaxReadSize uint32

	// ReadOnly caps every access level at read.
	ReadOnly bool

	// Rules restrict access to parts of the tree. Empty means full access.
	Rules []types.AccessRule

	// Remote is the peer address, for logging only.
	Remote string
}

// Handler is the per-verb operation surface consumed by the protocol
// dispatcher. Every method except Init takes the request id and echoes it in
// its reply. Failures are *types.StatusError values.
type Handler interface {
	Init(ctx context.Context, version uint32, extensions map[string]string) (*types.Version, error)

	Open(ctx context.Context, id uint32, path string, flags types.OpenFlags, attrs types.Attributes) (*types.Handle, error)
	Close(ctx context.Context, id uint32, handle string) (*types.Status, error)
	Read(ctx context.Context, id uint32, handle string, offset uint64, length uint32) (*types.Data, error)
	Write(ctx context.Context, id uint32, handle string, offset uint64, data []byte) (*types.Status, error)

	Stat(ctx context.Context, id uint32, path string) (*types.Attrs, error)
	Lstat(ctx context.Context, id uint32, path string) (*types.Attrs, error)
	Fstat(ctx context.Context, id uint32, handle string) (*types.Attrs, error)
	StatVFS(ctx context.Context, id uint32, path string) (*types.FsStats, error)

	Opendir(ctx context.Context, id uint32, path string) (*types.Handle, error)
	Readdir(ctx context.Context, id uint32, handle string) (*types.Name, error)
	Realpath(ctx context.Context, id uint32, path string) (*types.Name, error)

	Mkdir(ctx context.Context, id uint32, path string, attrs types.Attributes) (*types.Status, error)
	Rmdir(ctx context.Context, id uint32, path string) (*types.Status, error)
	Remove(ctx context.Context, id uint32, path string) (*types.Status, error)
	Rename(ctx context.Context, id uint32, oldPath, newPath string) (*types.Status, error)
	PosixRename(ctx context.Context, id uint32, oldPath, newPath string) (*types.Status, error)

	Setstat(ctx context.Context, id uint32, path string, attrs types.Attributes) (*types.Status, error)
	Symlink(ctx context.Context, id uint32, linkPath, targetPath string) (*types.Status, error)
	Readlink(ctx context.Context, id uint32, path string) (*types.Name, error)
}

var _ Handler = (*Session)(nil)

// Session is the state of one SFTP connection. Calls are serialized by an
// internal mutex, so a dispatcher may invoke it from several goroutines.
type Session struct {
	mu sync.Mutex

	id          string
	resolver    *vfs.Resolver
	policy      vfs.AccessPolicy
	maxReadSize uint32
	log         *zap.Logger

	st     *state
	closed bool
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "sftp_" + hex.EncodeToString(bytes)
}

// New creates a session for cfg. The root directory must exist.
func New(cfg Config) (*Session, error) {
	resolver, err := vfs.NewResolver(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	policy, err := vfs.NewAccessPolicy(cfg.Rules, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		id = generateSessionID()
	}
	maxRead := cfg.MaxReadSize
	if maxRead == 0 {
		maxRead = DefaultMaxReadSize
	}

	fields := []zap.Field{logging.String("session", id)}
	if cfg.Remote != "" {
		fields = append(fields, logging.String("remote", cfg.Remote))
	}

	return &Session{
		id:          id,
		resolver:    resolver,
		policy:      policy,
		maxReadSize: maxRead,
		log:         logging.With(fields...),
		st:          newState(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Root returns the canonical root directory.
func (s *Session) Root() string {
	return s.resolver.Root()
}

// lock acquires the session for op. A cancelled context or a shut down
// session fails the call with Failure before any filesystem access.
func (s *Session) lock(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return types.NewStatusError(op, types.StatusFailure, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.NewStatusError(op, types.StatusFailure, fmt.Errorf("session %s is closed", s.id))
	}
	return nil
}

// Init records the negotiated protocol version. It may be called once.
func (s *Session) Init(ctx context.Context, version uint32, extensions map[string]string) (*types.Version, error) {
	if err := s.lock(ctx, "init"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.st.initDone {
		s.log.Error("Duplicate init", logging.Uint32("version", version))
		return nil, types.NewStatusError("init", types.StatusConnectionLost, types.ErrDuplicateInit)
	}
	s.st.initDone = true
	s.st.version = min(version, types.ProtocolVersion)

	s.log.Info("Session initialized",
		logging.Uint32("client_version", version),
		logging.Uint32("version", s.st.version),
		logging.Any("extensions", extensions),
	)
	return &types.Version{
		Version:    types.ProtocolVersion,
		Extensions: map[string]string{ExtensionStatVFS: "2"},
	}, nil
}

// Version returns the negotiated protocol version, or false before Init.
func (s *Session) Version() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.version, s.st.initDone
}

// Stats returns the I/O counters of the session.
func (s *Session) Stats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stats()
}

// Shutdown releases every open handle. Later calls fail with Failure.
// Shutdown is idempotent.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	stats := s.st.stats()
	for _, f := range s.st.releaseAll() {
		if err := f.Close(); err != nil {
			s.log.Warn("Failed to close handle at shutdown", logging.String("path", f.Name()), logging.Err(err))
		}
	}
	s.log.Info("Session closed",
		logging.Uint64("bytes_read", stats.BytesRead),
		logging.Uint64("bytes_written", stats.BytesWritten),
		logging.Uint64("handles_issued", stats.HandlesIssued),
		logging.Int("open_files", stats.OpenFiles),
		logging.Int("open_dirs", stats.OpenDirs),
	)
}

// check resolves the access level of a local path inside the root.
func (s *Session) check(op, local string, required types.AccessLevel) error {
	return s.policy.Check(op, s.resolver.Virtual(local), required)
}

func ok(id uint32) *types.Status {
	return &types.Status{ID: id, Code: types.StatusOK, Message: "Ok"}
}

func unsupported(op, path string) error {
	return types.NewStatusError(op, types.StatusOpUnsupported, types.ErrOpUnsupported).WithPath(path)
}
