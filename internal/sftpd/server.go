// Package sftpd serves sandboxed SFTP sessions over SSH.
package sftpd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/session"
	"github.com/ajaxzhan/sandbox-sftp/internal/vfs"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// SubsystemName is the only SSH subsystem served.
const SubsystemName = "sftp"

// Config holds SFTP server configuration.
type Config struct {
	RootDir     string
	Username    string // Empty username and password accept any login
	Password    string
	HostKeyPath string // Empty means an ephemeral key
	MaxReadSize uint32
	ReadOnly    bool
	Rules       []types.AccessRule
}

// Server accepts SSH connections and runs one SFTP session per channel.
type Server struct {
	cfg       Config
	sshConfig *ssh.ServerConfig

	active atomic.Int64
	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New validates cfg and prepares the SSH configuration.
func New(cfg Config) (*Server, error) {
	resolver, err := vfs.NewResolver(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	cfg.RootDir = resolver.Root()
	if _, err := vfs.NewAccessPolicy(cfg.Rules, cfg.ReadOnly); err != nil {
		return nil, err
	}

	signer, err := LoadOrCreateHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}
	s.sshConfig = &ssh.ServerConfig{
		PasswordCallback: s.checkPassword,
	}
	s.sshConfig.AddHostKey(signer)
	return s, nil
}

// RootDir returns the canonical root directory served.
func (s *Server) RootDir() string {
	return s.cfg.RootDir
}

// ActiveSessions returns the number of live SFTP sessions.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

func (s *Server) checkPassword(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil, nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(conn.User()), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(s.cfg.Password)) == 1
	if userOK && passOK {
		return nil, nil
	}
	logging.Warn("Authentication failed",
		logging.String("user", conn.User()),
		logging.String("remote", conn.RemoteAddr().String()),
	)
	return nil, fmt.Errorf("password rejected for %q", conn.User())
}

// Serve accepts connections on lis until ctx is cancelled, then closes the
// listener and every live connection and waits for their sessions to end.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		lis.Close()
		s.closeConns()
	}()

	logging.Info("SFTP server listening",
		logging.String("addr", lis.Addr().String()),
		logging.String("root", s.cfg.RootDir),
	)

	var serveErr error
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() == nil {
				serveErr = fmt.Errorf("accept failed: %w", err)
			}
			break
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}

	cancel()
	s.wg.Wait()
	logging.Info("SFTP server stopped", logging.String("addr", lis.Addr().String()))
	return serveErr
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.Close()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		logging.Debug("SSH handshake failed", logging.String("remote", conn.RemoteAddr().String()), logging.Err(err))
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	logging.Info("SSH connection established",
		logging.String("user", sconn.User()),
		logging.String("remote", sconn.RemoteAddr().String()),
	)

	var wg sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			logging.Warn("Failed to accept channel", logging.Err(err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleChannel(ctx, sconn, ch, requests)
		}()
	}
	wg.Wait()
}

// handleChannel waits for the sftp subsystem request and serves it. Shell,
// exec and any other request is refused.
func (s *Server) handleChannel(ctx context.Context, sconn *ssh.ServerConn, ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	subsystem := make(chan bool, 1)
	go func() {
		started := false
		for req := range requests {
			accept := false
			if req.Type == "subsystem" && !started {
				var msg struct{ Name string }
				if err := ssh.Unmarshal(req.Payload, &msg); err == nil && msg.Name == SubsystemName {
					accept = true
				}
			}
			if req.WantReply {
				req.Reply(accept, nil)
			}
			if accept {
				started = true
				subsystem <- true
			}
		}
		if !started {
			subsystem <- false
		}
	}()

	select {
	case ok := <-subsystem:
		if !ok {
			return
		}
	case <-ctx.Done():
		return
	}

	sess, err := session.New(session.Config{
		ID:          fmt.Sprintf("sftp_%d", s.nextID.Add(1)),
		RootDir:     s.cfg.RootDir,
		MaxReadSize: s.cfg.MaxReadSize,
		ReadOnly:    s.cfg.ReadOnly,
		Rules:       s.cfg.Rules,
		Remote:      sconn.RemoteAddr().String(),
	})
	if err != nil {
		logging.Error("Failed to create session", logging.Err(err))
		return
	}
	defer sess.Shutdown()

	// The request server answers INIT itself; record the version it speaks.
	if _, err := sess.Init(ctx, types.ProtocolVersion, nil); err != nil {
		logging.Error("Failed to initialize session", logging.Err(err))
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	server := sftp.NewRequestServer(ch, NewHandlers(sess))
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		logging.Warn("SFTP session ended with error", logging.String("session", sess.ID()), logging.Err(err))
	}
	server.Close()
}
