package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/sftpd"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// StartOptions describes the SFTP server to run.
type StartOptions struct {
	Addr string `json:"addr"`
	sftpd.Config
}

// running is the active SFTP server owned by the manager.
type running struct {
	srv       *sftpd.Server
	addr      string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan error
}

// Manager owns at most one running SFTP server. Starting a new server stops
// the previous one first.
type Manager struct {
	mu      sync.Mutex
	current *running
}

// NewManager creates a manager with no server running.
func NewManager() *Manager {
	return &Manager{}
}

// Start validates opts, stops the running server if there is one and starts
// a new server listening on opts.Addr. The server runs until Stop or the
// next Start; ctx only bounds the start itself.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (types.ServerStatus, error) {
	if err := ctx.Err(); err != nil {
		return types.ServerStatus{}, err
	}

	srv, err := sftpd.New(opts.Config)
	if err != nil {
		return types.ServerStatus{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		logging.Info("Replacing running SFTP server", logging.String("addr", m.current.addr))
		m.stopLocked()
	}

	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", opts.Addr)
	if err != nil {
		return types.ServerStatus{}, fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &running{
		srv:       srv,
		addr:      lis.Addr().String(),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	go func() {
		r.done <- srv.Serve(runCtx, lis)
	}()
	m.current = r

	logging.Info("SFTP server started",
		logging.String("addr", r.addr),
		logging.String("root", srv.RootDir()),
		logging.Bool("read_only", opts.ReadOnly),
	)
	return m.statusLocked(), nil
}

// Stop stops the running server and waits for its sessions to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return types.ErrNotRunning
	}
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	r := m.current
	m.current = nil

	r.cancel()
	err := <-r.done
	if err != nil {
		logging.Warn("SFTP server stopped with error", logging.String("addr", r.addr), logging.Err(err))
	} else {
		logging.Info("SFTP server stopped", logging.String("addr", r.addr))
	}
	return err
}

// Status reports the running server, if any.
func (m *Manager) Status() types.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() types.ServerStatus {
	if m.current == nil {
		return types.ServerStatus{}
	}
	return types.ServerStatus{
		Running:        true,
		Addr:           m.current.addr,
		RootDir:        m.current.srv.RootDir(),
		StartedAt:      m.current.startedAt,
		ActiveSessions: m.current.srv.ActiveSessions(),
	}
}

// Shutdown stops the running server if there is one.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.stopLocked()
	}
}
