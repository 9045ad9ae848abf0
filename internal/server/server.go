// Package server exposes the SFTP lifecycle manager over gRPC and a REST gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
)

// Config holds server configuration.
type Config struct {
	GRPCAddr string
	RESTAddr string // Optional REST gateway address
}

// Server is the admin gRPC server.
type Server struct {
	config      *Config
	grpcServer  *grpc.Server
	httpServer  *http.Server
	gatewayConn *grpc.ClientConn
	cancel      context.CancelFunc
	manager     *Manager
	admin       *AdminService
	mu          sync.Mutex
}

// New creates the admin server. defaults fill in Start requests.
func New(cfg *Config, manager *Manager, defaults StartOptions) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if manager == nil {
		return nil, errors.New("manager is required")
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	admin := NewAdminService(manager, defaults)
	RegisterAdminServer(grpcServer, admin)

	return &Server{
		config:     cfg,
		grpcServer: grpcServer,
		manager:    manager,
		admin:      admin,
	}, nil
}

// Start starts the gRPC server and blocks until it stops.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logging.Info("Admin gRPC server listening", logging.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the admin servers and the managed SFTP server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.gatewayConn != nil {
		s.gatewayConn.Close()
	}
	s.grpcServer.GracefulStop()
	s.manager.Shutdown()
	if s.cancel != nil {
		s.cancel()
	}
}

// StartWithGateway starts both the gRPC server and the REST gateway. It
// returns when Stop is called or either server fails, in which case the
// other is shut down too.
func (s *Server) StartWithGateway() error {
	grpcLis, err := net.Listen("tcp", s.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	logging.Info("Admin gRPC server listening", logging.String("addr", grpcLis.Addr().String()))

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to dial gRPC server: %w", err)
	}
	gateway, err := NewGateway(conn)
	if err != nil {
		grpcLis.Close()
		conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:    s.config.RESTAddr,
		Handler: gateway,
	}
	s.mu.Lock()
	s.gatewayConn = conn
	s.httpServer = httpServer
	s.cancel = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info("REST gateway listening", logging.String("addr", s.config.RESTAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		httpServer.Close()
		s.grpcServer.Stop()
		return nil
	})

	return g.Wait()
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logging.Debug("Admin call failed", logging.String("method", info.FullMethod), logging.Err(err))
	} else {
		logging.Debug("Admin call", logging.String("method", info.FullMethod))
	}
	return resp, err
}
