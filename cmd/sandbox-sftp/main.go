// Package main provides the entry point for the sandbox SFTP server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ajaxzhan/sandbox-sftp/internal/config"
	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/internal/server"
	"github.com/ajaxzhan/sandbox-sftp/internal/sftpd"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	rootDir := flag.String("root", "", "Directory served as the SFTP root (overrides config)")
	sftpAddr := flag.String("sftp-addr", "", "SFTP listen address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "Admin gRPC address (overrides config)")
	httpAddr := flag.String("http-addr", "", "Admin REST gateway address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()

	// Apply command-line overrides
	if *rootDir != "" {
		cfg.SFTP.RootDir = *rootDir
	}
	if *sftpAddr != "" {
		cfg.Server.SFTPAddr = *sftpAddr
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal("Invalid configuration", logging.Err(err))
	}
	if err := normalizePaths(cfg); err != nil {
		logging.Fatal("Failed to normalize paths", logging.Err(err))
	}

	logging.Info("Starting sandbox SFTP server...",
		logging.String("sftp_addr", cfg.Server.SFTPAddr),
		logging.String("grpc_addr", cfg.Server.GRPCAddr),
		logging.String("http_addr", cfg.Server.HTTPAddr),
		logging.String("root", cfg.SFTP.RootDir),
	)

	opts := startOptions(cfg)
	manager := server.NewManager()
	if _, err := manager.Start(context.Background(), opts); err != nil {
		logging.Fatal("Failed to start SFTP server", logging.Err(err))
	}

	srv, err := server.New(&server.Config{
		GRPCAddr: cfg.Server.GRPCAddr,
		RESTAddr: cfg.Server.HTTPAddr,
	}, manager, opts)
	if err != nil {
		logging.Fatal("Failed to create server", logging.Err(err))
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		<-sigCh
		logging.Info("Shutting down server...")
		done := make(chan struct{})
		go func() {
			srv.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.Server.GetShutdownTimeout()):
			logging.Warn("Shutdown timed out, exiting with sessions still open")
		}
		close(stopped)
	}()

	if cfg.Server.HTTPAddr != "" {
		err = srv.StartWithGateway()
	} else {
		err = srv.Start()
	}
	if err != nil {
		logging.Fatal("Server failed", logging.Err(err))
	}
	<-stopped
}

func startOptions(cfg *config.Config) server.StartOptions {
	return server.StartOptions{
		Addr: cfg.Server.SFTPAddr,
		Config: sftpd.Config{
			RootDir:     cfg.SFTP.RootDir,
			Username:    cfg.SFTP.Username,
			Password:    cfg.SFTP.Password,
			HostKeyPath: cfg.SFTP.HostKeyPath,
			MaxReadSize: cfg.SFTP.MaxReadSize,
			ReadOnly:    cfg.SFTP.ReadOnly,
			Rules:       cfg.SFTP.Rules,
		},
	}
}

// normalizePaths makes configured paths absolute so later Start requests
// do not depend on the working directory.
func normalizePaths(cfg *config.Config) error {
	for _, p := range []*string{&cfg.SFTP.RootDir, &cfg.SFTP.HostKeyPath} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return err
		}
		*p = abs
	}
	return nil
}
