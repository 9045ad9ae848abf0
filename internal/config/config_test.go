package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.SFTPAddr != ":2022" {
		t.Errorf("expected SFTP addr :2022, got %s", cfg.Server.SFTPAddr)
	}
	if cfg.Server.GRPCAddr != ":9000" {
		t.Errorf("expected gRPC addr :9000, got %s", cfg.Server.GRPCAddr)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected HTTP addr :8080, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.SFTP.MaxReadSize != 32768 {
		t.Errorf("expected max read size 32768, got %d", cfg.SFTP.MaxReadSize)
	}
	if cfg.SFTP.ReadOnly {
		t.Error("expected read-write by default")
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
server:
  sftp_addr: "127.0.0.1:2222"
  grpc_addr: ":9001"
  http_addr: ""
sftp:
  root_dir: "/srv/data"
  username: "sandbox"
  password: "secret"
  max_read_size: 65536
  read_only: true
  rules:
    - pattern: "/secrets/**"
      type: glob
      access: none
      priority: 100
    - pattern: "/public"
      type: directory
      access: read
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.SFTPAddr != "127.0.0.1:2222" {
		t.Errorf("expected SFTP addr 127.0.0.1:2222, got %s", cfg.Server.SFTPAddr)
	}
	if cfg.Server.GRPCAddr != ":9001" {
		t.Errorf("expected gRPC addr :9001, got %s", cfg.Server.GRPCAddr)
	}
	if cfg.Server.HTTPAddr != "" {
		t.Errorf("expected gateway disabled, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Server.ShutdownTimeout != "10s" {
		t.Errorf("expected default shutdown timeout to survive, got %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.SFTP.RootDir != "/srv/data" {
		t.Errorf("expected root /srv/data, got %s", cfg.SFTP.RootDir)
	}
	if cfg.SFTP.MaxReadSize != 65536 {
		t.Errorf("expected max read size 65536, got %d", cfg.SFTP.MaxReadSize)
	}
	if !cfg.SFTP.ReadOnly {
		t.Error("expected read_only true")
	}
	if len(cfg.SFTP.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(cfg.SFTP.Rules))
	}
	want := types.AccessRule{Pattern: "/secrets/**", Type: types.PatternGlob, Access: types.AccessNone, Priority: 100}
	if cfg.SFTP.Rules[0] != want {
		t.Errorf("rule 0 = %+v, want %+v", cfg.SFTP.Rules[0], want)
	}
	if cfg.SFTP.Rules[1].Type != types.PatternDirectory || cfg.SFTP.Rules[1].Access != types.AccessRead {
		t.Errorf("unexpected rule 1: %+v", cfg.SFTP.Rules[1])
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to be valid: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not, a, map"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for non-existent file: %v", err)
	}
	if cfg.Server.SFTPAddr != ":2022" {
		t.Errorf("expected default SFTP addr :2022, got %s", cfg.Server.SFTPAddr)
	}

	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for empty path: %v", err)
	}
	if cfg.Server.GRPCAddr != ":9000" {
		t.Errorf("expected default gRPC addr :9000, got %s", cfg.Server.GRPCAddr)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.SFTP.RootDir = "/srv/data"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"anonymous", func(c *Config) { c.SFTP.Username, c.SFTP.Password = "", "" }, ""},
		{"no root", func(c *Config) { c.SFTP.RootDir = "" }, "sftp.root_dir"},
		{"no sftp addr", func(c *Config) { c.Server.SFTPAddr = "" }, "server.sftp_addr"},
		{"no grpc addr", func(c *Config) { c.Server.GRPCAddr = "" }, "server.grpc_addr"},
		{"bad timeout", func(c *Config) { c.Server.ShutdownTimeout = "soon" }, "server.shutdown_timeout"},
		{"zero read size", func(c *Config) { c.SFTP.MaxReadSize = 0 }, "sftp.max_read_size"},
		{"username only", func(c *Config) { c.SFTP.Username = "sandbox" }, "sftp.password"},
		{"empty rule", func(c *Config) { c.SFTP.Rules = []types.AccessRule{{Access: types.AccessRead}} }, "sftp.rules[0].pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			var ce *types.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ce.Field)
			}
		})
	}
}

func TestServerConfigDurations(t *testing.T) {
	cfg := &ServerConfig{ShutdownTimeout: "45s"}
	if cfg.GetShutdownTimeout() != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.GetShutdownTimeout())
	}

	cfg.ShutdownTimeout = "invalid"
	if cfg.GetShutdownTimeout() != 10*time.Second {
		t.Errorf("expected fallback 10s, got %v", cfg.GetShutdownTimeout())
	}
}
