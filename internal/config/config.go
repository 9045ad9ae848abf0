// Package config provides configuration management for the SFTP server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Config represents the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	SFTP    SFTPConfig    `yaml:"sftp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	SFTPAddr        string `yaml:"sftp_addr"`
	GRPCAddr        string `yaml:"grpc_addr"`
	HTTPAddr        string `yaml:"http_addr"` // empty disables the REST gateway
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// SFTPConfig describes the sandbox served over SFTP.
type SFTPConfig struct {
	RootDir     string             `yaml:"root_dir"`
	Username    string             `yaml:"username"`
	Password    string             `yaml:"password"`
	HostKeyPath string             `yaml:"host_key_path"`
	MaxReadSize uint32             `yaml:"max_read_size"`
	ReadOnly    bool               `yaml:"read_only"`
	Rules       []types.AccessRule `yaml:"rules"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			SFTPAddr:        ":2022",
			GRPCAddr:        ":9000",
			HTTPAddr:        ":8080",
			ShutdownTimeout: "10s",
		},
		SFTP: SFTPConfig{
			MaxReadSize: 32768,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.SFTPAddr == "" {
		return &types.ConfigError{Field: "server.sftp_addr", Reason: "must not be empty"}
	}
	if c.Server.GRPCAddr == "" {
		return &types.ConfigError{Field: "server.grpc_addr", Reason: "must not be empty"}
	}
	if c.Server.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
			return &types.ConfigError{Field: "server.shutdown_timeout", Reason: err.Error()}
		}
	}
	if c.SFTP.RootDir == "" {
		return &types.ConfigError{Field: "sftp.root_dir", Reason: "must not be empty"}
	}
	if c.SFTP.MaxReadSize == 0 {
		return &types.ConfigError{Field: "sftp.max_read_size", Reason: "must be positive"}
	}
	if (c.SFTP.Username == "") != (c.SFTP.Password == "") {
		return &types.ConfigError{Field: "sftp.password", Reason: "username and password must be set together"}
	}
	for i, rule := range c.SFTP.Rules {
		if rule.Pattern == "" {
			return &types.ConfigError{Field: fmt.Sprintf("sftp.rules[%d].pattern", i), Reason: "must not be empty"}
		}
	}
	return nil
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration.
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
