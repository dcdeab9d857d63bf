// Package config holds server configuration: compiled-in defaults overlaid
// by an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	// SigningKey verifies the HMAC signature of client bearer tokens.
	SigningKey string `yaml:"signing_key"`
}

type StorageConfig struct {
	// Backend is "memory" or "bolt".
	Backend string `yaml:"backend"`
	// Path is the bolt database file; ignored for the memory backend.
	Path string `yaml:"path"`
}

type AnalysisConfig struct {
	// Endpoint of the analysis pipeline. Empty means use the built-in stub.
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			MaxConnections:  10_000,
			MaxMessageSize:  1 << 20, // 1MB
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			SigningKey: "",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    "contractsync.db",
		},
		Analysis: AnalysisConfig{
			Endpoint: "",
			Timeout:  30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load overlays the YAML file at path onto the defaults. An empty path
// returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	switch c.Storage.Backend {
	case "memory", "bolt":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"bolt\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "bolt" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path required for the bolt backend")
	}
	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive")
	}
	return nil
}
