package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Pipeline PipelineConfig
	Chat     ChatConfig
	Profile  ProfileConfig
	Auth     AuthConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=console json"`
}

type PipelineConfig struct {
	PollInterval       time.Duration `validate:"gt=0"`
	BatchSize          int           `validate:"min=1"`
	RebuildConcurrency int           `validate:"min=1"`
}

type ChatConfig struct {
	MaxResults       int `validate:"min=1"`
	SessionListLimit int `validate:"min=1"`
}

type ProfileConfig struct {
	CacheTTL time.Duration `validate:"gt=0"`
}

// AuthConfig holds the bearer token required by the HTTP API. An empty token
// disables authentication.
type AuthConfig struct {
	APIToken string
}

// ClientConfig identifies the user the CLI and the MCP server act as.
type ClientConfig struct {
	UserID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Pipeline: PipelineConfig{
			PollInterval:       2 * time.Second,
			BatchSize:          100,
			RebuildConcurrency: 4,
		},
		Chat: ChatConfig{
			MaxResults:       10,
			SessionListLimit: 10,
		},
		Profile: ProfileConfig{
			CacheTTL: 60 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/persona/config.yaml, then applies PERSONA_* environment
// variables on top. Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr returns the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "persona-data"
		}
	}
	return filepath.Join(dir, "persona")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "persona", "config.yaml")
}
