// Package config loads stevedore configuration from a JSON file at
// $XDG_CONFIG_HOME/stevedore/config.json, with STEVEDORE_* environment
// variables overriding file values. A .env file in the working directory is
// loaded first so local development can keep credentials out of the shell.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Analyst AnalystConfig `json:"analyst"`
	Storage StorageConfig `json:"storage"`
	Worker  WorkerConfig  `json:"worker"`
}

type ServerConfig struct {
	Port   int    `json:"port"`
	APIKey string `json:"api_key"` // bearer token required on the local API when set
}

// AnalystConfig points at the remote analysis service and the object-storage
// collaborator. They usually share a deployment and an API key.
type AnalystConfig struct {
	BaseURL     string `json:"base_url"`
	BlobBaseURL string `json:"blob_base_url"`
	APIKey      string `json:"api_key"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type WorkerConfig struct {
	PollInterval time.Duration `json:"-"`
	PollSeconds  int           `json:"poll_seconds"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Analyst: AnalystConfig{
			BaseURL: "http://localhost:8800",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Worker: WorkerConfig{
			PollSeconds: 30,
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".stevedore"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "stevedore")
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".stevedore", "config.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "stevedore", "config.json")
}

// Load reads configuration from defaults, the config file, and the
// environment, in increasing precedence. A missing config file is fine;
// a malformed one is not.
func Load() (Config, error) {
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()
	return loadFrom(configPath())
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults + env only
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Analyst.BlobBaseURL == "" {
		cfg.Analyst.BlobBaseURL = cfg.Analyst.BaseURL
	}
	if cfg.Worker.PollSeconds <= 0 {
		cfg.Worker.PollSeconds = 30
	}
	cfg.Worker.PollInterval = time.Duration(cfg.Worker.PollSeconds) * time.Second

	if cfg.Analyst.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: analysis service base URL. " +
			"Set analyst.base_url in the config file or STEVEDORE_ANALYST_BASE_URL")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt("STEVEDORE_SERVER_PORT", &cfg.Server.Port)
	setString("STEVEDORE_SERVER_API_KEY", &cfg.Server.APIKey)
	setString("STEVEDORE_ANALYST_BASE_URL", &cfg.Analyst.BaseURL)
	setString("STEVEDORE_ANALYST_BLOB_BASE_URL", &cfg.Analyst.BlobBaseURL)
	setString("STEVEDORE_ANALYST_API_KEY", &cfg.Analyst.APIKey)
	setString("STEVEDORE_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	setInt("STEVEDORE_WORKER_POLL_SECONDS", &cfg.Worker.PollSeconds)
}
