package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all application configuration
type Config struct {
	// Path to the mupattern worker binary
	WorkerBin string

	// Directory where engine state lives (task store, logs)
	DataDir string

	// Canonical task store file; derived from DataDir unless set explicitly
	StorePath string

	// Path to the ffmpeg binary passed to the movie worker
	FFmpegPath string
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		WorkerBin:  "bin/mupattern",
		FFmpegPath: "ffmpeg",
	}
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	if workerBin := os.Getenv("MUPATTERN_WORKER_BIN"); workerBin != "" {
		c.WorkerBin = workerBin
	}

	if dataDir := os.Getenv("MUPATTERN_DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}

	if storePath := os.Getenv("MUPATTERN_STORE_PATH"); storePath != "" {
		c.StorePath = storePath
	}

	if ffmpegPath := os.Getenv("MUPATTERN_FFMPEG"); ffmpegPath != "" {
		c.FFmpegPath = ffmpegPath
	}
}

// ResolveDataDir fills in DataDir and StorePath defaults, creating the data
// directory when it does not exist yet.
func (c *Config) ResolveDataDir() error {
	if c.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		c.DataDir = filepath.Join(homeDir, ".mupattern-engine")
	}

	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, "tasks.json")
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.WorkerBin == "" {
		return fmt.Errorf("worker binary path cannot be empty")
	}

	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path cannot be empty")
	}

	return nil
}
