package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/keejkrej/mupattern-engine/internal/logger"
)

// LoadEnv populates the process environment from a dotenv file before the
// MUPATTERN_* variables are read. An explicit path in MUPATTERN_ENV wins and
// a failure to read it is reported; otherwise .env is looked up in the
// working directory and next to the executable, first hit wins.
func LoadEnv() {
	if path := os.Getenv("MUPATTERN_ENV"); path != "" {
		if err := godotenv.Load(path); err != nil {
			logger.Warn("Could not load env file %s: %v", path, err)
			return
		}
		logger.Debug("Loaded environment from %s", path)
		return
	}

	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	for _, path := range candidates {
		if err := godotenv.Load(path); err != nil {
			continue
		}
		logger.Debug("Loaded environment from %s", path)
		return
	}
}
