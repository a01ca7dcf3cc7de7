package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"nlo/internal/logging"
)

// LogPath is the per-day log file of one namespace.
func LogPath(logDir, namespace string, now time.Time) string {
	if namespace == "" {
		namespace = "_global"
	}
	return filepath.Join(logDir, namespace, now.Format("2006-01-02")+".log")
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string, verbose bool) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, verbose)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}
