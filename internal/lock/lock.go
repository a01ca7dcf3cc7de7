// Package lock keeps two local invocations from operating on the same
// namespace at once. It is a host-local pid file; it does not coordinate
// operators on different machines.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"nlo/internal/opserr"

	"gopkg.in/yaml.v3"
)

const fileName = ".nlo.lock"

type Entry struct {
	Pid       int    `yaml:"pid"`
	Operation string `yaml:"operation"`
	StartedAt string `yaml:"started_at"`
}

// Path is the lock file of a namespace directory.
func Path(namespaceDir string) string {
	return filepath.Join(namespaceDir, fileName)
}

func readLock(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return &entry, nil
}

func writeLock(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	return true
}

// Acquire takes the lock for operation. A lock held by a live process is a
// PreconditionError; one left by a dead process is reclaimed. The returned
// release should be deferred.
func Acquire(path, operation string) (func() error, error) {
	existing, err := readLock(path)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Pid > 0 && isProcessAlive(existing.Pid) {
		return nil, opserr.Precondition("namespace is busy: %s running as pid %d since %s (lock %s)",
			existing.Operation, existing.Pid, existing.StartedAt, path)
	}
	if existing != nil {
		slog.Warn("Reclaiming stale lock", "file", path, "pid", existing.Pid, "operation", existing.Operation)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	entry := &Entry{
		Pid:       os.Getpid(),
		Operation: operation,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeLock(path, entry); err != nil {
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	release := func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}
