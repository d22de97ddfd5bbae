package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// creationLock records which process is in the middle of creating a
// worktree for a spec slug, guarding against two concurrent sessions
// racing to create the same namespace.
type creationLock struct {
	SpecSlug  string    `yaml:"spec_slug"`
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`
}

func lockPath(stateDir, specSlug string) string {
	return filepath.Join(stateDir, "locks", specSlug+".lock")
}

// acquireCreationLock writes a lock file for specSlug, failing if a live
// process already holds one.
func acquireCreationLock(stateDir, specSlug string) error {
	path := lockPath(stateDir, specSlug)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	if existing, err := loadLock(path); err == nil && existing != nil {
		if isProcessRunning(existing.PID) {
			return fmt.Errorf("spec %q is locked by pid %d", specSlug, existing.PID)
		}
		_ = os.Remove(path)
	}

	lock := creationLock{SpecSlug: specSlug, PID: os.Getpid(), StartedAt: time.Now()}
	data, err := yaml.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshaling lock: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing lock: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming lock: %w", err)
	}
	return nil
}

// releaseCreationLock removes the lock file for specSlug, ignoring a
// missing file.
func releaseCreationLock(stateDir, specSlug string) error {
	path := lockPath(stateDir, specSlug)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock: %w", err)
	}
	return nil
}

func loadLock(path string) (*creationLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lock creationLock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

// cleanupStaleLocks removes every lock file whose owning PID is no longer
// alive, returning how many it reclaimed.
func cleanupStaleLocks(stateDir string) (int, error) {
	dir := filepath.Join(stateDir, "locks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock dir: %w", err)
	}

	reclaimed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		lock, err := loadLock(path)
		if err != nil || lock == nil {
			continue
		}
		if !isProcessRunning(lock.PID) {
			_ = os.Remove(path)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// isProcessRunning reports whether pid currently exists, by sending it the
// null signal.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
