// Package statedir resolves the per-user state directory shared by the IPC
// socket, the audit log, and the main-process log file, per spec.md §6:
// $XDG_RUNTIME_DIR/<name> preferred, else /tmp/<name>-<uid>, verified
// non-symlink and forced to mode 0700.
package statedir

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirMode = 0o700

// Resolve returns the state directory for appName, creating it (and forcing
// its mode to 0700) if necessary, and rejecting a symlinked existing path.
func Resolve(appName string) (string, error) {
	dir := candidate(appName)
	if err := ensure(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func candidate(appName string) string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, appName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appName, os.Getuid()))
}

func ensure(dir string) error {
	info, err := os.Lstat(dir)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("statedir: %s is a symlink, refusing to use it", dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("statedir: %s exists and is not a directory", dir)
		}
		return os.Chmod(dir, dirMode)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("statedir: stat %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("statedir: mkdir %s: %w", dir, err)
	}
	return os.Chmod(dir, dirMode)
}

// SocketPath returns the control.sock path under dir.
func SocketPath(dir string) string { return filepath.Join(dir, "control.sock") }

// AuditDir returns the audit/ subdirectory under dir, creating it.
func AuditDir(dir string) (string, error) {
	d := filepath.Join(dir, "audit")
	if err := os.MkdirAll(d, dirMode); err != nil {
		return "", err
	}
	return d, nil
}

// LogPath returns the main-process log path for appName under dir.
func LogPath(dir, appName string) string {
	return filepath.Join(dir, appName+".log")
}
