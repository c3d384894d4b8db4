package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o755
)

// mirrorLock is held by a repeating mirror for the lifetime of the loop.
// There is one lock per database file, so two loops may run side by side
// as long as they write to different databases. The lock file also carries
// the owner's PID for `mirror reload`.
type mirrorLock struct {
	path string
	f    *os.File
}

// pidPathFor returns the lock file guarding a mirror database.
func pidPathFor(dbPath string) string {
	return dbPath + ".pid"
}

// lockMirrorDatabase takes the non-blocking flock next to dbPath and records
// the current PID in it. It fails when another process owns the database.
func lockMirrorDatabase(dbPath string) (*mirrorLock, error) {
	if dbPath == "" {
		return nil, errors.New("mirror database path is empty: cannot place lock file")
	}

	path := pidPathFor(dbPath)

	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		owner := "another process"
		if pid, readErr := readLockOwner(path); readErr == nil {
			owner = "PID " + strconv.Itoa(pid)
		}

		return nil, fmt.Errorf("another mirror is already running on %s (%s holds %s)", dbPath, owner, path)
	}

	lock := &mirrorLock{path: path, f: f}

	if err := lock.writePID(); err != nil {
		f.Close()
		return nil, err
	}

	return lock, nil
}

func (l *mirrorLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}

	return l.f.Sync()
}

// Release removes the lock file and drops the flock. The file is removed
// first so a waiting `mirror reload` never signals a stale PID.
func (l *mirrorLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readLockOwner reads the owner PID from a lock file.
func readLockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// signalMirrorReload sends SIGHUP to the mirror that owns dbPath so it
// re-reads its config before the next cycle. A lock file left by a dead
// process is removed.
func signalMirrorReload(dbPath string) (int, error) {
	pidPath := pidPathFor(dbPath)

	pid, err := readLockOwner(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("no running mirror found for %s", dbPath)
		}

		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return 0, fmt.Errorf("mirror (PID %d) is not running (stale lock file removed)", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("sending SIGHUP to mirror (PID %d): %w", pid, err)
	}

	return pid, nil
}
