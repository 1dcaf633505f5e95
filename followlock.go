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
	lockFilePerm = 0o600
	lockDirPerm  = 0o700
)

// errFollowerRunning means another process follows changes into the same
// state database.
var errFollowerRunning = errors.New("another changes --follow is already running")

// followerLock is an exclusive flock on "<state_db>.lock". The file holds
// the owner's PID so a refused second follower can name it.
type followerLock struct {
	f    *os.File
	path string
}

// lockPathFor returns the lock file that guards statePath.
func lockPathFor(statePath string) string {
	return statePath + ".lock"
}

// acquireFollowerLock takes the follower lock for statePath without
// blocking. It fails with errFollowerRunning when the lock is held.
func acquireFollowerLock(statePath string) (*followerLock, error) {
	if statePath == "" {
		return nil, errors.New("follower lock: state database path is empty")
	}

	path := lockPathFor(statePath)

	if err := os.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, fmt.Errorf("follower lock: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return nil, fmt.Errorf("follower lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, pidErr := lockHolder(path); pidErr == nil {
			return nil, fmt.Errorf("%w (PID %d, lock %s)", errFollowerRunning, pid, path)
		}

		return nil, fmt.Errorf("%w (lock %s)", errFollowerRunning, path)
	}

	l := &followerLock{f: f, path: path}

	if err := l.writePID(); err != nil {
		l.Release()
		return nil, err
	}

	return l, nil
}

func (l *followerLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("follower lock: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("follower lock: %w", err)
	}

	return l.f.Sync()
}

// Release removes the lock file, then drops the lock.
func (l *followerLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// lockHolder reads the PID recorded in a lock file.
func lockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock %s: bad PID %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}
