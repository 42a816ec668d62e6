// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockfile serializes access to shared on-disk resources across
// concurrent runs with advisory exclusive locks. A project checkout
// updated by two overlapping update jobs is the canonical resource: the
// second run blocks on the first run's lock rather than corrupting the
// working tree.
//
// Locking is an explicit Manager value passed into each run. There is
// no package-level state; two Managers locking the same path still
// exclude each other because exclusion lives in the kernel's flock
// table, not in this package.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// flock and closeFd are indirections over the raw syscalls so tests
// can reach the acquisition failure branch, which no filesystem setup
// can trigger deterministically.
var (
	flock   = unix.Flock
	closeFd = unix.Close
)

// errnoOf extracts the OS error number for structured logging.
func errnoOf(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}

// OpenError reports a failure to open the lock file. No descriptor is
// held when this error is returned.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening lock file %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// AcquireError reports a failure to acquire the lock after the file was
// opened. The descriptor has already been closed when this error is
// returned.
type AcquireError struct {
	Path string
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquiring lock on %s: %v", e.Path, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Manager acquires advisory locks on filesystem paths. The zero value
// is not usable; construct with NewManager.
type Manager struct {
	logger *slog.Logger
}

// NewManager returns a Manager that logs lock failures to logger.
// A nil logger falls back to slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	path     string
	fd       int
	released bool
}

// Path returns the locked file's path.
func (l *Lock) Path() string { return l.path }

// Acquire opens path (creating it if absent) and takes an exclusive
// flock on it, blocking until the lock is free. There is no timeout: a
// stuck holder stalls the waiter indefinitely, which is the accepted
// contract for serializing updates of the same checkout.
//
// Failure modes are distinguished and never leak a descriptor:
//   - open failure returns *OpenError; nothing was opened
//   - flock failure returns *AcquireError; the descriptor is closed
//     before the error propagates
func (m *Manager) Acquire(path string) (*Lock, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		m.logger.Error("could not open lock file",
			"path", path,
			"errno", errnoOf(err),
			"error", err,
		)
		return nil, &OpenError{Path: path, Err: err}
	}

	if err := flock(fd, unix.LOCK_EX); err != nil {
		closeFd(fd)
		m.logger.Error("could not acquire lock",
			"path", path,
			"errno", errnoOf(err),
			"error", err,
		)
		return nil, &AcquireError{Path: path, Err: err}
	}

	return &Lock{path: path, fd: fd}, nil
}

// Release drops the lock and closes the descriptor. Idempotent: a
// second Release is a no-op returning nil.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	if err := flock(l.fd, unix.LOCK_UN); err != nil {
		closeFd(l.fd)
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	if err := closeFd(l.fd); err != nil {
		return fmt.Errorf("closing lock file %s: %w", l.path, err)
	}
	return nil
}
