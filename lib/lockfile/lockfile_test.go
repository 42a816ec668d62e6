// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestAcquireAndRelease(t *testing.T) {
	manager := NewManager(nil)
	path := filepath.Join(t.TempDir(), "project.lock")

	lock, err := manager.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lock.Path() != path {
		t.Errorf("Path = %q, want %q", lock.Path(), path)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Second release is a no-op.
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestAcquireOpenFailure(t *testing.T) {
	manager := NewManager(nil)

	// Parent directory does not exist, so open must fail with ENOENT
	// and no descriptor is ever created.
	path := filepath.Join(t.TempDir(), "missing", "project.lock")
	_, err := manager.Acquire(path)
	if err == nil {
		t.Fatal("Acquire succeeded, want open error")
	}

	var openError *OpenError
	if !errors.As(err, &openError) {
		t.Fatalf("error %T, want *OpenError", err)
	}
	if !errors.Is(err, unix.ENOENT) {
		t.Errorf("error does not wrap ENOENT: %v", err)
	}
	if openError.Path != path {
		t.Errorf("Path = %q, want %q", openError.Path, path)
	}
}

func TestAcquireFlockFailure(t *testing.T) {
	originalFlock := flock
	originalClose := closeFd
	defer func() {
		flock = originalFlock
		closeFd = originalClose
	}()

	var closed []int
	flock = func(fd, how int) error { return unix.ENOLCK }
	closeFd = func(fd int) error {
		closed = append(closed, fd)
		return originalClose(fd)
	}

	manager := NewManager(nil)
	path := filepath.Join(t.TempDir(), "project.lock")
	_, err := manager.Acquire(path)
	if err == nil {
		t.Fatal("Acquire succeeded, want flock error")
	}

	var acquireError *AcquireError
	if !errors.As(err, &acquireError) {
		t.Fatalf("error %T, want *AcquireError", err)
	}
	if !errors.Is(err, unix.ENOLCK) {
		t.Errorf("error does not wrap ENOLCK: %v", err)
	}
	if acquireError.Path != path {
		t.Errorf("Path = %q, want %q", acquireError.Path, path)
	}
	if len(closed) != 1 {
		t.Errorf("descriptor closed %d times, want exactly once", len(closed))
	}
}

func TestExclusionBetweenHolders(t *testing.T) {
	manager := NewManager(nil)
	path := filepath.Join(t.TempDir(), "shared.lock")

	first, err := manager.Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := manager.Acquire(path)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		second.Release()
	}()

	// The second acquire must block while the first lock is held.
	select {
	case <-acquired:
		t.Fatal("second Acquire completed while lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second Acquire did not complete after release")
	}
}
