// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("super-secret-value")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for index, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed: %v", index, source)
		}
	}
	if buffer.String() != "super-secret-value" {
		t.Errorf("buffer contents = %q, want %q", buffer.String(), "super-secret-value")
	}
	if buffer.Len() != len("super-secret-value") {
		t.Errorf("Len = %d, want %d", buffer.Len(), len("super-secret-value"))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("once"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAccessAfterClosePanics(t *testing.T) {
	buffer, err := NewFromBytes([]byte("gone"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded, want error", size)
		}
	}
}

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("  AGE-SECRET-KEY-1EXAMPLE\n"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte("AGE-SECRET-KEY-1EXAMPLE")) {
		t.Errorf("buffer = %q, want trimmed key", buffer.Bytes())
	}
}

func TestReadFromPathSkipsComments(t *testing.T) {
	// age-keygen writes a commented header above the key line.
	contents := "# created: 2026-08-24T10:00:00Z\n" +
		"# public key: age1example\n" +
		"AGE-SECRET-KEY-1EXAMPLE\n"
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte("AGE-SECRET-KEY-1EXAMPLE")) {
		t.Errorf("buffer = %q, want key line only", buffer.Bytes())
	}
}

func TestReadFromPathRejectsMultipleKeys(t *testing.T) {
	contents := "AGE-SECRET-KEY-1FIRST\n\nAGE-SECRET-KEY-1SECOND\n"
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := ReadFromPath(path); err == nil {
		t.Error("ReadFromPath on two key lines succeeded, want error")
	}
}

func TestReadFromPathEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := ReadFromPath(path); err == nil {
		t.Error("ReadFromPath on whitespace-only file succeeded, want error")
	}
}
