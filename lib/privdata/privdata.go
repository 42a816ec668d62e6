// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package privdata manages the per-run private data directory: an
// ephemeral filesystem scope holding generated secret files (key
// material, ini/yaml configs) and the ssh-agent control socket.
//
// Exactly one directory exists per run, owned exclusively by that run,
// and it is removed exactly once, unconditionally, on every exit path.
// Written secrets are tracked by blake3 digest so the run journal can
// record what was materialized without ever recording the contents.
package privdata

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// AgentSocketName is the ssh-agent control socket created inside the
// directory when a key is loaded.
const AgentSocketName = "ssh_auth.sock"

// Canonical names for generated key files, fixed by the contract with
// the ssh-agent wrapper.
const (
	// MachineKeyFile holds the primary (machine) identity key.
	MachineKeyFile = "credential"

	// SCMKeyFile holds the source-control identity key.
	SCMKeyFile = "scm_credential"
)

// Dir is one run's private data directory.
type Dir struct {
	path    string
	digests map[string]string
	closed  bool
	logger  *slog.Logger
}

// Open creates a fresh private data directory with owner-only
// permissions. The caller must Close it on every exit path.
func Open(logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := os.MkdirTemp("", "runmill_")
	if err != nil {
		return nil, fmt.Errorf("creating private data directory: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("restricting private data directory: %w", err)
	}
	return &Dir{
		path:    path,
		digests: make(map[string]string),
		logger:  logger,
	}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// AgentSocketPath returns the path the ssh-agent control socket will
// occupy inside the directory.
func (d *Dir) AgentSocketPath() string {
	return filepath.Join(d.path, AgentSocketName)
}

// WriteSecret writes data to a named file inside the directory with
// restrictive permissions (0600 unless mode says otherwise) and records
// its blake3 digest. Returns the file's absolute path.
func (d *Dir) WriteSecret(name string, data []byte, mode os.FileMode) (string, error) {
	if d.closed {
		return "", fmt.Errorf("private data directory already closed")
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid secret file name %q", name)
	}
	if mode == 0 {
		mode = 0o600
	}

	path := filepath.Join(d.path, name)
	if err := os.WriteFile(path, data, mode); err != nil {
		return "", fmt.Errorf("writing secret file %q: %w", name, err)
	}

	digest := blake3.Sum256(data)
	d.digests[name] = fmt.Sprintf("%x", digest)

	d.logger.Debug("materialized secret file",
		"name", name,
		"bytes", len(data),
		"digest", d.digests[name],
	)
	return path, nil
}

// Digests returns the blake3 digests of every secret file written so
// far, keyed by file name. Safe to persist: digests reveal nothing
// about the contents.
func (d *Dir) Digests() map[string]string {
	copied := make(map[string]string, len(d.digests))
	for name, digest := range d.digests {
		copied[name] = digest
	}
	return copied
}

// Close removes the directory and everything in it. Idempotent, and
// must run on every exit path; the lifecycle defers it immediately
// after Open.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("removing private data directory: %w", err)
	}
	return nil
}

// WrapWithSSHAgent prefixes argv with an ssh-agent invocation that
// loads the named key file from dir and deletes it before the real
// command starts, so the plaintext key outlives the agent handshake by
// nothing:
//
//	ssh-agent -a <dir>/ssh_auth.sock sh -c "ssh-add <key> && rm -f <key> && <argv>"
func WrapWithSSHAgent(argv []string, dir *Dir, keyFileName string) []string {
	keyPath := filepath.Join(dir.Path(), keyFileName)
	script := fmt.Sprintf("ssh-add %s && rm -f %s && %s",
		keyPath, keyPath, JoinShell(argv))
	return []string{"ssh-agent", "-a", dir.AgentSocketPath(), "sh", "-c", script}
}

// JoinShell joins argv into a single shell word sequence, quoting
// tokens that need it.
func JoinShell(argv []string) string {
	quoted := make([]string, len(argv))
	for index, token := range argv {
		quoted[index] = quoteShell(token)
	}
	return strings.Join(quoted, " ")
}

// quoteShell single-quotes a token when it contains shell metacharacters.
func quoteShell(token string) string {
	if token == "" {
		return "''"
	}
	if !strings.ContainsAny(token, " \t\n\"'`$&|;<>()*?[]#~!{}\\") {
		return token
	}
	return "'" + strings.ReplaceAll(token, "'", `'\''`) + "'"
}
