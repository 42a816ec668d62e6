// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runmill.yaml")
	content := `
journal_dir: /var/lib/runmill/journal
identity_path: /etc/runmill/identity.age
playbook_command: ansible-playbook-2.9
disable_sandbox: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := loadEngineConfig(path)
	if err != nil {
		t.Fatalf("loadEngineConfig: %v", err)
	}
	if config.JournalDir != "/var/lib/runmill/journal" {
		t.Errorf("JournalDir = %q", config.JournalDir)
	}
	if config.IdentityPath != "/etc/runmill/identity.age" {
		t.Errorf("IdentityPath = %q", config.IdentityPath)
	}
	if config.PlaybookCommand != "ansible-playbook-2.9" {
		t.Errorf("PlaybookCommand = %q", config.PlaybookCommand)
	}
	if !config.DisableSandbox {
		t.Error("DisableSandbox = false")
	}
	if config.ProfilesPath != "" {
		t.Errorf("ProfilesPath = %q, want empty", config.ProfilesPath)
	}
}

func TestLoadEngineConfigErrors(t *testing.T) {
	if _, err := loadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loading missing config succeeded")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("journal_dir: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadEngineConfig(path); err == nil {
		t.Error("loading malformed config succeeded")
	}
}
