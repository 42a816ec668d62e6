// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// engineConfig is the optional YAML configuration for the run command.
// Command-line flags override file values.
type engineConfig struct {
	// JournalDir is where transitions and transcripts are recorded.
	JournalDir string `yaml:"journal_dir"`

	// IdentityPath is the age identity file for unsealing credential
	// fields.
	IdentityPath string `yaml:"identity_path"`

	// ProfilesPath is an extra sandbox profiles file.
	ProfilesPath string `yaml:"profiles_path"`

	// PlaybookCommand overrides the playbook executable.
	PlaybookCommand string `yaml:"playbook_command"`

	// InventoryImportCommand overrides the inventory importer.
	InventoryImportCommand string `yaml:"inventory_import_command"`

	// DisableSandbox skips the bubblewrap sandbox.
	DisableSandbox bool `yaml:"disable_sandbox"`
}

// loadEngineConfig reads and parses a YAML engine config file.
func loadEngineConfig(path string) (*engineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var config engineConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &config, nil
}
