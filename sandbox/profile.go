// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// ProfileLoader loads and resolves sandbox profiles. Profiles from
// later-loaded files shadow earlier ones of the same name.
type ProfileLoader struct {
	configs  []*ProfilesConfig
	resolved map[string]*Profile
	logger   *slog.Logger
}

// NewProfileLoader creates an empty loader.
func NewProfileLoader() *ProfileLoader {
	return &ProfileLoader{
		resolved: make(map[string]*Profile),
	}
}

// SetLogger enables verbose logging during loading and resolution.
func (l *ProfileLoader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

func (l *ProfileLoader) log(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Info(msg, args...)
	}
}

// LoadDefaults loads the built-in profiles.
func (l *ProfileLoader) LoadDefaults() error {
	config, err := ParseProfilesConfig([]byte(defaultProfilesYAML))
	if err != nil {
		return fmt.Errorf("parsing built-in profiles: %w", err)
	}
	l.configs = append(l.configs, config)
	l.log("loaded built-in profiles", "count", len(config.Profiles))
	return nil
}

// LoadFile loads profiles from a YAML file.
func (l *ProfileLoader) LoadFile(path string) error {
	config, err := LoadProfilesConfig(path)
	if err != nil {
		return err
	}
	l.configs = append(l.configs, config)
	l.log("loaded profiles", "path", path, "count", len(config.Profiles))
	return nil
}

// LoadDirectory loads every .yaml/.yml file from a directory. A
// missing directory is not an error.
func (l *ProfileLoader) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading profile directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := filepath.Ext(entry.Name())
		if extension != ".yaml" && extension != ".yml" {
			continue
		}
		if err := l.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the named profile with inheritance applied. Results
// are cached.
func (l *ProfileLoader) Resolve(name string) (*Profile, error) {
	if profile, ok := l.resolved[name]; ok {
		return profile, nil
	}

	var base *Profile
	for _, config := range l.configs {
		if profile, ok := config.Profiles[name]; ok {
			base = profile
		}
	}
	if base == nil {
		return nil, fmt.Errorf("profile not found: %s", name)
	}

	var profile *Profile
	if base.Inherit != "" {
		parent, err := l.Resolve(base.Inherit)
		if err != nil {
			return nil, fmt.Errorf("resolving parent profile %q: %w", base.Inherit, err)
		}
		profile = MergeProfiles(parent, base)
	} else {
		profile = base.Clone()
	}

	l.resolved[name] = profile
	l.log("profile resolved",
		"name", name,
		"mounts", len(profile.Filesystem),
		"env_vars", len(profile.Environment),
	)
	return profile, nil
}

// List returns every available profile name, sorted.
func (l *ProfileLoader) List() []string {
	names := make(map[string]bool)
	for _, config := range l.configs {
		for name := range config.Profiles {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// DefaultJobProfile is the profile applied to playbook runs unless
// configuration says otherwise.
const DefaultJobProfile = "job"

// defaultProfilesYAML contains the built-in profile definitions. The
// ${PROJECT} and ${PRIVATE_DATA} placeholders are filled per run; both
// are mounted at their host paths because the subprocess's recorded cwd
// and generated file paths must remain valid inside the sandbox.
const defaultProfilesYAML = `
profiles:
  job:
    description: "Playbook run: project and private data writable, host read-only"

    filesystem:
      - source: /usr
        dest: /usr
        mode: ro
      - source: /bin
        dest: /bin
        mode: ro
      - source: /lib
        dest: /lib
        mode: ro
      - source: /lib64
        dest: /lib64
        mode: ro
        optional: true
      - source: /etc
        dest: /etc
        mode: ro
      - type: tmpfs
        dest: /tmp
      - source: ${PROJECT}
        dest: ${PROJECT}
        mode: rw
      - source: ${PRIVATE_DATA}
        dest: ${PRIVATE_DATA}
        mode: rw

    namespaces:
      pid: true
      net: false
      ipc: true
      uts: true

    security:
      new_session: false
      die_with_parent: true

    create_dirs:
      - /var/tmp

  update:
    description: "Project or inventory update: network reachable"
    inherit: job
`
