// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile defines the confinement configuration for a class of runs.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Filesystem  []Mount           `yaml:"filesystem,omitempty"`
	Namespaces  NamespaceConfig   `yaml:"namespaces,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Security    SecurityConfig    `yaml:"security,omitempty"`
	CreateDirs  []string          `yaml:"create_dirs,omitempty"`
}

// Mount defines one filesystem mount inside the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// Mount type constants for the Type field.
const (
	MountTypeBind    = ""         // default: bind mount
	MountTypeTmpfs   = "tmpfs"    // tmpfs mount
	MountTypeProc    = "proc"     // /proc
	MountTypeDev     = "dev"      // minimal /dev
	MountTypeDevBind = "dev-bind" // device node bind
)

// Mount mode constants for the Mode field.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// NamespaceConfig defines which namespaces to unshare.
type NamespaceConfig struct {
	PID    bool `yaml:"pid"`
	Net    bool `yaml:"net"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
}

// SecurityConfig defines process-level confinement settings.
type SecurityConfig struct {
	NewSession    bool `yaml:"new_session"`
	DieWithParent bool `yaml:"die_with_parent"`
}

// ProfilesConfig is the top-level shape of a profiles YAML file.
type ProfilesConfig struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// ParseProfilesConfig parses a profiles YAML document. Profile names
// from the map key are copied onto the profiles themselves.
func ParseProfilesConfig(data []byte) (*ProfilesConfig, error) {
	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing profiles config: %w", err)
	}
	for name, profile := range config.Profiles {
		profile.Name = name
	}
	return &config, nil
}

// LoadProfilesConfig reads and parses a profiles YAML file.
func LoadProfilesConfig(path string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles config %s: %w", path, err)
	}
	config, err := ParseProfilesConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Inherit:     p.Inherit,
		Namespaces:  p.Namespaces,
		Security:    p.Security,
	}
	if p.Filesystem != nil {
		clone.Filesystem = make([]Mount, len(p.Filesystem))
		copy(clone.Filesystem, p.Filesystem)
	}
	if p.CreateDirs != nil {
		clone.CreateDirs = make([]string, len(p.CreateDirs))
		copy(clone.CreateDirs, p.CreateDirs)
	}
	if p.Environment != nil {
		clone.Environment = make(map[string]string, len(p.Environment))
		for key, value := range p.Environment {
			clone.Environment[key] = value
		}
	}
	return clone
}

// MergeProfiles merges child settings into parent. Filesystem entries
// with matching dest paths are replaced; environment maps are merged;
// namespace and security blocks override wholesale when the child sets
// any field.
func MergeProfiles(parent, child *Profile) *Profile {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	if len(child.Filesystem) > 0 {
		byDest := make(map[string]int, len(result.Filesystem))
		for index, mount := range result.Filesystem {
			byDest[mount.Dest] = index
		}
		for _, mount := range child.Filesystem {
			if index, ok := byDest[mount.Dest]; ok {
				result.Filesystem[index] = mount
			} else {
				result.Filesystem = append(result.Filesystem, mount)
			}
		}
	}

	if child.Namespaces != (NamespaceConfig{}) {
		result.Namespaces = child.Namespaces
	}
	if child.Security != (SecurityConfig{}) {
		result.Security = child.Security
	}

	if len(child.Environment) > 0 {
		if result.Environment == nil {
			result.Environment = make(map[string]string)
		}
		for key, value := range child.Environment {
			result.Environment[key] = value
		}
	}

	if len(child.CreateDirs) > 0 {
		existing := make(map[string]bool, len(result.CreateDirs))
		for _, dir := range result.CreateDirs {
			existing[dir] = true
		}
		for _, dir := range child.CreateDirs {
			if !existing[dir] {
				result.CreateDirs = append(result.CreateDirs, dir)
			}
		}
	}

	return result
}

// Variables holds the values substituted for ${VAR} placeholders in a
// profile. Unknown variables are left untouched; profiles never read
// the process environment.
type Variables map[string]string

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand substitutes ${VAR} placeholders in s.
func (v Variables) Expand(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := v[name]; ok {
			return value
		}
		return match
	})
}

// ExpandProfile expands all placeholders in a profile, returning a new
// profile.
func (v Variables) ExpandProfile(p *Profile) *Profile {
	result := p.Clone()
	for index := range result.Filesystem {
		result.Filesystem[index].Source = v.Expand(result.Filesystem[index].Source)
		result.Filesystem[index].Dest = v.Expand(result.Filesystem[index].Dest)
	}
	for key, value := range result.Environment {
		result.Environment[key] = v.Expand(value)
	}
	for index := range result.CreateDirs {
		result.CreateDirs[index] = v.Expand(result.CreateDirs[index])
	}
	return result
}

// Validate checks that a profile is internally consistent.
func (p *Profile) Validate() error {
	var problems []string
	for index, mount := range p.Filesystem {
		if mount.Dest == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: dest is required", index))
		}
		if mount.Type == MountTypeBind && mount.Source == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: source is required for bind mounts", index))
		}
		if mount.Mode != "" && mount.Mode != MountModeRO && mount.Mode != MountModeRW {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: invalid mode %q (must be ro or rw)", index, mount.Mode))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(problems, "\n  "))
	}
	return nil
}
