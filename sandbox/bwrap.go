// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// WrapOptions holds the per-run inputs for building a bwrap command.
type WrapOptions struct {
	// Profile is the resolved profile, before placeholder expansion.
	Profile *Profile

	// ProjectDir is the checkout the run executes from; substituted
	// for ${PROJECT} and mounted writable at its host path.
	ProjectDir string

	// PrivateDataDir is the run's private data directory; substituted
	// for ${PRIVATE_DATA}.
	PrivateDataDir string

	// Env is the subprocess environment, set inside the sandbox after
	// --clearenv. Nothing from the engine's own environment leaks in.
	Env map[string]string

	// StatOverride replaces os.Stat for optional-mount existence
	// checks; tests use it to keep Wrap deterministic. Nil means the
	// real filesystem.
	StatOverride func(string) (os.FileInfo, error)
}

// Wrap builds the full bwrap argv for running command under the
// profile. The returned slice starts with "bwrap"; the caller execs it
// as-is. Wrap touches nothing but its arguments (and os.Stat for
// optional mounts), so the confinement of any run can be computed and
// inspected without side effects.
func Wrap(command []string, opts WrapOptions) ([]string, error) {
	if opts.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	variables := Variables{
		"PROJECT":      opts.ProjectDir,
		"PRIVATE_DATA": opts.PrivateDataDir,
	}
	profile := variables.ExpandProfile(opts.Profile)
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	stat := opts.StatOverride
	if stat == nil {
		stat = os.Stat
	}

	args := []string{"bwrap"}
	args = appendNamespaces(args, profile.Namespaces)
	args = appendSecurity(args, profile.Security)

	// /proc and /dev are always private; the host's are never exposed.
	args = append(args, "--proc", "/proc", "--dev", "/dev")

	for _, mount := range profile.Filesystem {
		switch mount.Type {
		case MountTypeTmpfs:
			args = append(args, "--tmpfs", mount.Dest)
		case MountTypeProc:
			args = append(args, "--proc", mount.Dest)
		case MountTypeDev:
			args = append(args, "--dev", mount.Dest)
		case MountTypeDevBind:
			if mount.Optional && !exists(stat, mount.Source) {
				continue
			}
			args = append(args, "--dev-bind", mount.Source, mount.Dest)
		default:
			if mount.Optional && !exists(stat, mount.Source) {
				continue
			}
			if mount.Mode == MountModeRO {
				args = append(args, "--ro-bind", mount.Source, mount.Dest)
			} else {
				args = append(args, "--bind", mount.Source, mount.Dest)
			}
		}
	}

	for _, dir := range profile.CreateDirs {
		args = append(args, "--dir", dir)
	}

	// The sandbox environment is exactly profile env plus run env,
	// nothing inherited.
	args = append(args, "--clearenv")
	env := make(map[string]string, len(profile.Environment)+len(opts.Env))
	for key, value := range profile.Environment {
		env[key] = value
	}
	for key, value := range opts.Env {
		env[key] = value
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "--setenv", name, env[name])
	}

	args = append(args, "--")
	args = append(args, command...)
	return args, nil
}

func appendNamespaces(args []string, ns NamespaceConfig) []string {
	if ns.PID {
		args = append(args, "--unshare-pid")
	}
	if ns.Net {
		args = append(args, "--unshare-net")
	}
	if ns.IPC {
		args = append(args, "--unshare-ipc")
	}
	if ns.UTS {
		args = append(args, "--unshare-uts")
	}
	if ns.Cgroup {
		args = append(args, "--unshare-cgroup")
	}
	if ns.User {
		args = append(args, "--unshare-user")
	}
	return args
}

func appendSecurity(args []string, sec SecurityConfig) []string {
	if sec.NewSession {
		args = append(args, "--new-session")
	}
	if sec.DieWithParent {
		args = append(args, "--die-with-parent")
	}
	return args
}

func exists(stat func(string) (os.FileInfo, error), path string) bool {
	_, err := stat(path)
	return err == nil
}
