// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"strings"
	"testing"
)

func resolveDefault(t *testing.T, name string) *Profile {
	t.Helper()
	loader := NewProfileLoader()
	if err := loader.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	profile, err := loader.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", name, err)
	}
	return profile
}

// statAll pretends every optional mount source exists, keeping the
// built argv independent of the host running the tests.
func statAll(string) (os.FileInfo, error) {
	return nil, nil
}

func TestWrapJobProfile(t *testing.T) {
	profile := resolveDefault(t, DefaultJobProfile)
	args, err := Wrap([]string{"ansible-playbook", "site.yml"}, WrapOptions{
		Profile:        profile,
		ProjectDir:     "/srv/projects/demo",
		PrivateDataDir: "/tmp/runmill_x",
		Env:            map[string]string{"JOB_ID": "1"},
		StatOverride:   statAll,
	})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	if args[0] != "bwrap" {
		t.Errorf("args[0] = %q, want bwrap", args[0])
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--die-with-parent",
		"--proc /proc",
		"--dev /dev",
		"--ro-bind /usr /usr",
		"--ro-bind /etc /etc",
		"--tmpfs /tmp",
		"--bind /srv/projects/demo /srv/projects/demo",
		"--bind /tmp/runmill_x /tmp/runmill_x",
		"--clearenv",
		"--setenv JOB_ID 1",
		"-- ansible-playbook site.yml",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv missing %q:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "--unshare-net") {
		t.Error("job profile unshares net; playbooks need the network")
	}
	if strings.Contains(joined, "--new-session") {
		t.Error("job profile requested --new-session; the run needs its controlling terminal for prompts")
	}
}

func TestWrapDeterministicEnvOrder(t *testing.T) {
	profile := resolveDefault(t, DefaultJobProfile)
	opts := WrapOptions{
		Profile:        profile,
		ProjectDir:     "/p",
		PrivateDataDir: "/d",
		Env:            map[string]string{"B": "2", "A": "1", "C": "3"},
		StatOverride:   statAll,
	}
	first, err := Wrap([]string{"true"}, opts)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	second, err := Wrap([]string{"true"}, opts)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if strings.Join(first, " ") != strings.Join(second, " ") {
		t.Error("Wrap output differs between identical calls")
	}
	joined := strings.Join(first, " ")
	if strings.Index(joined, "--setenv A 1") > strings.Index(joined, "--setenv B 2") {
		t.Error("setenv entries not sorted")
	}
}

func TestWrapOptionalMountSkipped(t *testing.T) {
	profile := &Profile{
		Name: "minimal",
		Filesystem: []Mount{
			{Source: "/definitely/missing", Dest: "/missing", Mode: MountModeRO, Optional: true},
			{Source: "/p", Dest: "/p", Mode: MountModeRW},
		},
	}
	args, err := Wrap([]string{"true"}, WrapOptions{
		Profile:    profile,
		ProjectDir: "/p",
		StatOverride: func(path string) (os.FileInfo, error) {
			if path == "/definitely/missing" {
				return nil, os.ErrNotExist
			}
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if strings.Contains(strings.Join(args, " "), "/definitely/missing") {
		t.Error("optional missing mount emitted")
	}
}

func TestWrapRequiresProfileAndCommand(t *testing.T) {
	if _, err := Wrap([]string{"true"}, WrapOptions{}); err == nil {
		t.Error("Wrap without profile succeeded")
	}
	if _, err := Wrap(nil, WrapOptions{Profile: &Profile{Name: "x"}}); err == nil {
		t.Error("Wrap without command succeeded")
	}
}

func TestProfileInheritance(t *testing.T) {
	config, err := ParseProfilesConfig([]byte(`
profiles:
  base:
    filesystem:
      - source: /usr
        dest: /usr
        mode: ro
    namespaces:
      pid: true
    environment:
      A: "1"
  child:
    inherit: base
    filesystem:
      - source: /usr
        dest: /usr
        mode: rw
      - source: /opt
        dest: /opt
        mode: ro
    environment:
      B: "2"
`))
	if err != nil {
		t.Fatalf("ParseProfilesConfig: %v", err)
	}
	loader := NewProfileLoader()
	loader.configs = append(loader.configs, config)

	child, err := loader.Resolve("child")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !child.Namespaces.PID {
		t.Error("inherited namespace lost")
	}
	if child.Environment["A"] != "1" || child.Environment["B"] != "2" {
		t.Errorf("merged environment = %v", child.Environment)
	}
	mounts := make(map[string]Mount)
	for _, mount := range child.Filesystem {
		mounts[mount.Dest] = mount
	}
	if mounts["/usr"].Mode != MountModeRW {
		t.Error("child mount did not replace parent mount at same dest")
	}
	if _, ok := mounts["/opt"]; !ok {
		t.Error("child-only mount missing")
	}
}

func TestProfileValidation(t *testing.T) {
	bad := &Profile{
		Name: "bad",
		Filesystem: []Mount{
			{Dest: ""},
			{Dest: "/x", Mode: "rwx", Source: "/x"},
		},
	}
	if err := bad.Validate(); err == nil {
		t.Error("invalid profile validated")
	}
}

func TestVariablesExpand(t *testing.T) {
	variables := Variables{"PROJECT": "/srv/p"}
	if got := variables.Expand("${PROJECT}/site.yml"); got != "/srv/p/site.yml" {
		t.Errorf("Expand = %q", got)
	}
	// Unknown placeholders stay literal rather than picking up
	// anything from the process environment.
	if got := variables.Expand("${HOME}/x"); got != "${HOME}/x" {
		t.Errorf("Expand(unknown) = %q", got)
	}
}
