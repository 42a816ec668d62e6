// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox confines automation subprocesses with bubblewrap.
//
// A Profile declares what the subprocess may see: which host paths are
// bound in (read-only or writable), which namespaces are unshared, and
// which environment variables survive. Profiles are declared in YAML,
// support single inheritance, and are resolved by ProfileLoader.
//
// Wrap turns a resolved profile plus a command into the bwrap argv.
// It is a pure function over its inputs: it never consults global
// state, so the exact confinement of a run can be tested (and audited)
// without executing anything.
package sandbox
