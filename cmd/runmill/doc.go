// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// runmill executes automation runs: playbook jobs, project checkout
// updates, and inventory imports, each as a sandboxed credential-aware
// subprocess.
//
// Usage:
//
//	runmill run [flags] <definition.jsonc>
//	runmill keygen
//	runmill seal --recipient <age-public-key>
//	runmill profiles list
//	runmill profiles show <name>
//	runmill wrap [flags] -- <command> [args...]
//	runmill version
package main
