// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package job defines the units of work the execution engine runs on
// behalf of the external scheduling layer, and the narrow contract
// through which status transitions are persisted.
//
// The records here are read-mostly snapshots handed to the engine by
// the scheduler. The engine mutates them only through Recorder.Update;
// it never writes to the scheduler's store directly.
package job

import (
	"context"

	"github.com/runmill/runmill/lib/credential"
	"github.com/runmill/runmill/lib/redact"
)

// Status is the lifecycle state of a unit of work.
type Status string

const (
	StatusNew        Status = "new"
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends the run. A terminal record
// is never transitioned again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCanceled, StatusError:
		return true
	}
	return false
}

// Unified holds the fields shared by every unit of work.
type Unified struct {
	// ID identifies the run. It is surfaced to the subprocess as the
	// reserved JOB_ID environment variable.
	ID int

	// Name is a human-readable label; used only for logging.
	Name string

	// Status is the record's state as handed over by the scheduler.
	Status Status

	// CancelFlag is set by the scheduler to request cancellation. The
	// engine polls it before and during execution.
	CancelFlag bool

	// ExtraVars is arbitrary structured data passed to the automation
	// process as a -e argument.
	ExtraVars map[string]any
}

// Job is a playbook run.
type Job struct {
	Unified

	// Playbook is the playbook file, relative to ProjectPath.
	Playbook string

	// ProjectPath is the checked-out project the playbook runs from.
	ProjectPath string

	// MachineCredential is the primary (ssh) identity, if any.
	MachineCredential *credential.Credential

	// CloudCredential supplies cloud provider material, if any.
	CloudCredential *credential.Credential

	// NetworkCredential supplies network device material, if any.
	NetworkCredential *credential.Credential
}

// ProjectUpdate refreshes a source-control checkout. Concurrent updates
// of the same project serialize on an advisory lock next to the
// checkout.
type ProjectUpdate struct {
	Unified

	// SCMType is the source-control system: git, hg, or svn.
	SCMType string

	// SCMURL is the remote to update from.
	SCMURL string

	// ProjectPath is the local checkout directory.
	ProjectPath string

	// Credential is the source-control credential, if any.
	Credential *credential.Credential
}

// LockPath returns the advisory lock file serializing updates of this
// project's checkout.
func (u *ProjectUpdate) LockPath() string {
	return u.ProjectPath + ".lock"
}

// InventoryUpdate imports hosts from an external source.
type InventoryUpdate struct {
	Unified

	// Source names the inventory plugin: ec2, vmware, azure, gce,
	// openstack, satellite6, cloudforms.
	Source string

	// SourceVars tunes source behavior (e.g. the openstack "private"
	// override).
	SourceVars map[string]any

	// Credential supplies the source's credential material, if any.
	Credential *credential.Credential

	// InventoryID and InventorySourceID identify the inventory being
	// refreshed; exposed to the subprocess as reserved env variables.
	InventoryID       int
	InventorySourceID int
}

// UpdateParams carries the named fields of one status-update call.
// Zero-valued fields mean "no change", except OutputReplacements where
// a non-nil (possibly empty) slice is an explicit set; the canceled
// transition persists an empty replacement list by contract.
type UpdateParams struct {
	// Status transitions the record when non-empty.
	Status Status

	// TaskID is the dispatcher's token for the worker occupying the
	// run; recorded when entering running.
	TaskID string

	// OutputReplacements are the redaction substitutions the store
	// must apply to any output it persists for this run. The pairs
	// themselves are consumed at the boundary and never stored.
	OutputReplacements []redact.Replacement

	// ResultTraceback is the (already redacted) failure or
	// cancellation text.
	ResultTraceback string

	// ResultStdout is the (already redacted) captured output.
	ResultStdout string

	// JobArgs, JobCwd, and JobEnv record how the subprocess was
	// invoked. JobEnv must be the redacted safe env, never the live
	// environment.
	JobArgs []string
	JobCwd  string
	JobEnv  map[string]string
}

// Recorder persists status transitions. Implemented by the external
// persistence collaborator; lib/runlog provides a file-backed
// reference implementation for the CLI and tests.
type Recorder interface {
	Update(ctx context.Context, id int, params UpdateParams) error
}
