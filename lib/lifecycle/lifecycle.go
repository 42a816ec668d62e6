// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle orchestrates one unit of work from handoff to
// terminal status: cancel check, resource locking, private data setup,
// credential injection, sandbox wrapping, subprocess execution,
// redaction, and persistence, with teardown guaranteed on every path.
//
// The lifecycle is the only component that talks to the persistence
// collaborator (through job.Recorder); everything below it reports
// errors upward instead of persisting state itself.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/runmill/runmill/lib/clock"
	"github.com/runmill/runmill/lib/injector"
	"github.com/runmill/runmill/lib/job"
	"github.com/runmill/runmill/lib/lockfile"
	"github.com/runmill/runmill/lib/privdata"
	"github.com/runmill/runmill/lib/redact"
	"github.com/runmill/runmill/lib/runner"
	"github.com/runmill/runmill/lib/secret"
	"github.com/runmill/runmill/sandbox"
)

// DefaultPlaybookCommand is the automation binary invoked for playbook
// runs and project updates.
const DefaultPlaybookCommand = "ansible-playbook"

// ProjectUpdatePlaybook is the bundled playbook that refreshes a
// checkout.
const ProjectUpdatePlaybook = "project_update.yml"

// Hooks are the lifecycle's extension points for the excluded
// collaborators (notifications, source-control bookkeeping). PostRun
// runs after the terminal status is persisted; FinalRun runs on every
// path, error or not.
type Hooks struct {
	PreRun   func(ctx context.Context) error
	PostRun  func(ctx context.Context, status job.Status) error
	FinalRun func(ctx context.Context, status job.Status)
}

// Engine executes units of work. One Engine serves many runs; all
// per-run state lives on the stack of the Run* call.
type Engine struct {
	// Recorder persists status transitions. Required.
	Recorder job.Recorder

	// Identity unseals sealed credential fields; nil when credentials
	// are stored plaintext.
	Identity *secret.Buffer

	// Locks serializes project updates against shared checkouts.
	// Required for RunProjectUpdate.
	Locks *lockfile.Manager

	// Profiles resolves sandbox profiles. Required unless
	// DisableSandbox is set.
	Profiles *sandbox.ProfileLoader

	// Clock drives the runner's cancellation poll; nil means the real
	// clock.
	Clock clock.Clock

	Logger *slog.Logger

	// Execute runs the prepared subprocess; nil means runner.Run.
	// Tests substitute a recording stub.
	Execute func(ctx context.Context, spec runner.Spec) (job.Status, int, error)

	// CancelCheck polls the live cancel flag of a run mid-execution.
	// Nil means only the flag snapshot at handoff is honored.
	CancelCheck func(ctx context.Context, id int) bool

	// DisableSandbox skips the bwrap prefix. For hosts without
	// bubblewrap; the default is confined.
	DisableSandbox bool

	// PlaybookCommand overrides DefaultPlaybookCommand.
	PlaybookCommand string

	// InventoryImportCommand is the importer invoked for inventory
	// updates; defaults to "inventory-import".
	InventoryImportCommand string

	// JobProfile and UpdateProfile name the sandbox profiles for
	// playbook runs and update runs. Empty means the built-in
	// defaults.
	JobProfile    string
	UpdateProfile string
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) playbookCommand() string {
	if e.PlaybookCommand != "" {
		return e.PlaybookCommand
	}
	return DefaultPlaybookCommand
}

// preparation is everything injection and argv assembly produce for one
// run, before sandbox wrapping.
type preparation struct {
	argv      []string
	cwd       string
	profile   string
	extraVars map[string]any
}

// prepareFunc builds the run-type-specific invocation. It runs after
// the private data directory exists and must leave all credential
// material in target and dir.
type prepareFunc func(inj *injector.Injector, target *injector.Target, dir *privdata.Dir) (*preparation, error)

// RunJob executes a playbook run to a terminal status. The returned
// error reports engine-side failures (persistence, spawn); a playbook
// failing on its own merits is a failed status with a nil error.
func (e *Engine) RunJob(ctx context.Context, run *job.Job, taskID string, hooks Hooks) (job.Status, error) {
	return e.execute(ctx, &run.Unified, taskID, hooks, func(inj *injector.Injector, target *injector.Target, dir *privdata.Dir) (*preparation, error) {
		if err := inj.Machine(target, run.MachineCredential); err != nil {
			return nil, err
		}
		if err := inj.Cloud(target, run.CloudCredential); err != nil {
			return nil, err
		}
		if err := inj.Network(target, run.NetworkCredential); err != nil {
			return nil, err
		}
		return &preparation{
			argv:      []string{e.playbookCommand()},
			cwd:       run.ProjectPath,
			profile:   e.jobProfile(),
			extraVars: run.ExtraVars,
		}, nil
	}, func(prep *preparation, target *injector.Target) []string {
		return append([]string{}, run.Playbook)
	})
}

// RunProjectUpdate refreshes a source-control checkout. Updates of the
// same project serialize on an advisory lock next to the checkout; the
// lock is held for the whole run.
func (e *Engine) RunProjectUpdate(ctx context.Context, update *job.ProjectUpdate, taskID string, hooks Hooks) (job.Status, error) {
	if e.Locks == nil {
		return job.StatusError, fmt.Errorf("project updates require a lock manager")
	}
	lock, err := e.Locks.Acquire(update.LockPath())
	if err != nil {
		e.logger().Error("acquiring project lock", "path", update.LockPath(), "error", err)
		if updateErr := e.Recorder.Update(ctx, update.ID, job.UpdateParams{
			Status:          job.StatusError,
			ResultTraceback: err.Error(),
		}); updateErr != nil {
			e.logger().Error("persisting lock failure", "error", updateErr)
		}
		return job.StatusError, err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			e.logger().Error("releasing project lock", "path", update.LockPath(), "error", releaseErr)
		}
	}()

	return e.execute(ctx, &update.Unified, taskID, hooks, func(inj *injector.Injector, target *injector.Target, dir *privdata.Dir) (*preparation, error) {
		if err := inj.SCM(target, update.Credential); err != nil {
			return nil, err
		}
		extraVars := map[string]any{
			"project_path": update.ProjectPath,
			"scm_type":     update.SCMType,
			"scm_url":      update.SCMURL,
		}
		for key, value := range update.ExtraVars {
			extraVars[key] = value
		}
		if username, ok := target.Prompts.Secret("scm_username"); ok {
			extraVars["scm_username"] = username
		}
		return &preparation{
			argv:      []string{e.playbookCommand()},
			cwd:       filepath.Dir(update.ProjectPath),
			profile:   e.updateProfile(),
			extraVars: extraVars,
		}, nil
	}, func(prep *preparation, target *injector.Target) []string {
		return []string{ProjectUpdatePlaybook}
	})
}

// RunInventoryUpdate imports hosts from an external source.
func (e *Engine) RunInventoryUpdate(ctx context.Context, update *job.InventoryUpdate, taskID string, hooks Hooks) (job.Status, error) {
	return e.execute(ctx, &update.Unified, taskID, hooks, func(inj *injector.Injector, target *injector.Target, dir *privdata.Dir) (*preparation, error) {
		if err := inj.Source(target, update.Credential, update.Source, update.SourceVars); err != nil {
			return nil, err
		}
		target.Env[injector.EnvInventoryID] = strconv.Itoa(update.InventoryID)
		target.Env[injector.EnvInventorySourceID] = strconv.Itoa(update.InventorySourceID)

		command := e.InventoryImportCommand
		if command == "" {
			command = "inventory-import"
		}
		return &preparation{
			argv: []string{command,
				"--inventory-id", strconv.Itoa(update.InventoryID),
				"--inventory-source-id", strconv.Itoa(update.InventorySourceID),
				"--source", update.Source,
			},
			cwd:       dir.Path(),
			profile:   e.updateProfile(),
			extraVars: update.ExtraVars,
		}, nil
	}, nil)
}

func (e *Engine) jobProfile() string {
	if e.JobProfile != "" {
		return e.JobProfile
	}
	return sandbox.DefaultJobProfile
}

func (e *Engine) updateProfile() string {
	if e.UpdateProfile != "" {
		return e.UpdateProfile
	}
	return "update"
}

// execute is the shared lifecycle skeleton. trailing builds the argv
// entries appended after flags and extra vars (the playbook name); nil
// means none.
func (e *Engine) execute(
	ctx context.Context,
	unified *job.Unified,
	taskID string,
	hooks Hooks,
	prepare prepareFunc,
	trailing func(prep *preparation, target *injector.Target) []string,
) (status job.Status, err error) {
	logger := e.logger().With("job_id", unified.ID, "job_name", unified.Name)
	redactor := redact.NewRedactor()

	defer func() {
		if hooks.FinalRun != nil {
			hooks.FinalRun(ctx, status)
		}
	}()

	// The run occupies a worker from this moment; the canceled
	// contract requires the running transition even when the cancel
	// flag short-circuits everything after it.
	if updateErr := e.Recorder.Update(ctx, unified.ID, job.UpdateParams{
		Status: job.StatusRunning,
		TaskID: taskID,
	}); updateErr != nil {
		return job.StatusError, fmt.Errorf("persisting running transition: %w", updateErr)
	}

	if unified.CancelFlag {
		logger.Info("canceled before execution started")
		if updateErr := e.Recorder.Update(ctx, unified.ID, job.UpdateParams{
			Status:             job.StatusCanceled,
			OutputReplacements: []redact.Replacement{},
			ResultTraceback:    "canceled before execution started",
		}); updateErr != nil {
			return job.StatusError, fmt.Errorf("persisting canceled transition: %w", updateErr)
		}
		return job.StatusCanceled, nil
	}

	if hooks.PreRun != nil {
		if hookErr := hooks.PreRun(ctx); hookErr != nil {
			return e.fail(ctx, unified, redactor, fmt.Errorf("pre-run hook: %w", hookErr))
		}
	}

	dir, err := privdata.Open(logger)
	if err != nil {
		return e.fail(ctx, unified, redactor, err)
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			logger.Error("removing private data directory", "error", closeErr)
		}
	}()

	target := injector.NewTarget()
	inj := injector.New(e.Identity, redactor, dir, logger)

	prep, err := prepare(inj, target, dir)
	if err != nil {
		return e.fail(ctx, unified, redactor, err)
	}

	argv := append([]string{}, prep.argv...)
	argv = append(argv, target.Args...)

	extraVars := mergeExtraVars(prep.extraVars, target.ExtraVars)
	if len(extraVars) > 0 {
		encoded, marshalErr := json.Marshal(extraVars)
		if marshalErr != nil {
			return e.fail(ctx, unified, redactor, fmt.Errorf("encoding extra vars: %w", marshalErr))
		}
		argv = append(argv, "-e", string(encoded))
	}
	if trailing != nil {
		argv = append(argv, trailing(prep, target)...)
	}

	if target.SSHKeyFile != "" {
		argv = privdata.WrapWithSSHAgent(argv, dir, target.SSHKeyFile)
	}

	env := e.buildEnv(unified, target, dir)

	if !e.DisableSandbox {
		if e.Profiles == nil {
			return e.fail(ctx, unified, redactor, fmt.Errorf("sandboxing enabled but no profile loader configured"))
		}
		profile, resolveErr := e.Profiles.Resolve(prep.profile)
		if resolveErr != nil {
			return e.fail(ctx, unified, redactor, resolveErr)
		}
		argv, err = sandbox.Wrap(argv, sandbox.WrapOptions{
			Profile:        profile,
			ProjectDir:     prep.cwd,
			PrivateDataDir: dir.Path(),
			Env:            env,
		})
		if err != nil {
			return e.fail(ctx, unified, redactor, err)
		}
	}

	// Record how the subprocess is invoked, redacted. The live argv
	// and env are never persisted.
	if updateErr := e.Recorder.Update(ctx, unified.ID, job.UpdateParams{
		JobArgs: redactArgs(argv, redactor),
		JobCwd:  prep.cwd,
		JobEnv:  redactor.RedactEnv(env),
	}); updateErr != nil {
		return job.StatusError, fmt.Errorf("persisting invocation record: %w", updateErr)
	}

	execute := e.Execute
	if execute == nil {
		execute = runner.Run
	}
	var canceled func() bool
	if e.CancelCheck != nil {
		canceled = func() bool { return e.CancelCheck(ctx, unified.ID) }
	}

	var output bytes.Buffer
	status, exitCode, runErr := execute(ctx, runner.Spec{
		Argv:     argv,
		Dir:      prep.cwd,
		Env:      env,
		Prompts:  target.Prompts,
		Stdout:   &output,
		Canceled: canceled,
		Clock:    e.Clock,
		Logger:   logger,
	})
	logger.Info("subprocess finished", "status", status, "exit_code", exitCode)

	traceback := ""
	if runErr != nil {
		traceback = redactor.Redact(runErr.Error())
	}
	if updateErr := e.Recorder.Update(ctx, unified.ID, job.UpdateParams{
		Status:             status,
		OutputReplacements: redactor.Replacements(),
		ResultStdout:       redactor.Redact(output.String()),
		ResultTraceback:    traceback,
	}); updateErr != nil {
		return job.StatusError, fmt.Errorf("persisting terminal transition: %w", updateErr)
	}

	if hooks.PostRun != nil {
		if hookErr := hooks.PostRun(ctx, status); hookErr != nil {
			logger.Error("post-run hook", "error", hookErr)
		}
	}
	return status, runErr
}

// fail persists an error terminal status with the redacted failure
// text. Used for everything that goes wrong before the subprocess
// produced a result of its own.
func (e *Engine) fail(ctx context.Context, unified *job.Unified, redactor *redact.Redactor, cause error) (job.Status, error) {
	e.logger().Error("run failed before execution", "job_id", unified.ID, "error", cause)
	if updateErr := e.Recorder.Update(ctx, unified.ID, job.UpdateParams{
		Status:             job.StatusError,
		OutputReplacements: redactor.Replacements(),
		ResultTraceback:    redactor.Redact(cause.Error()),
	}); updateErr != nil {
		e.logger().Error("persisting error transition", "job_id", unified.ID, "error", updateErr)
	}
	return job.StatusError, cause
}

// buildEnv assembles the complete subprocess environment: a minimal
// base, injected variables, then the reserved names, which always win.
func (e *Engine) buildEnv(unified *job.Unified, target *injector.Target, dir *privdata.Dir) map[string]string {
	env := map[string]string{
		"PATH":             "/usr/local/bin:/usr/bin:/bin",
		"HOME":             dir.Path(),
		"PYTHONUNBUFFERED": "1",
	}
	for key, value := range target.Env {
		env[key] = value
	}
	env[injector.EnvJobID] = strconv.Itoa(unified.ID)
	return env
}

// redactArgs returns a persistence-safe copy of argv.
func redactArgs(argv []string, redactor *redact.Redactor) []string {
	safe := make([]string, len(argv))
	for index, arg := range argv {
		safe[index] = redactor.Redact(arg)
	}
	return safe
}

func mergeExtraVars(base, injected map[string]any) map[string]any {
	if len(base) == 0 && len(injected) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(injected))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range injected {
		merged[key] = value
	}
	return merged
}
