// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes one automation subprocess attached to a
// pseudo-terminal, answers its interactive credential prompts, and maps
// its exit into a run status.
//
// The PTY is not an optional nicety: ssh and the vault tooling read
// passwords from the controlling terminal, never from stdin. The runner
// owns the master side, scans output for the run's registered prompts,
// and writes each answer exactly once.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/runmill/runmill/lib/clock"
	"github.com/runmill/runmill/lib/job"
	"github.com/runmill/runmill/lib/prompt"
)

// promptWindow is how many trailing output bytes are kept for prompt
// matching. Prompts are short; a window this size cannot split one.
const promptWindow = 2048

// DefaultPollInterval is how often the cancel flag is checked while the
// subprocess runs.
const DefaultPollInterval = time.Second

// Spec describes one subprocess execution.
type Spec struct {
	// Argv is the full command, argv[0] included. Typically already
	// sandbox-wrapped.
	Argv []string

	// Dir is the working directory.
	Dir string

	// Env is the complete subprocess environment. The runner passes
	// exactly this; nothing is inherited.
	Env map[string]string

	// Prompts answers interactive credential prompts. May be nil.
	Prompts *prompt.Map

	// Stdout receives all subprocess output (the PTY stream). May be
	// nil.
	Stdout io.Writer

	// Canceled is polled while the subprocess runs; returning true
	// kills the process group and ends the run as canceled. May be
	// nil.
	Canceled func() bool

	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration

	// Clock drives the cancellation poll; nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Run executes the subprocess and blocks until it exits. The returned
// status is successful for exit 0, failed for any other exit, and
// canceled when the cancel poll (or ctx) killed the run. A failure to
// spawn at all returns failed with the error and exit code -1.
func Run(ctx context.Context, spec Spec) (job.Status, int, error) {
	if len(spec.Argv) == 0 {
		return job.StatusFailed, -1, fmt.Errorf("empty argv")
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := spec.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pollInterval := spec.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	master, slavePath, err := openPTY()
	if err != nil {
		return job.StatusFailed, -1, err
	}
	defer master.Close()

	// Disable echo so answered prompts do not come back through the
	// output stream.
	if err := disableEcho(int(master.Fd())); err != nil {
		return job.StatusFailed, -1, err
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
	if err != nil {
		return job.StatusFailed, -1, fmt.Errorf("open PTY slave %s: %w", slavePath, err)
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = flattenEnv(spec.Env)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 in child = slave PTY
	}

	if err := cmd.Start(); err != nil {
		slave.Close()
		return job.StatusFailed, -1, fmt.Errorf("starting %s: %w", spec.Argv[0], err)
	}
	// The child holds its own copies via fd 0/1/2.
	slave.Close()

	logger.Debug("subprocess started", "pid", cmd.Process.Pid, "argv0", spec.Argv[0])

	var canceled atomic.Bool
	killGroup := func() {
		canceled.Store(true)
		// Setsid made the child its own process group leader; the
		// negative pid reaches everything it spawned.
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	// Cancellation watcher.
	watchDone := make(chan struct{})
	var watchWait sync.WaitGroup
	watchWait.Add(1)
	go func() {
		defer watchWait.Done()
		ticker := clk.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchDone:
				return
			case <-ctx.Done():
				logger.Info("context canceled, killing subprocess", "pid", cmd.Process.Pid)
				killGroup()
				return
			case <-ticker.C:
				if spec.Canceled != nil && spec.Canceled() {
					logger.Info("cancel flag set, killing subprocess", "pid", cmd.Process.Pid)
					killGroup()
					return
				}
			}
		}
	}()

	// Output pump: PTY master to Stdout, with prompt matching over the
	// trailing window.
	var pumpWait sync.WaitGroup
	pumpWait.Add(1)
	go func() {
		defer pumpWait.Done()
		tail := ""
		buffer := make([]byte, 4096)
		for {
			bytesRead, readErr := master.Read(buffer)
			if bytesRead > 0 {
				chunk := buffer[:bytesRead]
				if _, writeErr := stdout.Write(chunk); writeErr != nil {
					logger.Warn("dropping subprocess output", "error", writeErr)
				}
				if spec.Prompts != nil {
					tail += string(chunk)
					if len(tail) > promptWindow {
						tail = tail[len(tail)-promptWindow:]
					}
					if key := spec.Prompts.Match(tail); key != "" {
						if secret, ok := spec.Prompts.Answer(key); ok {
							logger.Debug("answering prompt", "key", key)
							if _, writeErr := master.Write([]byte(secret + "\n")); writeErr != nil {
								return
							}
							tail = ""
						}
					}
				}
			}
			if readErr != nil {
				// EIO is the normal end: the slave side closed when
				// the subprocess exited.
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	close(watchDone)
	watchWait.Wait()
	// Unblock the pump if it is mid-read, then let it flush.
	master.Close()
	pumpWait.Wait()

	exitCode := cmd.ProcessState.ExitCode()
	switch {
	case canceled.Load():
		logger.Info("subprocess canceled", "pid", cmd.Process.Pid)
		return job.StatusCanceled, exitCode, nil
	case exitCode == 0:
		return job.StatusSuccessful, 0, nil
	default:
		// A nonzero exit is the subprocess reporting failure, not an
		// engine error.
		logger.Info("subprocess failed", "pid", cmd.Process.Pid, "exit", exitCode, "wait_error", waitErr)
		return job.StatusFailed, exitCode, nil
	}
}

// openPTY allocates a PTY master/slave pair using the Linux devpts
// interface. Returns the master and the filesystem path to the slave.
func openPTY() (master *os.File, slavePath string, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open /dev/ptmx: %w", err)
	}

	fd := int(master.Fd())

	ptyNumber, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, "", fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, "", fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
	}

	slavePath = fmt.Sprintf("/dev/pts/%d", ptyNumber)
	return master, slavePath, nil
}

// disableEcho clears the ECHO flag on the terminal so written prompt
// answers are not reflected into the output stream.
func disableEcho(fd int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get terminal attributes: %w", err)
	}
	termios.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set terminal attributes: %w", err)
	}
	return nil
}

// flattenEnv converts an environment map to the sorted KEY=value form
// exec.Cmd takes.
func flattenEnv(env map[string]string) []string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	flattened := make([]string, 0, len(names))
	for _, name := range names {
		flattened = append(flattened, name+"="+env[name])
	}
	return flattened
}
