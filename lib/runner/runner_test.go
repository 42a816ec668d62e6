// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/runmill/runmill/lib/job"
	"github.com/runmill/runmill/lib/prompt"
	"github.com/runmill/runmill/lib/testutil"
)

func TestRunSuccess(t *testing.T) {
	var output bytes.Buffer
	status, exitCode, err := Run(context.Background(), Spec{
		Argv:   []string{"/bin/sh", "-c", "echo hello"},
		Stdout: &output,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != job.StatusSuccessful || exitCode != 0 {
		t.Errorf("Run = %s, %d", status, exitCode)
	}
	if !strings.Contains(output.String(), "hello") {
		t.Errorf("output = %q, want hello", output.String())
	}
}

func TestRunNonzeroExit(t *testing.T) {
	status, exitCode, err := Run(context.Background(), Spec{
		Argv: []string{"/bin/sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != job.StatusFailed || exitCode != 3 {
		t.Errorf("Run = %s, %d, want failed, 3", status, exitCode)
	}
}

func TestRunPreSpawnFailure(t *testing.T) {
	status, exitCode, err := Run(context.Background(), Spec{
		Argv: []string{"/nonexistent/automation-binary"},
	})
	if err == nil {
		t.Fatal("Run of nonexistent binary succeeded")
	}
	if status != job.StatusFailed {
		t.Errorf("status = %s, want failed", status)
	}
	if exitCode != -1 {
		t.Errorf("exitCode = %d, want -1", exitCode)
	}
}

func TestRunEmptyArgv(t *testing.T) {
	if _, _, err := Run(context.Background(), Spec{}); err == nil {
		t.Error("Run with empty argv succeeded")
	}
}

func TestRunAnswersPrompt(t *testing.T) {
	prompts := prompt.NewMap()
	prompts.Register("ssh_password", "sekrit")

	var output bytes.Buffer
	status, exitCode, err := Run(context.Background(), Spec{
		Argv: []string{"/bin/sh", "-c",
			`printf 'SSH password: '; read answer; [ "$answer" = sekrit ] && exit 0; exit 7`},
		Prompts: prompts,
		Stdout:  &output,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != job.StatusSuccessful {
		t.Errorf("Run = %s, %d; output %q", status, exitCode, output.String())
	}
	// Echo is disabled on the PTY; the answer must not appear in the
	// captured output.
	if strings.Contains(output.String(), "sekrit") {
		t.Errorf("prompt answer echoed into output: %q", output.String())
	}
}

func TestRunCanceled(t *testing.T) {
	start := time.Now()
	status, _, err := Run(context.Background(), Spec{
		Argv:         []string{"/bin/sh", "-c", "sleep 30"},
		Canceled:     func() bool { return true },
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != job.StatusCanceled {
		t.Errorf("Run = %s, want canceled", status)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan job.Status, 1)
	go func() {
		status, _, err := Run(ctx, Spec{
			Argv:         []string{"/bin/sh", "-c", "sleep 30"},
			PollInterval: 10 * time.Millisecond,
		})
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		results <- status
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	status := testutil.RequireReceive(t, results, 10*time.Second, "waiting for canceled run to finish")
	if status != job.StatusCanceled {
		t.Errorf("Run = %s, want canceled", status)
	}
}

func TestRunEnvAndDir(t *testing.T) {
	var output bytes.Buffer
	status, _, err := Run(context.Background(), Spec{
		Argv: []string{"/bin/sh", "-c", `printf '%s %s' "$MARKER" "$(pwd)"`},
		Dir:  "/tmp",
		Env: map[string]string{
			"MARKER": "from-spec",
			"PATH":   "/usr/bin:/bin",
		},
		Stdout: &output,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != job.StatusSuccessful {
		t.Fatalf("Run = %s", status)
	}
	if !strings.Contains(output.String(), "from-spec /tmp") {
		t.Errorf("output = %q", output.String())
	}
}

func TestFlattenEnvSorted(t *testing.T) {
	flattened := flattenEnv(map[string]string{"B": "2", "A": "1"})
	if len(flattened) != 2 || flattened[0] != "A=1" || flattened[1] != "B=2" {
		t.Errorf("flattenEnv = %v", flattened)
	}
}
