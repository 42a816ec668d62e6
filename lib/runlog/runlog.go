// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package runlog is a file-backed job.Recorder: a per-run journal of
// status transitions plus a compressed transcript of the redacted
// output. The CLI and tests use it in place of the external
// persistence collaborator.
//
// The journal is a CBOR sequence, one record per Update, encoded with
// Core Deterministic Encoding so identical transitions always produce
// identical bytes. Redaction replacement pairs are applied at this
// boundary and never written: the journal records only how many there
// were.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/runmill/runmill/lib/clock"
	"github.com/runmill/runmill/lib/job"
	"github.com/runmill/runmill/lib/redact"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("runlog: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("runlog: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("runlog: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("runlog: zstd decoder initialization failed: " + err.Error())
	}
}

// Transition is one journal record. Every field is already redacted by
// the time it reaches the journal.
type Transition struct {
	Time             time.Time         `cbor:"time"`
	Status           job.Status        `cbor:"status,omitempty"`
	TaskID           string            `cbor:"task_id,omitempty"`
	ResultTraceback  string            `cbor:"result_traceback,omitempty"`
	JobArgs          []string          `cbor:"job_args,omitempty"`
	JobCwd           string            `cbor:"job_cwd,omitempty"`
	JobEnv           map[string]string `cbor:"job_env,omitempty"`
	ReplacementCount int               `cbor:"replacement_count,omitempty"`
	StdoutBytes      int               `cbor:"stdout_bytes,omitempty"`
}

// Journal stores run journals under a directory, one
// <id>.journal CBOR sequence and at most one <id>.stdout.zst
// transcript per run. Safe for concurrent use.
type Journal struct {
	dir    string
	clock  clock.Clock
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates (if needed) the journal directory and returns a Journal
// writing into it.
func Open(dir string, clk clock.Clock, logger *slog.Logger) (*Journal, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return &Journal{dir: dir, clock: clk, logger: logger}, nil
}

// Update implements job.Recorder. Replacement pairs are consumed here:
// they are applied to the traceback and stdout once more (defense in
// depth; the lifecycle already redacts) and then dropped.
func (j *Journal) Update(ctx context.Context, id int, params job.UpdateParams) error {
	record := Transition{
		Time:             j.clock.Now().UTC(),
		Status:           params.Status,
		TaskID:           params.TaskID,
		ResultTraceback:  redact.Apply(params.ResultTraceback, params.OutputReplacements),
		JobArgs:          params.JobArgs,
		JobCwd:           params.JobCwd,
		JobEnv:           params.JobEnv,
		ReplacementCount: len(params.OutputReplacements),
	}

	stdout := redact.Apply(params.ResultStdout, params.OutputReplacements)
	record.StdoutBytes = len(stdout)

	encoded, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding transition: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.journalPath(id), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal for run %d: %w", id, err)
	}
	defer file.Close()
	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("appending transition for run %d: %w", id, err)
	}

	if stdout != "" {
		compressed := zstdEncoder.EncodeAll([]byte(stdout), nil)
		if err := os.WriteFile(j.transcriptPath(id), compressed, 0o644); err != nil {
			return fmt.Errorf("writing transcript for run %d: %w", id, err)
		}
	}

	j.logger.Debug("recorded transition",
		"job_id", id,
		"status", params.Status,
		"stdout_bytes", record.StdoutBytes,
	)
	return nil
}

// Transitions reads back every recorded transition for a run, oldest
// first.
func (j *Journal) Transitions(id int) ([]Transition, error) {
	file, err := os.Open(j.journalPath(id))
	if err != nil {
		return nil, fmt.Errorf("opening journal for run %d: %w", id, err)
	}
	defer file.Close()

	decoder := decMode.NewDecoder(file)
	var transitions []Transition
	for {
		var record Transition
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return transitions, nil
			}
			return nil, fmt.Errorf("decoding journal for run %d: %w", id, err)
		}
		transitions = append(transitions, record)
	}
}

// Transcript returns the run's redacted output, or "" when the run
// produced none.
func (j *Journal) Transcript(id int) (string, error) {
	compressed, err := os.ReadFile(j.transcriptPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading transcript for run %d: %w", id, err)
	}
	decompressed, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", fmt.Errorf("decompressing transcript for run %d: %w", id, err)
	}
	return string(decompressed), nil
}

func (j *Journal) journalPath(id int) string {
	return filepath.Join(j.dir, strconv.Itoa(id)+".journal")
}

func (j *Journal) transcriptPath(id int) string {
	return filepath.Join(j.dir, strconv.Itoa(id)+".stdout.zst")
}

var _ job.Recorder = (*Journal)(nil)
