// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadFromPath reads an age identity from a file path, or from stdin if
// path is "-". The source follows the age-keygen file layout: blank
// lines and "#" comment lines are skipped, and exactly one key line
// must remain after trimming. The returned buffer is mmap-backed and
// must be closed by the caller.
//
// Used to load the engine's identity without the key ever living on the
// Go heap longer than the initial read.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	var key []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if key != nil {
			Zero(data)
			return nil, fmt.Errorf("identity contains more than one key line")
		}
		key = line
	}
	if key == nil {
		Zero(data)
		return nil, fmt.Errorf("identity is empty")
	}

	// key aliases data, so NewFromBytes zeroing key covers the key
	// bytes; Zero(data) covers everything around them.
	buffer, err := NewFromBytes(key)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
