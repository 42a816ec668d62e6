// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt holds the ordered table matching interactive
// subprocess output to the secret that answers it. The injector builds
// the table while materializing credentials; the runner consults it
// while scanning the pseudo-terminal.
package prompt

import "regexp"

// Default prompt patterns for the password keys the built-in
// credential types register. Matching is against the tail of the
// accumulated output, first match wins.
var defaultPatterns = map[string]string{
	"ssh_password":    `SSH password:\s*$`,
	"become_password": `(?i)(BECOME|SUDO|SU) password.*:\s*$`,
	"vault_password":  `Vault password:\s*$`,
	"ssh_key_unlock":  `Enter passphrase for .*:\s*$`,
	"scm_username":    `Username for.*:\s*$`,
	"scm_password":    `Password for.*:\s*$`,
	"scm_key_unlock":  `Enter passphrase for .*:\s*$`,
}

// Entry pairs an output matcher with the key of the secret to supply.
type Entry struct {
	Pattern *regexp.Regexp
	Key     string
}

// Map is the ordered prompt table for one run. Not safe for concurrent
// use; a run owns its map exclusively.
type Map struct {
	entries  []Entry
	secrets  map[string]string
	answered map[string]bool
}

// NewMap returns an empty prompt map.
func NewMap() *Map {
	return &Map{
		secrets:  make(map[string]string),
		answered: make(map[string]bool),
	}
}

// Register adds a prompt key with its secret, using the default output
// pattern for that key. Unknown keys get no matcher and can only be
// read back with Secret (used for scm_username, which update jobs
// consume from the map rather than from a live prompt).
func (m *Map) Register(key, secretValue string) {
	m.secrets[key] = secretValue
	if pattern, ok := defaultPatterns[key]; ok {
		m.entries = append(m.entries, Entry{
			Pattern: regexp.MustCompile(pattern),
			Key:     key,
		})
	}
}

// RegisterPattern adds a prompt key with an explicit matcher.
func (m *Map) RegisterPattern(key, pattern, secretValue string) error {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	m.secrets[key] = secretValue
	m.entries = append(m.entries, Entry{Pattern: compiled, Key: key})
	return nil
}

// Match returns the key of the first unanswered entry whose pattern
// matches output, or "" if none match.
func (m *Map) Match(output string) string {
	for _, entry := range m.entries {
		if m.answered[entry.Key] {
			continue
		}
		if entry.Pattern.MatchString(output) {
			return entry.Key
		}
	}
	return ""
}

// Answer marks key answered and returns its secret. A key is never
// answered twice: the second call returns ok=false.
func (m *Map) Answer(key string) (string, bool) {
	if m.answered[key] {
		return "", false
	}
	m.answered[key] = true
	return m.secrets[key], true
}

// Secret returns the registered secret for key without consuming it.
func (m *Map) Secret(key string) (string, bool) {
	value, ok := m.secrets[key]
	return value, ok
}

// Keys returns the registered keys in no particular order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.secrets))
	for key := range m.secrets {
		keys = append(keys, key)
	}
	return keys
}

// Values returns every registered secret value; the lifecycle feeds
// these to the redactor.
func (m *Map) Values() []string {
	values := make([]string, 0, len(m.secrets))
	for _, value := range m.secrets {
		values = append(values, value)
	}
	return values
}
