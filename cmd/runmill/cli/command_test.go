// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "runmill",
		Subcommands: []*Command{
			{Name: "run", Run: func(args []string) error {
				ran = args
				return nil
			}},
		},
	}
	if err := root.Execute([]string{"run", "job.jsonc"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 1 || ran[0] != "job.jsonc" {
		t.Errorf("args = %v", ran)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "runmill",
		Subcommands: []*Command{
			{Name: "keygen", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"keygne"})
	if err == nil {
		t.Fatal("Execute of unknown command succeeded")
	}
	if !strings.Contains(err.Error(), `did you mean "keygen"`) {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var profile string
	command := &Command{
		Name: "wrap",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("wrap", pflag.ContinueOnError)
			flags.StringVar(&profile, "profile", "job", "sandbox profile")
			return flags
		},
		Run: func(args []string) error { return nil },
	}
	if err := command.Execute([]string{"--profile", "update"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if profile != "update" {
		t.Errorf("profile = %q", profile)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "wrap",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("wrap", pflag.ContinueOnError)
			flags.String("profile", "job", "sandbox profile")
			return flags
		},
		Run: func(args []string) error { return nil },
	}
	err := command.Execute([]string{"--porfile", "update"})
	if err == nil {
		t.Fatal("Execute with unknown flag succeeded")
	}
	if !strings.Contains(err.Error(), "--profile") {
		t.Errorf("error = %v", err)
	}
}

func TestSuggestCommandThreshold(t *testing.T) {
	commands := []*Command{{Name: "version"}}
	if got := suggestCommand("completely-different", commands); got != "" {
		t.Errorf("suggestCommand = %q, want none", got)
	}
	if got := suggestCommand("verison", commands); got != "version" {
		t.Errorf("suggestCommand = %q", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"run", "rnu", 2},
	}
	for _, testCase := range cases {
		if got := levenshtein(testCase.a, testCase.b); got != testCase.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", testCase.a, testCase.b, got, testCase.want)
		}
	}
}
