// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/runmill/runmill/cmd/runmill/cli"
	"github.com/runmill/runmill/lib/job"
	"github.com/runmill/runmill/lib/jobfile"
	"github.com/runmill/runmill/lib/lifecycle"
	"github.com/runmill/runmill/lib/lockfile"
	"github.com/runmill/runmill/lib/process"
	"github.com/runmill/runmill/lib/runlog"
	"github.com/runmill/runmill/lib/sealed"
	"github.com/runmill/runmill/lib/secret"
	"github.com/runmill/runmill/lib/version"
	"github.com/runmill/runmill/sandbox"
)

func main() {
	root := &cli.Command{
		Name:    "runmill",
		Summary: "Execute automation runs as sandboxed credential-aware subprocesses",
		Subcommands: []*cli.Command{
			runCommand(),
			keygenCommand(),
			sealCommand(),
			profilesCommand(),
			wrapCommand(),
			versionCommand(),
		},
	}
	if err := root.Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// loadProfiles builds a profile loader from the built-in defaults plus
// an optional user profiles file.
func loadProfiles(path string, logger *slog.Logger) (*sandbox.ProfileLoader, error) {
	loader := sandbox.NewProfileLoader()
	if logger != nil {
		loader.SetLogger(logger)
	}
	if err := loader.LoadDefaults(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := loader.LoadFile(path); err != nil {
			return nil, fmt.Errorf("loading profiles from %s: %w", path, err)
		}
	}
	return loader, nil
}

func runCommand() *cli.Command {
	var (
		configPath       string
		journalDir       string
		identityPath     string
		profilesPath     string
		taskID           string
		playbookCommand  string
		inventoryCommand string
		noSandbox        bool
		showOutput       bool
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Execute a run definition to a terminal status",
		Usage:   "runmill run [flags] <definition.jsonc>",
		Description: `Execute one run definition: a playbook job, a project checkout
update, or an inventory import. Status transitions and the redacted
output transcript are recorded in the journal directory.`,
		Examples: []cli.Example{
			{Description: "Run a playbook job", Command: "runmill run deploy.jsonc"},
			{Description: "Run without bubblewrap (containers, CI)", Command: "runmill run --no-sandbox deploy.jsonc"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "engine config file (YAML); flags override its values")
			flags.StringVar(&journalDir, "journal", "", "journal directory for transitions and transcripts (default \"runlog\")")
			flags.StringVar(&identityPath, "identity", "", "age identity file for unsealing credential fields")
			flags.StringVar(&profilesPath, "profiles", "", "extra sandbox profiles file (YAML)")
			flags.StringVar(&taskID, "task-id", "", "dispatcher task token recorded with the running transition")
			flags.StringVar(&playbookCommand, "playbook-command", "", "override the playbook executable")
			flags.StringVar(&inventoryCommand, "inventory-import-command", "", "override the inventory importer executable")
			flags.BoolVar(&noSandbox, "no-sandbox", false, "skip the bubblewrap sandbox")
			flags.BoolVar(&showOutput, "show-output", false, "print the redacted transcript when the run ends")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one run definition file is required")
			}
			logger := cli.NewCommandLogger()

			config := &engineConfig{}
			if configPath != "" {
				loaded, err := loadEngineConfig(configPath)
				if err != nil {
					return err
				}
				config = loaded
			}
			if journalDir == "" {
				journalDir = config.JournalDir
			}
			if journalDir == "" {
				journalDir = "runlog"
			}
			if identityPath == "" {
				identityPath = config.IdentityPath
			}
			if profilesPath == "" {
				profilesPath = config.ProfilesPath
			}
			if playbookCommand == "" {
				playbookCommand = config.PlaybookCommand
			}
			if inventoryCommand == "" {
				inventoryCommand = config.InventoryImportCommand
			}
			noSandbox = noSandbox || config.DisableSandbox

			definition, err := jobfile.ReadFile(args[0])
			if err != nil {
				return err
			}

			journal, err := runlog.Open(journalDir, nil, logger)
			if err != nil {
				return err
			}

			var identity *secret.Buffer
			if identityPath != "" {
				identity, err = secret.ReadFromPath(identityPath)
				if err != nil {
					return fmt.Errorf("loading identity: %w", err)
				}
				defer identity.Close()
			}

			loader, err := loadProfiles(profilesPath, logger)
			if err != nil {
				return err
			}

			engine := &lifecycle.Engine{
				Recorder:               journal,
				Identity:               identity,
				Locks:                  lockfile.NewManager(logger),
				Profiles:               loader,
				Logger:                 logger,
				DisableSandbox:         noSandbox,
				PlaybookCommand:        playbookCommand,
				InventoryImportCommand: inventoryCommand,
			}

			if taskID == "" {
				hostname, _ := os.Hostname()
				taskID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var status job.Status
			switch definition.Kind {
			case jobfile.KindJob:
				run, err := definition.Job()
				if err != nil {
					return err
				}
				status, err = engine.RunJob(ctx, run, taskID, lifecycle.Hooks{})
				if err != nil {
					return err
				}
			case jobfile.KindProjectUpdate:
				update, err := definition.ProjectUpdate()
				if err != nil {
					return err
				}
				status, err = engine.RunProjectUpdate(ctx, update, taskID, lifecycle.Hooks{})
				if err != nil {
					return err
				}
			case jobfile.KindInventoryUpdate:
				update, err := definition.InventoryUpdate()
				if err != nil {
					return err
				}
				status, err = engine.RunInventoryUpdate(ctx, update, taskID, lifecycle.Hooks{})
				if err != nil {
					return err
				}
			}

			if showOutput {
				transcript, err := journal.Transcript(definition.ID)
				if err != nil {
					return err
				}
				fmt.Print(transcript)
			}

			fmt.Fprintf(os.Stderr, "run %d finished: %s\n", definition.ID, status)
			if status != job.StatusSuccessful {
				return fmt.Errorf("run ended %s", status)
			}
			return nil
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age keypair for credential sealing",
		Usage:   "runmill keygen",
		Description: `Generate a new age keypair. The public key goes to stdout for
embedding in credential stores; the private key goes to stderr for
safekeeping as the engine identity.`,
		Run: func(args []string) error {
			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return fmt.Errorf("generating keypair: %w", err)
			}
			defer keypair.Close()

			fmt.Fprintf(os.Stderr, "# Private key (keep this secret):\n")
			fmt.Fprintf(os.Stderr, "%s\n", keypair.PrivateKey.String())
			fmt.Fprintf(os.Stdout, "%s\n", keypair.PublicKey)
			return nil
		},
	}
}

func sealCommand() *cli.Command {
	var recipients []string
	return &cli.Command{
		Name:    "seal",
		Summary: "Seal a secret value for use in a run definition",
		Usage:   "runmill seal --recipient <age-public-key> [--recipient ...]",
		Description: `Encrypt a secret value to one or more age public keys and print
the "$sealed$" string to paste into a run definition's credential
inputs. The value is read from the terminal without echo, or from
stdin when piped.`,
		Examples: []cli.Example{
			{Description: "Seal a password interactively", Command: "runmill seal --recipient age1..."},
			{Description: "Seal from a pipe", Command: "printf '%s' \"$TOKEN\" | runmill seal --recipient age1..."},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt to (repeatable)")
			return flags
		},
		Run: func(args []string) error {
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			for _, recipient := range recipients {
				if err := sealed.ParsePublicKey(recipient); err != nil {
					return fmt.Errorf("invalid recipient %q: %w", recipient, err)
				}
			}

			var plaintext []byte
			stdinFd := int(os.Stdin.Fd())
			if term.IsTerminal(stdinFd) {
				fmt.Fprintf(os.Stderr, "Secret value: ")
				value, err := term.ReadPassword(stdinFd)
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("reading secret: %w", err)
				}
				plaintext = value
			} else {
				value, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				plaintext = value
			}
			defer secret.Zero(plaintext)

			if len(plaintext) == 0 {
				return fmt.Errorf("empty secret value")
			}

			ciphertext, err := sealed.Seal(plaintext, recipients)
			if err != nil {
				return fmt.Errorf("sealing: %w", err)
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
}

func profilesCommand() *cli.Command {
	var profilesPath string
	profilesFlags := func(name string) func() *pflag.FlagSet {
		return func() *pflag.FlagSet {
			flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flags.StringVar(&profilesPath, "profiles", "", "extra sandbox profiles file (YAML)")
			return flags
		}
	}
	load := func() (*sandbox.ProfileLoader, error) {
		return loadProfiles(profilesPath, nil)
	}
	return &cli.Command{
		Name:    "profiles",
		Summary: "Inspect sandbox profiles",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "List available sandbox profiles",
				Flags:   profilesFlags("list"),
				Run: func(args []string) error {
					loader, err := load()
					if err != nil {
						return err
					}
					for _, name := range loader.List() {
						profile, err := loader.Resolve(name)
						if err != nil {
							fmt.Printf("%s (error: %v)\n", name, err)
							continue
						}
						fmt.Printf("%s - %s\n", name, profile.Description)
					}
					return nil
				},
			},
			{
				Name:    "show",
				Summary: "Show one profile's resolved configuration",
				Usage:   "runmill profiles show [flags] <name>",
				Flags:   profilesFlags("show"),
				Run: func(args []string) error {
					if len(args) != 1 {
						return fmt.Errorf("profile name required")
					}
					loader, err := load()
					if err != nil {
						return err
					}
					profile, err := loader.Resolve(args[0])
					if err != nil {
						return err
					}
					printProfile(profile)
					return nil
				},
			},
		},
	}
}

func printProfile(profile *sandbox.Profile) {
	fmt.Printf("Profile: %s\n", profile.Name)
	fmt.Printf("Description: %s\n\n", profile.Description)

	fmt.Println("Namespaces:")
	fmt.Printf("  PID: %v\n", profile.Namespaces.PID)
	fmt.Printf("  Net: %v\n", profile.Namespaces.Net)
	fmt.Printf("  IPC: %v\n", profile.Namespaces.IPC)
	fmt.Printf("  UTS: %v\n", profile.Namespaces.UTS)
	fmt.Println()

	fmt.Println("Security:")
	fmt.Printf("  New Session: %v\n", profile.Security.NewSession)
	fmt.Printf("  Die With Parent: %v\n", profile.Security.DieWithParent)
	fmt.Println()

	fmt.Println("Filesystem Mounts:")
	for _, mount := range profile.Filesystem {
		mode := mount.Mode
		if mode == "" {
			mode = "rw"
		}
		optional := ""
		if mount.Optional {
			optional = " (optional)"
		}
		if mount.Type == sandbox.MountTypeBind || mount.Type == sandbox.MountTypeDevBind {
			fmt.Printf("  %s -> %s [%s]%s\n", mount.Source, mount.Dest, mode, optional)
		} else {
			fmt.Printf("  %s at %s%s\n", mount.Type, mount.Dest, optional)
		}
	}
	fmt.Println()

	fmt.Println("Environment:")
	for key, value := range profile.Environment {
		fmt.Printf("  %s=%s\n", key, value)
	}
}

func wrapCommand() *cli.Command {
	var (
		profileName    string
		projectDir     string
		privateDataDir string
		profilesPath   string
		extraEnv       []string
	)
	return &cli.Command{
		Name:    "wrap",
		Summary: "Print the sandbox argv for a command without running it",
		Usage:   "runmill wrap [flags] -- <command> [args...]",
		Examples: []cli.Example{
			{Description: "See the bwrap invocation for a playbook run",
				Command: "runmill wrap --project /srv/projects/demo --private-data /tmp/pd -- ansible-playbook site.yml"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("wrap", pflag.ContinueOnError)
			flags.StringVar(&profileName, "profile", sandbox.DefaultJobProfile, "sandbox profile name")
			flags.StringVar(&projectDir, "project", "", "project directory bound into the sandbox (required)")
			flags.StringVar(&privateDataDir, "private-data", "", "private data directory bound into the sandbox (required)")
			flags.StringVar(&profilesPath, "profiles", "", "extra sandbox profiles file (YAML)")
			flags.StringArrayVar(&extraEnv, "env", nil, "extra environment variable (KEY=VALUE), repeatable")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("command is required after --")
			}
			if projectDir == "" || privateDataDir == "" {
				return fmt.Errorf("--project and --private-data are required")
			}

			loader, err := loadProfiles(profilesPath, nil)
			if err != nil {
				return err
			}
			profile, err := loader.Resolve(profileName)
			if err != nil {
				return err
			}

			env := make(map[string]string)
			for _, entry := range extraEnv {
				parts := strings.SplitN(entry, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid env format %q: must be KEY=VALUE", entry)
				}
				env[parts[0]] = parts[1]
			}

			wrapped, err := sandbox.Wrap(args, sandbox.WrapOptions{
				Profile:        profile,
				ProjectDir:     projectDir,
				PrivateDataDir: privateDataDir,
				Env:            env,
			})
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(wrapped, " \\\n  "))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	var full bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flags.BoolVar(&full, "full", false, "include Go version and platform")
			return flags
		},
		Run: func(args []string) error {
			if full {
				fmt.Printf("runmill %s\n", version.Full())
			} else {
				fmt.Printf("runmill %s\n", version.Info())
			}
			return nil
		},
	}
}
