// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package injector materializes credentials into the concrete form a
// subprocess consumes: environment variables, argv flags, extra
// variables, interactive prompt answers, and generated secret files in
// the run's private data directory.
//
// Managed credential types have fixed injection behavior implemented
// here. User-defined types carry declarative templates (see
// credential.Injectors) rendered by the expression engine in
// template.go. Every secret plaintext that passes through the injector
// is registered with the run's redactor before it reaches the target,
// so nothing injected can later leak into persisted output.
package injector

import (
	"errors"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/runmill/runmill/lib/credential"
	"github.com/runmill/runmill/lib/privdata"
	"github.com/runmill/runmill/lib/prompt"
	"github.com/runmill/runmill/lib/redact"
	"github.com/runmill/runmill/lib/secret"
)

// Reserved environment variable names. The engine sets these itself;
// injected values for them are discarded no matter which credential
// type asked.
const (
	EnvJobID             = "JOB_ID"
	EnvInventoryID       = "INVENTORY_ID"
	EnvInventorySourceID = "INVENTORY_SOURCE_ID"
	EnvProjectRevision   = "PROJECT_REVISION"
)

var reservedEnv = map[string]bool{
	EnvJobID:             true,
	EnvInventoryID:       true,
	EnvInventorySourceID: true,
	EnvProjectRevision:   true,
}

// Reserved reports whether name is an engine-owned environment
// variable.
func Reserved(name string) bool { return reservedEnv[name] }

// Target accumulates everything injection produces for one run. The
// lifecycle hands a fresh Target to the injector, then folds the result
// into the subprocess invocation.
type Target struct {
	// Env holds injected environment variables.
	Env map[string]string

	// Args holds argv additions (flags like --ask-pass, -u).
	Args []string

	// ExtraVars holds injected extra variables, merged under the run's
	// own extra vars and serialized as a -e argument.
	ExtraVars map[string]any

	// Prompts is the run's interactive prompt table.
	Prompts *prompt.Map

	// SSHKeyFile names the private key file written to the private
	// data directory, or "" when no key was materialized. The
	// lifecycle wraps argv in an ssh-agent invocation when set.
	SSHKeyFile string
}

// NewTarget returns an empty Target ready for injection.
func NewTarget() *Target {
	return &Target{
		Env:       make(map[string]string),
		ExtraVars: make(map[string]any),
		Prompts:   prompt.NewMap(),
	}
}

// Injector materializes credentials for a single run.
type Injector struct {
	// Identity unseals sealed credential fields; nil when every field
	// is stored plaintext.
	Identity *secret.Buffer

	// Redactor receives every secret plaintext the injector touches.
	Redactor *redact.Redactor

	// Dir is the run's private data directory for generated files.
	Dir *privdata.Dir

	Logger *slog.Logger
}

// New returns an Injector for one run. A nil logger falls back to the
// process default.
func New(identity *secret.Buffer, redactor *redact.Redactor, dir *privdata.Dir, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{Identity: identity, Redactor: redactor, Dir: dir, Logger: logger}
}

// get reads one field, unsealing it if needed, and tracks the plaintext
// with the redactor when the type declares the field secret.
func (i *Injector) get(cred *credential.Credential, field string) (string, error) {
	value, err := cred.Get(field, i.Identity)
	if err != nil {
		return "", err
	}
	if cred.Type.SecretField(field) {
		i.Redactor.Track(value)
	}
	return value, nil
}

// setEnv writes an injected environment variable unless the name is
// reserved by the engine.
func (i *Injector) setEnv(target *Target, name, value string) {
	if Reserved(name) {
		i.Logger.Warn("credential injection ignored for reserved environment variable",
			"name", name)
		return
	}
	target.Env[name] = value
}

// Machine injects the primary ssh credential of a playbook run:
// username and password flags, become and vault prompt answers, and the
// private key file loaded through ssh-agent.
func (i *Injector) Machine(target *Target, cred *credential.Credential) error {
	if cred == nil {
		return nil
	}
	if username, err := i.get(cred, "username"); err != nil {
		return err
	} else if username != "" {
		target.Args = append(target.Args, "-u", username)
	}

	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	if password != "" {
		target.Args = append(target.Args, "--ask-pass")
		target.Prompts.Register("ssh_password", password)
	}

	becomePassword, err := i.get(cred, "become_password")
	if err != nil {
		return err
	}
	if becomePassword != "" {
		target.Args = append(target.Args, "--ask-become-pass")
		target.Prompts.Register("become_password", becomePassword)
	}

	vaultPassword, err := i.get(cred, "vault_password")
	if err != nil {
		return err
	}
	if vaultPassword != "" {
		target.Args = append(target.Args, "--ask-vault-pass")
		target.Prompts.Register("vault_password", vaultPassword)
	}

	return i.injectKey(target, cred, privdata.MachineKeyFile)
}

// SCM injects the source-control credential of a project update. The
// username and password answer the VCS client's interactive prompts;
// the key file uses the scm-specific name so a machine key and an scm
// key can coexist in one directory.
func (i *Injector) SCM(target *Target, cred *credential.Credential) error {
	if cred == nil {
		return nil
	}
	if username, err := i.get(cred, "username"); err != nil {
		return err
	} else if username != "" {
		target.Prompts.Register("scm_username", username)
	}

	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	if password != "" {
		target.Prompts.Register("scm_password", password)
	}

	unlock, err := i.get(cred, "ssh_key_unlock")
	if err != nil {
		return err
	}
	keyData, err := i.get(cred, "ssh_key_data")
	if err != nil {
		return err
	}
	if keyData == "" {
		return nil
	}
	if _, err := i.Dir.WriteSecret(privdata.SCMKeyFile, []byte(keyData), 0); err != nil {
		return err
	}
	target.SSHKeyFile = privdata.SCMKeyFile
	if unlock != "" || keyNeedsPassphrase([]byte(keyData)) {
		target.Prompts.Register("scm_key_unlock", unlock)
	}
	return nil
}

// Network injects a network device credential through the
// ANSIBLE_NET_* environment contract.
func (i *Injector) Network(target *Target, cred *credential.Credential) error {
	if cred == nil {
		return nil
	}
	if username, err := i.get(cred, "username"); err != nil {
		return err
	} else if username != "" {
		i.setEnv(target, "ANSIBLE_NET_USERNAME", username)
	}

	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	if password != "" {
		i.setEnv(target, "ANSIBLE_NET_PASSWORD", password)
	}

	if cred.GetBool("authorize") {
		i.setEnv(target, "ANSIBLE_NET_AUTHORIZE", "1")
		authorizePassword, err := i.get(cred, "authorize_password")
		if err != nil {
			return err
		}
		i.setEnv(target, "ANSIBLE_NET_AUTH_PASS", authorizePassword)
	}

	keyData, err := i.get(cred, "ssh_key_data")
	if err != nil {
		return err
	}
	if keyData != "" {
		path, err := i.Dir.WriteSecret("network_credential", []byte(keyData), 0)
		if err != nil {
			return err
		}
		i.setEnv(target, "ANSIBLE_NET_SSH_KEYFILE", path)
	}
	return nil
}

// injectKey writes the credential's private key (if any) into the
// private data directory under fileName and registers the unlock
// prompt. The prompt is registered even when no unlock value was
// supplied, as long as the key itself demands a passphrase; an
// unanswerable prompt hang is worse diagnosed than a wrong-passphrase
// failure.
func (i *Injector) injectKey(target *Target, cred *credential.Credential, fileName string) error {
	unlock, err := i.get(cred, "ssh_key_unlock")
	if err != nil {
		return err
	}
	keyData, err := i.get(cred, "ssh_key_data")
	if err != nil {
		return err
	}
	if keyData == "" {
		if unlock != "" {
			target.Prompts.Register("ssh_key_unlock", unlock)
		}
		return nil
	}

	if _, err := i.Dir.WriteSecret(fileName, []byte(keyData), 0); err != nil {
		return err
	}
	target.SSHKeyFile = fileName
	if unlock != "" || keyNeedsPassphrase([]byte(keyData)) {
		target.Prompts.Register("ssh_key_unlock", unlock)
	}
	return nil
}

// keyNeedsPassphrase reports whether pemData parses as a
// passphrase-protected private key.
func keyNeedsPassphrase(pemData []byte) bool {
	_, err := ssh.ParseRawPrivateKey(pemData)
	if err == nil {
		return false
	}
	var missing *ssh.PassphraseMissingError
	return errors.As(err, &missing)
}
