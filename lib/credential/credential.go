// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential models the typed credentials attached to a run and
// the declarative schemas (credential types) that describe them.
//
// A credential is a flat map of field-name to value. Fields the type
// marks secret are stored sealed (age ciphertext, see lib/sealed) and
// are decrypted only inside the engine's process memory at injection
// time. The records are read-only to the engine; the persistence layer
// that creates and edits them is an external collaborator.
package credential

import (
	"fmt"
	"strings"

	"github.com/runmill/runmill/lib/sealed"
	"github.com/runmill/runmill/lib/secret"
)

// Credential kinds. Built-in types carry one of these; the kind decides
// which roles a credential may fill on a run.
const (
	KindSSH   = "ssh"
	KindCloud = "cloud"
	KindNet   = "net"
	KindSCM   = "scm"
)

// Field describes one input of a credential type.
type Field struct {
	// ID is the field name used in Inputs and as a template variable.
	ID string `yaml:"id"`

	// Type is the value type; currently always "string" or "boolean".
	Type string `yaml:"type"`

	// Secret marks the field as sensitive: sealed at rest, scrubbed
	// from anything that leaves the execution boundary.
	Secret bool `yaml:"secret"`
}

// Injectors is the declarative template spec of a user-defined
// credential type. Each declared field is available as a template
// variable; the reserved "tower" namespace exposes tower.filename, the
// path of the file generated from the File template.
type Injectors struct {
	// Env maps environment variable names to template strings.
	Env map[string]string `yaml:"env,omitempty"`

	// File, when non-empty, is a template whose rendered output is
	// written to a generated file in the run's private data directory.
	File string `yaml:"file,omitempty"`

	// ExtraVars maps extra-variable keys to template strings.
	ExtraVars map[string]string `yaml:"extra_vars,omitempty"`
}

// CredentialType describes a kind of credential: its field schema and,
// for user-defined types, the injector templates.
type CredentialType struct {
	// Kind is one of the Kind constants.
	Kind string `yaml:"kind"`

	// Name is the type's display name.
	Name string `yaml:"name"`

	// Managed marks the built-in types whose injection behavior is
	// fixed in lib/injector. User-defined types are not managed and
	// use the generic template injector.
	Managed bool `yaml:"-"`

	// Fields is the ordered field schema.
	Fields []Field `yaml:"fields"`

	// Injectors is the template spec for user-defined types; nil for
	// managed types.
	Injectors *Injectors `yaml:"injectors,omitempty"`
}

// FieldByID returns the schema entry for a field, if declared.
func (t *CredentialType) FieldByID(id string) (Field, bool) {
	for _, field := range t.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}

// SecretField reports whether the type declares id as a secret field.
func (t *CredentialType) SecretField(id string) bool {
	field, ok := t.FieldByID(id)
	return ok && field.Secret
}

// Credential is one attached credential: a type plus field values.
// Secret field values are stored sealed and must be read through Get.
type Credential struct {
	// Type is the credential's schema. Never nil for a valid record.
	Type *CredentialType

	// Inputs maps field IDs to values. Secret values carry the
	// "$sealed$" prefix; Get transparently unseals them.
	Inputs map[string]string
}

// Has reports whether the field has a non-empty value.
func (c *Credential) Has(field string) bool {
	return c != nil && c.Inputs[field] != ""
}

// Get returns the plaintext value of a field. Sealed values are
// decrypted with the engine identity; the plaintext lives briefly on
// the heap at this boundary and is handed straight to the injector.
// Returns "" for absent fields.
func (c *Credential) Get(field string, identity *secret.Buffer) (string, error) {
	if c == nil {
		return "", nil
	}
	value, ok := c.Inputs[field]
	if !ok {
		return "", nil
	}
	if !sealed.IsSealed(value) {
		return value, nil
	}
	if identity == nil {
		return "", fmt.Errorf("field %q is sealed but no engine identity is loaded", field)
	}
	plaintext, err := sealed.Unseal(value, identity)
	if err != nil {
		return "", fmt.Errorf("unsealing field %q: %w", field, err)
	}
	defer plaintext.Close()
	return plaintext.String(), nil
}

// GetBool returns a boolean field. Sealed booleans are not supported;
// the raw value is interpreted with the usual spellings.
func (c *Credential) GetBool(field string) bool {
	if c == nil {
		return false
	}
	switch strings.ToLower(c.Inputs[field]) {
	case "1", "true", "yes":
		return true
	}
	return false
}
