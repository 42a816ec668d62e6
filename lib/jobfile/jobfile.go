// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobfile parses run definitions authored on disk as JSONC
// (JSON extended with comments and trailing commas). A definition
// describes one unit of work, its attached credentials included, and
// converts into the typed records the execution engine takes.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Definition
//  2. Validate: kind-specific structural checks
//  3. Job / ProjectUpdate / InventoryUpdate: convert to the engine's
//     record types, resolving credential type references
package jobfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/runmill/runmill/lib/credential"
	"github.com/runmill/runmill/lib/job"
)

// Run kinds accepted in a definition's "kind" field.
const (
	KindJob             = "job"
	KindProjectUpdate   = "project_update"
	KindInventoryUpdate = "inventory_update"
)

// Definition is one unit of work as authored on disk. Which fields are
// meaningful depends on Kind; Validate enforces the per-kind required
// set.
type Definition struct {
	Kind      string         `json:"kind"`
	ID        int            `json:"id"`
	Name      string         `json:"name,omitempty"`
	ExtraVars map[string]any `json:"extra_vars,omitempty"`

	// Playbook runs.
	Playbook          string         `json:"playbook,omitempty"`
	ProjectPath       string         `json:"project_path,omitempty"`
	MachineCredential *CredentialRef `json:"machine_credential,omitempty"`
	CloudCredential   *CredentialRef `json:"cloud_credential,omitempty"`
	NetworkCredential *CredentialRef `json:"network_credential,omitempty"`

	// Project updates.
	SCMType    string         `json:"scm_type,omitempty"`
	SCMURL     string         `json:"scm_url,omitempty"`
	Credential *CredentialRef `json:"credential,omitempty"`

	// Inventory updates.
	Source            string         `json:"source,omitempty"`
	SourceVars        map[string]any `json:"source_vars,omitempty"`
	InventoryID       int            `json:"inventory_id,omitempty"`
	InventorySourceID int            `json:"inventory_source_id,omitempty"`
}

// CredentialRef attaches a credential to a run: either a built-in type
// by name or an inline user-defined type, plus the field values. Secret
// values may carry the "$sealed$" prefix and are unsealed at injection
// time.
type CredentialRef struct {
	// Type names a built-in credential type (ssh, scm, net, aws, gce,
	// ...). Mutually exclusive with CustomType.
	Type string `json:"type,omitempty"`

	// CustomType declares a user-defined type inline.
	CustomType *CustomType `json:"custom_type,omitempty"`

	// Inputs maps field IDs to values.
	Inputs map[string]string `json:"inputs,omitempty"`
}

// CustomType is an inline user-defined credential type declaration.
type CustomType struct {
	Name   string `json:"name"`
	Fields []struct {
		ID     string `json:"id"`
		Type   string `json:"type,omitempty"`
		Secret bool   `json:"secret,omitempty"`
	} `json:"fields"`
	Injectors struct {
		Env       map[string]string `json:"env,omitempty"`
		File      string            `json:"file,omitempty"`
		ExtraVars map[string]string `json:"extra_vars,omitempty"`
	} `json:"injectors"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the result.
func Parse(data []byte) (*Definition, error) {
	stripped := jsonc.ToJSON(data)

	var definition Definition
	if err := json.Unmarshal(stripped, &definition); err != nil {
		return nil, fmt.Errorf("parsing run definition: %w", err)
	}
	if err := definition.Validate(); err != nil {
		return nil, err
	}
	return &definition, nil
}

// ReadFile reads a JSONC run definition from disk.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	definition, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return definition, nil
}

// Validate performs the kind-specific structural checks.
func (d *Definition) Validate() error {
	if d.ID <= 0 {
		return fmt.Errorf("run definition needs a positive id")
	}
	switch d.Kind {
	case KindJob:
		if d.Playbook == "" {
			return fmt.Errorf("job definition needs a playbook")
		}
		if d.ProjectPath == "" {
			return fmt.Errorf("job definition needs a project_path")
		}
	case KindProjectUpdate:
		if d.SCMType == "" || d.SCMURL == "" {
			return fmt.Errorf("project update definition needs scm_type and scm_url")
		}
		if d.ProjectPath == "" {
			return fmt.Errorf("project update definition needs a project_path")
		}
	case KindInventoryUpdate:
		if d.Source == "" {
			return fmt.Errorf("inventory update definition needs a source")
		}
		if d.InventoryID <= 0 || d.InventorySourceID <= 0 {
			return fmt.Errorf("inventory update definition needs inventory_id and inventory_source_id")
		}
	case "":
		return fmt.Errorf("run definition needs a kind (job, project_update, or inventory_update)")
	default:
		return fmt.Errorf("unknown run kind %q", d.Kind)
	}
	return nil
}

func (d *Definition) unified() job.Unified {
	return job.Unified{
		ID:        d.ID,
		Name:      d.Name,
		Status:    job.StatusPending,
		ExtraVars: d.ExtraVars,
	}
}

// Job converts a "job" definition into the engine's record.
func (d *Definition) Job() (*job.Job, error) {
	if d.Kind != KindJob {
		return nil, fmt.Errorf("definition is a %s, not a job", d.Kind)
	}
	machine, err := d.MachineCredential.resolve()
	if err != nil {
		return nil, fmt.Errorf("machine_credential: %w", err)
	}
	cloud, err := d.CloudCredential.resolve()
	if err != nil {
		return nil, fmt.Errorf("cloud_credential: %w", err)
	}
	network, err := d.NetworkCredential.resolve()
	if err != nil {
		return nil, fmt.Errorf("network_credential: %w", err)
	}
	return &job.Job{
		Unified:           d.unified(),
		Playbook:          d.Playbook,
		ProjectPath:       d.ProjectPath,
		MachineCredential: machine,
		CloudCredential:   cloud,
		NetworkCredential: network,
	}, nil
}

// ProjectUpdate converts a "project_update" definition.
func (d *Definition) ProjectUpdate() (*job.ProjectUpdate, error) {
	if d.Kind != KindProjectUpdate {
		return nil, fmt.Errorf("definition is a %s, not a project update", d.Kind)
	}
	cred, err := d.Credential.resolve()
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return &job.ProjectUpdate{
		Unified:     d.unified(),
		SCMType:     d.SCMType,
		SCMURL:      d.SCMURL,
		ProjectPath: d.ProjectPath,
		Credential:  cred,
	}, nil
}

// InventoryUpdate converts an "inventory_update" definition.
func (d *Definition) InventoryUpdate() (*job.InventoryUpdate, error) {
	if d.Kind != KindInventoryUpdate {
		return nil, fmt.Errorf("definition is a %s, not an inventory update", d.Kind)
	}
	cred, err := d.Credential.resolve()
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return &job.InventoryUpdate{
		Unified:           d.unified(),
		Source:            d.Source,
		SourceVars:        d.SourceVars,
		Credential:        cred,
		InventoryID:       d.InventoryID,
		InventorySourceID: d.InventorySourceID,
	}, nil
}

// resolve turns a reference into a typed credential, looking up the
// built-in schema or building one from the inline declaration.
func (r *CredentialRef) resolve() (*credential.Credential, error) {
	if r == nil {
		return nil, nil
	}
	if r.Type != "" && r.CustomType != nil {
		return nil, fmt.Errorf("type and custom_type are mutually exclusive")
	}
	var credentialType *credential.CredentialType
	switch {
	case r.Type != "":
		builtin, err := credential.Builtin(r.Type)
		if err != nil {
			return nil, err
		}
		credentialType = builtin
	case r.CustomType != nil:
		credentialType = r.CustomType.build()
	default:
		return nil, fmt.Errorf("credential needs a type or custom_type")
	}
	return &credential.Credential{Type: credentialType, Inputs: r.Inputs}, nil
}

func (t *CustomType) build() *credential.CredentialType {
	fields := make([]credential.Field, 0, len(t.Fields))
	for _, field := range t.Fields {
		fieldType := field.Type
		if fieldType == "" {
			fieldType = "string"
		}
		fields = append(fields, credential.Field{
			ID:     field.ID,
			Type:   fieldType,
			Secret: field.Secret,
		})
	}
	return &credential.CredentialType{
		Kind:   credential.KindCloud,
		Name:   t.Name,
		Fields: fields,
		Injectors: &credential.Injectors{
			Env:       t.Injectors.Env,
			File:      t.Injectors.File,
			ExtraVars: t.Injectors.ExtraVars,
		},
	}
}
