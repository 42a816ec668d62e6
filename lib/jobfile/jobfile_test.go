// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package jobfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const jobJSONC = `{
	// Deploy the demo site.
	"kind": "job",
	"id": 12,
	"name": "deploy demo",
	"playbook": "site.yml",
	"project_path": "/srv/projects/demo",
	"extra_vars": {"region": "us-east-1"},
	"machine_credential": {
		"type": "ssh",
		"inputs": {"username": "bob", "password": "hunter2"},
	},
	"cloud_credential": {
		"custom_type": {
			"name": "apitoken",
			"fields": [{"id": "token", "secret": true}],
			"injectors": {"env": {"API_TOKEN": "{{token}}"}},
		},
		"inputs": {"token": "ABC123"},
	},
}`

func TestParseJobDefinition(t *testing.T) {
	definition, err := Parse([]byte(jobJSONC))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	run, err := definition.Job()
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if run.ID != 12 || run.Playbook != "site.yml" {
		t.Errorf("run = %+v", run.Unified)
	}
	if run.ExtraVars["region"] != "us-east-1" {
		t.Errorf("ExtraVars = %v", run.ExtraVars)
	}

	if run.MachineCredential == nil || !run.MachineCredential.Type.Managed {
		t.Fatal("machine credential not resolved to the built-in ssh type")
	}
	if run.MachineCredential.Inputs["username"] != "bob" {
		t.Errorf("machine inputs = %v", run.MachineCredential.Inputs)
	}

	cloud := run.CloudCredential
	if cloud == nil || cloud.Type.Managed {
		t.Fatal("cloud credential should be an unmanaged custom type")
	}
	if cloud.Type.Name != "apitoken" {
		t.Errorf("custom type name = %q", cloud.Type.Name)
	}
	if !cloud.Type.SecretField("token") {
		t.Error("token field not marked secret")
	}
	if cloud.Type.Injectors.Env["API_TOKEN"] != "{{token}}" {
		t.Errorf("injectors = %+v", cloud.Type.Injectors)
	}
}

func TestParseProjectUpdateDefinition(t *testing.T) {
	definition, err := Parse([]byte(`{
		"kind": "project_update",
		"id": 3,
		"scm_type": "git",
		"scm_url": "https://example.org/demo.git",
		"project_path": "/srv/projects/demo",
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	update, err := definition.ProjectUpdate()
	if err != nil {
		t.Fatalf("ProjectUpdate: %v", err)
	}
	if update.SCMType != "git" || update.Credential != nil {
		t.Errorf("update = %+v", update)
	}
	if _, err := definition.Job(); err == nil {
		t.Error("Job on a project_update definition succeeded")
	}
}

func TestParseInventoryUpdateDefinition(t *testing.T) {
	definition, err := Parse([]byte(`{
		"kind": "inventory_update",
		"id": 4,
		"source": "ec2",
		"inventory_id": 5,
		"inventory_source_id": 6,
		"credential": {"type": "aws", "inputs": {"username": "AKIA", "password": "shhh"}},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	update, err := definition.InventoryUpdate()
	if err != nil {
		t.Fatalf("InventoryUpdate: %v", err)
	}
	if update.Source != "ec2" || update.InventoryID != 5 || update.InventorySourceID != 6 {
		t.Errorf("update = %+v", update)
	}
	if update.Credential == nil || update.Credential.Type.Name != "aws" {
		t.Errorf("credential = %+v", update.Credential)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name  string
		jsonc string
		want  string
	}{
		{"missing kind", `{"id": 1}`, "needs a kind"},
		{"unknown kind", `{"kind": "workflow", "id": 1}`, "unknown run kind"},
		{"missing id", `{"kind": "job", "playbook": "x", "project_path": "/p"}`, "positive id"},
		{"job without playbook", `{"kind": "job", "id": 1, "project_path": "/p"}`, "playbook"},
		{"update without url", `{"kind": "project_update", "id": 1, "scm_type": "git", "project_path": "/p"}`, "scm_url"},
		{"inventory without ids", `{"kind": "inventory_update", "id": 1, "source": "ec2"}`, "inventory_id"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Parse([]byte(testCase.jsonc))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), testCase.want) {
				t.Errorf("error %q does not mention %q", err, testCase.want)
			}
		})
	}
}

func TestCredentialRefExclusivity(t *testing.T) {
	_, err := Parse([]byte(`{
		"kind": "job", "id": 1, "playbook": "site.yml", "project_path": "/p"
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	definition, err := Parse([]byte(`{
		"kind": "job", "id": 1, "playbook": "site.yml", "project_path": "/p",
		"machine_credential": {
			"type": "ssh",
			"custom_type": {"name": "x", "fields": []},
		},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := definition.Job(); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("Job error = %v", err)
	}

	definition, err = Parse([]byte(`{
		"kind": "job", "id": 1, "playbook": "site.yml", "project_path": "/p",
		"machine_credential": {"inputs": {"username": "bob"}},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := definition.Job(); err == nil {
		t.Error("credential without any type resolved")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.jsonc")
	if err := os.WriteFile(path, []byte(jobJSONC), 0o644); err != nil {
		t.Fatal(err)
	}
	definition, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if definition.Name != "deploy demo" {
		t.Errorf("Name = %q", definition.Name)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("ReadFile of missing file succeeded")
	}
}
