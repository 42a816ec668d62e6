// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import "fmt"

// Builtin returns the managed credential type with the given name.
// The returned value is a fresh copy; callers may attach it to a
// Credential without sharing state.
//
// Managed type names: ssh, aws, rackspace, gce, azure, azure_rm,
// vmware, openstack, satellite6, cloudforms, net.
func Builtin(name string) (*CredentialType, error) {
	schema, ok := builtinTypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown built-in credential type %q", name)
	}
	fields := make([]Field, len(schema.fields))
	copy(fields, schema.fields)
	return &CredentialType{
		Kind:    schema.kind,
		Name:    name,
		Managed: true,
		Fields:  fields,
	}, nil
}

type builtinSchema struct {
	kind   string
	fields []Field
}

var builtinTypes = map[string]builtinSchema{
	"ssh": {
		kind: KindSSH,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "ssh_key_data", Type: "string", Secret: true},
			{ID: "ssh_key_unlock", Type: "string", Secret: true},
			{ID: "become_method", Type: "string"},
			{ID: "become_username", Type: "string"},
			{ID: "become_password", Type: "string", Secret: true},
			{ID: "vault_password", Type: "string", Secret: true},
		},
	},
	"aws": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "security_token", Type: "string", Secret: true},
		},
	},
	"rackspace": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
		},
	},
	"gce": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "project", Type: "string"},
			{ID: "ssh_key_data", Type: "string", Secret: true},
		},
	},
	"azure": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "ssh_key_data", Type: "string", Secret: true},
		},
	},
	"azure_rm": {
		kind: KindCloud,
		fields: []Field{
			{ID: "subscription", Type: "string"},
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "client", Type: "string"},
			{ID: "secret", Type: "string", Secret: true},
			{ID: "tenant", Type: "string"},
		},
	},
	"vmware": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "host", Type: "string"},
		},
	},
	"openstack": {
		kind: KindCloud,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "host", Type: "string"},
			{ID: "project", Type: "string"},
			{ID: "domain", Type: "string"},
		},
	},
	"satellite6": {
		kind: KindCloud,
		fields: []Field{
			{ID: "host", Type: "string"},
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
		},
	},
	"cloudforms": {
		kind: KindCloud,
		fields: []Field{
			{ID: "host", Type: "string"},
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
		},
	},
	"net": {
		kind: KindNet,
		fields: []Field{
			{ID: "username", Type: "string"},
			{ID: "password", Type: "string", Secret: true},
			{ID: "ssh_key_data", Type: "string", Secret: true},
			{ID: "ssh_key_unlock", Type: "string", Secret: true},
			{ID: "authorize", Type: "boolean"},
			{ID: "authorize_password", Type: "string", Secret: true},
		},
	},
}
