// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"testing"

	"github.com/runmill/runmill/lib/sealed"
)

func TestBuiltinTypes(t *testing.T) {
	for _, name := range []string{
		"ssh", "aws", "rackspace", "gce", "azure", "azure_rm",
		"vmware", "openstack", "satellite6", "cloudforms", "net",
	} {
		credentialType, err := Builtin(name)
		if err != nil {
			t.Errorf("Builtin(%q): %v", name, err)
			continue
		}
		if !credentialType.Managed {
			t.Errorf("Builtin(%q) not managed", name)
		}
		if len(credentialType.Fields) == 0 {
			t.Errorf("Builtin(%q) has no fields", name)
		}
	}

	if _, err := Builtin("doesnotexist"); err == nil {
		t.Error("Builtin on unknown name succeeded, want error")
	}
}

func TestBuiltinReturnsFreshCopy(t *testing.T) {
	first, err := Builtin("ssh")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	first.Fields[0].ID = "mutated"

	second, err := Builtin("ssh")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if second.Fields[0].ID != "username" {
		t.Error("Builtin shares field slices between calls")
	}
}

func TestSecretFieldFlags(t *testing.T) {
	ssh, err := Builtin("ssh")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if !ssh.SecretField("password") {
		t.Error("ssh password not flagged secret")
	}
	if ssh.SecretField("username") {
		t.Error("ssh username flagged secret")
	}
	if ssh.SecretField("nonexistent") {
		t.Error("unknown field flagged secret")
	}
}

func TestGetPlainValue(t *testing.T) {
	aws, err := Builtin("aws")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	cred := &Credential{Type: aws, Inputs: map[string]string{"username": "bob"}}

	value, err := cred.Get("username", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "bob" {
		t.Errorf("Get = %q, want %q", value, "bob")
	}

	// Absent fields read as empty without error.
	value, err = cred.Get("security_token", nil)
	if err != nil || value != "" {
		t.Errorf("Get(absent) = %q, %v", value, err)
	}
}

func TestGetSealedValue(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	sealedPassword, err := sealed.Seal([]byte("s3cret"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	aws, err := Builtin("aws")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	cred := &Credential{Type: aws, Inputs: map[string]string{"password": sealedPassword}}

	value, err := cred.Get("password", keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "s3cret" {
		t.Errorf("Get = %q, want plaintext", value)
	}

	// Without an identity the sealed value must not come back.
	if _, err := cred.Get("password", nil); err == nil {
		t.Error("Get of sealed field without identity succeeded, want error")
	}
}

func TestGetBool(t *testing.T) {
	net, err := Builtin("net")
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	for value, want := range map[string]bool{"true": true, "1": true, "yes": true, "false": false, "": false} {
		cred := &Credential{Type: net, Inputs: map[string]string{"authorize": value}}
		if got := cred.GetBool("authorize"); got != want {
			t.Errorf("GetBool(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestNilCredentialAccessors(t *testing.T) {
	var cred *Credential
	if cred.Has("anything") {
		t.Error("nil credential Has = true")
	}
	if value, err := cred.Get("anything", nil); err != nil || value != "" {
		t.Errorf("nil credential Get = %q, %v", value, err)
	}
}
