// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"strings"
	"testing"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	sealedValue, err := Seal([]byte("hunter2"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if !IsSealed(sealedValue) {
		t.Fatalf("sealed value %q missing prefix", sealedValue)
	}
	if strings.Contains(sealedValue, "hunter2") {
		t.Fatal("sealed value contains plaintext")
	}

	plaintext, err := Unseal(sealedValue, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	defer plaintext.Close()

	if plaintext.String() != "hunter2" {
		t.Errorf("unsealed = %q, want %q", plaintext.String(), "hunter2")
	}
}

func TestSealToMultipleRecipients(t *testing.T) {
	first, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer first.Close()
	second, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer second.Close()

	sealedValue, err := Seal([]byte("shared"), []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for _, keypair := range []*Keypair{first, second} {
		plaintext, err := Unseal(sealedValue, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Unseal with %s: %v", keypair.PublicKey, err)
		}
		if plaintext.String() != "shared" {
			t.Errorf("unsealed = %q, want %q", plaintext.String(), "shared")
		}
		plaintext.Close()
	}
}

func TestUnsealRejectsUnsealedValue(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if _, err := Unseal("plain-password", keypair.PrivateKey); err == nil {
		t.Error("Unseal on unprefixed value succeeded, want error")
	}
}

func TestUnsealWithWrongKey(t *testing.T) {
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer owner.Close()
	stranger, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer stranger.Close()

	sealedValue, err := Seal([]byte("mine"), []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Unseal(sealedValue, stranger.PrivateKey); err == nil {
		t.Error("Unseal with wrong key succeeded, want error")
	}
}

func TestSealRequiresRecipients(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Error("Seal with no recipients succeeded, want error")
	}
}

func TestParseKeys(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey on valid key: %v", err)
	}
	if err := ParsePublicKey("age1notakey"); err == nil {
		t.Error("ParsePublicKey on garbage succeeded, want error")
	}
	if err := ParsePrivateKey(keypair.PrivateKey); err != nil {
		t.Errorf("ParsePrivateKey on valid key: %v", err)
	}
}
