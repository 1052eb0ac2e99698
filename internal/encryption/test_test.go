package encryption

import (
	"bytes"
	"strings"
	"testing"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()

	var ciphertext bytes.Buffer
	if err := e.Encrypt(strings.NewReader("hello"), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext.String() == "hello" {
		t.Error("ciphertext equals plaintext")
	}

	var out bytes.Buffer
	if err := e.Decrypt(bytes.NewReader(ciphertext.Bytes()), &out); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("decrypted = %q, want %q", out.String(), "hello")
	}
}

func TestTestEncryptor_RejectsBadHeader(t *testing.T) {
	e := NewTestEncryptor()

	var out bytes.Buffer
	if err := e.Decrypt(strings.NewReader("not encrypted data"), &out); err == nil {
		t.Fatal("Decrypt() expected error for missing header")
	}
}
