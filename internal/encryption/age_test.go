package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"notesync-go/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	e := NewAgeEncryptor(config.EncryptionConfig{
		RecipientPath: filepath.Join(dir, "keys", "notesync.pub"),
		IdentityPath:  filepath.Join(dir, "keys", "notesync.key"),
	})
	if err := e.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return e
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	e := newTestAgeEncryptor(t)

	plaintext := []byte(`{"timestamp":"2024-03-12T08:00:00Z","version":1,"entities":[]}`)

	var ciphertext bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("entities")) {
		t.Error("ciphertext contains plaintext")
	}

	var decrypted bytes.Buffer
	if err := e.Decrypt(bytes.NewReader(ciphertext.Bytes()), &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted.Bytes(), plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Run("refuses to overwrite identity", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup(); err == nil {
			t.Fatal("second Setup() expected error")
		}
	})

	t.Run("IsConfigured after setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup()")
		}
	})

	t.Run("not configured without keys", func(t *testing.T) {
		dir := t.TempDir()
		e := NewAgeEncryptor(config.EncryptionConfig{
			RecipientPath: filepath.Join(dir, "missing.pub"),
			IdentityPath:  filepath.Join(dir, "missing.key"),
		})
		if e.IsConfigured() {
			t.Error("IsConfigured() = true without key files")
		}
	})
}

func TestAgeEncryptor_DecryptWrongKey(t *testing.T) {
	a := newTestAgeEncryptor(t)
	b := newTestAgeEncryptor(t)

	var ciphertext bytes.Buffer
	if err := a.Encrypt(strings.NewReader("secret"), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var out bytes.Buffer
	if err := b.Decrypt(bytes.NewReader(ciphertext.Bytes()), &out); err == nil {
		t.Fatal("Decrypt() with wrong identity expected error")
	}
}
