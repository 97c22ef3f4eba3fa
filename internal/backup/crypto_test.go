package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if len(a) != saltSize {
		t.Errorf("len = %d, want %d", len(a), saltSize)
	}
	b, _ := GenerateSalt()
	if bytes.Equal(a, b) {
		t.Error("two salts should differ")
	}
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey("senha", salt)
	k2 := DeriveKey("senha", salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt should derive the same key")
	}
	if len(k1) != keySize {
		t.Errorf("key length = %d, want %d", len(k1), keySize)
	}
	if bytes.Equal(k1, DeriveKey("outra", salt)) {
		t.Error("different passphrases should derive different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"items":[],"budget":500,"history":[]}`)

	data, err := Encrypt(plaintext, "senha forte")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(data, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := Decrypt(data, "senha forte")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("got %q, want %q", got, plaintext)
	}
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	a, _ := Encrypt([]byte("x"), "p")
	b, _ := Encrypt([]byte("x"), "p")
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("each encryption should use its own salt")
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	data, _ := Encrypt([]byte("segredo"), "certa")
	if _, err := Decrypt(data, "errada"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptTampered(t *testing.T) {
	data, _ := Encrypt([]byte("segredo"), "p")
	data[len(data)-1] ^= 0xff
	if _, err := Decrypt(data, "p"); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestEncryptEmpty(t *testing.T) {
	data, err := Encrypt(nil, "p")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt(data, "p")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}

func TestDecryptTooSmall(t *testing.T) {
	if _, err := Decrypt(make([]byte, 10), "p"); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("err = %v, want ErrCiphertextTooShort", err)
	}
}
