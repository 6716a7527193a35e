package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("dedicated-key-material", "")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	for _, plaintext := range []string{"", "ghp_abc123", strings.Repeat("x", 500)} {
		encrypted, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", decrypted, plaintext)
		}
	}
}

func TestCipherWrongKeyFails(t *testing.T) {
	a, err := NewCipher("key-a", "")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	b, err := NewCipher("key-b", "")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	encrypted, err := a.Encrypt("github token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(encrypted); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestCipherRejectsTamperedPayload(t *testing.T) {
	c, err := NewCipher("key", "")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	encrypted, err := c.Encrypt("value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := "A" + encrypted[1:]
	if tampered == encrypted {
		tampered = "B" + encrypted[1:]
	}
	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
	if _, err := c.Decrypt("not-base64!!!"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for malformed encoding, got %v", err)
	}
	if _, err := c.Decrypt(""); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for short payload, got %v", err)
	}
}

func TestCipherFallbackKeyDerivation(t *testing.T) {
	c, err := NewCipher("", "application-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if !c.DerivedKey() {
		t.Fatalf("expected derived key flag")
	}
	same, err := NewCipher("", "application-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	encrypted, err := c.Encrypt("token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	decrypted, err := same.Decrypt(encrypted)
	if err != nil || decrypted != "token" {
		t.Fatalf("derivation should be deterministic: %q %v", decrypted, err)
	}
	if _, err := NewCipher("", ""); err == nil {
		t.Fatalf("expected error when no key material available")
	}
}
