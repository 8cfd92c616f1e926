package vault

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	in := &ConnectionSettings{
		Host:   "imap.example.com",
		Port:   993,
		Secure: true,
		User:   "alice@example.com",
		Pass:   "s3cret",
	}
	blob, err := v.Encrypt(in)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	out, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if out.Host != in.Host || out.User != in.User || out.Pass != in.Pass || !out.Secure {
		t.Errorf("decrypted settings mismatch: got %+v", out)
	}
}

func TestDecryptEmptyBlob(t *testing.T) {
	v, _ := New("test-master-key")
	if _, err := v.Decrypt(nil); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	v1, _ := New("key-one")
	v2, _ := New("key-two")

	blob, err := v1.Encrypt(&ConnectionSettings{Host: "h", User: "u", Pass: "p"})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := v2.Decrypt(blob); err == nil {
		t.Error("expected decryption failure with wrong key")
	}
}

func TestDecryptDefaultPort(t *testing.T) {
	v, _ := New("test-master-key")
	blob, err := v.Encrypt(&ConnectionSettings{Host: "h", User: "u", Pass: "p"})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	out, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if out.Port != 993 {
		t.Errorf("expected default port 993, got %d", out.Port)
	}
}

func TestDecryptMissingSecret(t *testing.T) {
	v, _ := New("test-master-key")
	blob, err := v.Encrypt(&ConnectionSettings{Host: "h", User: "u"})
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := v.Decrypt(blob); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials for settings without password, got %v", err)
	}
}
