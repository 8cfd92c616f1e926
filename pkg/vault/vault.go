package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// ErrNoCredentials is returned when an account has no stored credentials.
// It is a configuration error: the job system must not retry it.
var ErrNoCredentials = errors.New("missing imap credentials")

const saltSize = 16

// ConnectionSettings are the decrypted per-account connection settings.
// Exactly one of Pass or OAuthToken is normally set.
type ConnectionSettings struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Secure     bool   `json:"secure"`
	User       string `json:"user"`
	Pass       string `json:"pass,omitempty"`
	OAuthToken string `json:"oauth_token,omitempty"`
}

// Vault decrypts per-account connection settings on demand. The data key
// is derived from the master secret with scrypt, using the salt stored in
// front of each ciphertext.
type Vault struct {
	master []byte
}

func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, errors.New("vault master key not configured")
	}
	return &Vault{master: []byte(masterKey)}, nil
}

// Decrypt decrypts an encrypted credential blob into connection settings.
// Blob layout: salt (16 bytes) | gcm nonce | ciphertext.
func (v *Vault) Decrypt(blob []byte) (*ConnectionSettings, error) {
	if len(blob) == 0 {
		return nil, ErrNoCredentials
	}
	if len(blob) < saltSize {
		return nil, fmt.Errorf("failed to decrypt credentials: blob too short")
	}

	gcm, err := v.aead(blob[:saltSize])
	if err != nil {
		return nil, err
	}

	rest := blob[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("failed to decrypt credentials: blob too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var settings ConnectionSettings
	if err := json.Unmarshal(plain, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	if settings.Port == 0 {
		settings.Port = 993
	}
	if settings.Host == "" || settings.User == "" || (settings.Pass == "" && settings.OAuthToken == "") {
		return nil, ErrNoCredentials
	}
	return &settings, nil
}

// Encrypt encrypts connection settings. Used by the account API when
// credentials are stored; kept here so the format lives in one place.
func (v *Vault) Encrypt(settings *ConnectionSettings) ([]byte, error) {
	plain, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plain)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plain, nil)
	return out, nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.master, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
