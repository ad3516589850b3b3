// SPDX-License-Identifier: MIT
// Package secrets encrypts credential tokens at rest.
//
// Encrypted values have the form "enc:v1:" followed by base64 of
// salt | nonce | AES-256-GCM ciphertext. The key is derived from a
// passphrase with PBKDF2-SHA256 using the per-value salt. Values without
// the prefix are plaintext and pass through unchanged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Prefix marks an encrypted value.
	Prefix = "enc:v1:"

	// KeyringUser is the keyring account holding the passphrase.
	KeyringUser = "encryption-key"

	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// ErrNoKey is returned when an encrypted value is met without a passphrase.
var ErrNoKey = errors.New("no encryption key configured")

// IsEncrypted reports whether value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// LoadPassphrase reads the passphrase from the envName variable, falling
// back to the OS keyring entry of service. It returns ErrNoKey when neither
// is set.
func LoadPassphrase(envName, service string) (string, error) {
	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v, nil
		}
	}
	if service == "" {
		return "", ErrNoKey
	}
	v, err := keyring.Get(service, KeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return v, nil
}

// SavePassphrase stores passphrase in the OS keyring under service.
func SavePassphrase(service, passphrase string) error {
	if err := keyring.Set(service, KeyringUser, passphrase); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// Box encrypts and decrypts values with one passphrase. A nil *Box passes
// plaintext through and refuses encrypted values.
type Box struct {
	passphrase []byte
}

// NewBox returns a Box for passphrase.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	return &Box{passphrase: []byte(passphrase)}, nil
}

// Encrypt seals plaintext. Already encrypted and empty values are returned
// unchanged.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}
	if b == nil {
		return "", ErrNoKey
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(append(append(out, salt...), nonce...), sealed...)
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an encrypted value. Plaintext values are returned unchanged.
func (b *Box) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if b == nil {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	if len(raw) < saltSize {
		return "", errors.New("encrypted value too short")
	}
	gcm, err := b.aead(raw[:saltSize])
	if err != nil {
		return "", err
	}
	rest := raw[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("encrypted value too short")
	}
	plaintext, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt value: %w", err)
	}
	return string(plaintext), nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(b.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
