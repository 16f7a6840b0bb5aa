// Package crypto protects backend credentials stored in the FieldSync config file.
// Uses AES-256-GCM for authenticated encryption with a key derived from the machine id.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"strings"
)

// SecretPrefix marks a config value as sealed ciphertext.
const SecretPrefix = "enc:"

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// Encrypt encrypts plaintext using AES-256-GCM and returns base64 nonce||ciphertext.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrInvalidKey
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	derived := sha256.Sum256(key)
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey derives a consistent key from a machine-specific identifier.
func DeriveKey(machineID string) []byte {
	if machineID == "" {
		machineID = "fieldsync-default-key"
	}
	hash := sha256.Sum256([]byte("fieldsync:" + machineID))
	return hash[:]
}

// SealSecret encrypts a credential for storage in config, returning "enc:<base64>".
func SealSecret(secret, machineID string) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}
	sealed, err := Encrypt([]byte(secret), DeriveKey(machineID))
	if err != nil {
		return "", err
	}
	return SecretPrefix + sealed, nil
}

// OpenSecret returns the plaintext of a config value. Values without the
// "enc:" prefix are returned unchanged.
func OpenSecret(value, machineID string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	plain, err := Decrypt(strings.TrimPrefix(value, SecretPrefix), DeriveKey(machineID))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// MachineID returns a best-effort stable identifier for this host.
func MachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	hostname, _ := os.Hostname()
	return hostname
}
