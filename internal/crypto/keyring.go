package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyringPrefix marks a config value as a reference to a stored credential.
const KeyringPrefix = "keyring:"

// ErrCredentialNotFound is returned when no credential is stored for an account.
var ErrCredentialNotFound = errors.New("credential not found")

// Keyring stores backend credentials as sealed files under <dir>/secure.
// Each file is encrypted with the machine key, so copying the data dir to
// another host does not leak the plaintext.
type Keyring struct {
	dir       string
	machineID string
}

// NewKeyring creates a Keyring rooted at dataDir.
func NewKeyring(dataDir string) *Keyring {
	return &Keyring{dir: dataDir, machineID: MachineID()}
}

func (k *Keyring) path(account string) (string, error) {
	if k.dir == "" {
		return "", fmt.Errorf("data directory not set for keyring")
	}
	if account == "" {
		return "", fmt.Errorf("account cannot be empty")
	}

	// Sanitize account name for filename
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(account)
	return filepath.Join(k.dir, "secure", safe+".cred"), nil
}

// Store seals value and writes it for account, replacing any previous value.
func (k *Keyring) Store(account, value string) error {
	path, err := k.path(account)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	sealed, err := SealSecret(value, k.machineID)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	if err := os.WriteFile(path, []byte(sealed), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Get returns the plaintext credential for account.
func (k *Keyring) Get(account string) (string, error) {
	path, err := k.path(account)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", account, ErrCredentialNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}

	value, err := OpenSecret(strings.TrimSpace(string(data)), k.machineID)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return value, nil
}

// Delete removes the credential for account. Deleting a missing credential is not an error.
func (k *Keyring) Delete(account string) error {
	path, err := k.path(account)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}
