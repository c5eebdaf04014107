package crypto

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeyStore abstracts persistence of the identity key pair. The protocol
// core only depends on this interface; platform backends (keychain,
// encrypted settings) provide their own implementations.
type KeyStore interface {
	// Save persists the DER-encoded key pair, replacing any existing one.
	Save(privateDER, publicDER []byte) error

	// Load returns the persisted DER-encoded key pair, or an error
	// satisfying os.IsNotExist when no identity has been stored.
	Load() (privateDER, publicDER []byte, err error)

	// Clear removes the persisted key pair. Clearing an empty store is
	// not an error.
	Clear() error
}

// FileKeyStore stores the identity as two files under a directory.
type FileKeyStore struct {
	dir string
}

const (
	privateKeyFile = "identity_private.key"
	publicKeyFile  = "identity_public.key"
)

// NewFileKeyStore creates a file-backed key store rooted at dir,
// creating the directory if needed.
func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	return &FileKeyStore{dir: dir}, nil
}

// Save writes both key files with owner-only permissions.
func (ks *FileKeyStore) Save(privateDER, publicDER []byte) error {
	if err := os.WriteFile(filepath.Join(ks.dir, privateKeyFile), privateDER, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ks.dir, publicKeyFile), publicDER, 0o600); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// Load reads both key files.
func (ks *FileKeyStore) Load() ([]byte, []byte, error) {
	priv, err := os.ReadFile(filepath.Join(ks.dir, privateKeyFile))
	if err != nil {
		return nil, nil, err
	}
	pub, err := os.ReadFile(filepath.Join(ks.dir, publicKeyFile))
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// Clear deletes both key files.
func (ks *FileKeyStore) Clear() error {
	if err := os.Remove(filepath.Join(ks.dir, privateKeyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing private key: %w", err)
	}
	if err := os.Remove(filepath.Join(ks.dir, publicKeyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing public key: %w", err)
	}
	return nil
}
