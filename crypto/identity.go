package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNoIdentity is returned by operations that require a loaded key pair
// when none exists. Callers are expected to prompt identity creation or
// import rather than swallow this error.
var ErrNoIdentity = errors.New("no identity loaded")

// MemoryIdentity is a key pair that exists only in memory, used to
// preview a new identity during onboarding before it is committed.
type MemoryIdentity struct {
	PublicKeyBase64  string
	PrivateKeyBase64 string
}

// Identity owns the active key pair and exposes the string-level
// cryptographic operations the protocol layer works in: base64 in,
// base64 out. Exactly one Identity is active per application.
type Identity struct {
	store KeyStore

	mu   sync.RWMutex
	keys *KeyPair
}

// NewIdentity creates an identity bound to the given key store and
// attempts to load an existing key pair from it. A missing key pair is
// not an error; HasIdentity reports the outcome.
func NewIdentity(store KeyStore) *Identity {
	id := &Identity{store: store}
	id.Reload()
	return id
}

// Reload re-reads the key pair from the key store, replacing any loaded
// keys. Used after an out-of-band import.
func (id *Identity) Reload() {
	privDER, _, err := id.store.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "Reload",
				"error":    err,
			}).Warn("Failed to load identity keys")
		}
		return
	}

	keys, err := FromPrivateKeyDER(privDER)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reload",
			"error":    err,
		}).Error("Stored identity key is corrupt")
		return
	}

	id.mu.Lock()
	id.keys = keys
	id.mu.Unlock()
}

// HasIdentity reports whether a key pair is loaded.
func (id *Identity) HasIdentity() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.keys != nil
}

// Create generates a fresh key pair, persists it, and makes it active.
func (id *Identity) Create() error {
	keys, err := GenerateKeyPair()
	if err != nil {
		return err
	}
	return id.adopt(keys)
}

// CreateInMemory generates a key pair without persisting or activating
// it. The caller commits it later via Import.
func (id *Identity) CreateInMemory() (*MemoryIdentity, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &MemoryIdentity{
		PublicKeyBase64:  keys.PublicKeyBase64(),
		PrivateKeyBase64: keys.PrivateKeyBase64(),
	}, nil
}

// Import installs a key pair from a base64 PKCS#8 private key, persists
// it, and makes it active. The public key is derived, so a backup only
// needs to carry the private half.
func (id *Identity) Import(privateKeyBase64 string) error {
	keys, err := FromPrivateKeyBase64(privateKeyBase64)
	if err != nil {
		return err
	}
	return id.adopt(keys)
}

func (id *Identity) adopt(keys *KeyPair) error {
	privDER, err := base64.StdEncoding.DecodeString(keys.PrivateKeyBase64())
	if err != nil {
		return err
	}
	pubDER, err := base64.StdEncoding.DecodeString(keys.PublicKeyBase64())
	if err != nil {
		return err
	}
	if err := id.store.Save(privDER, pubDER); err != nil {
		return err
	}

	id.mu.Lock()
	id.keys = keys
	id.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "adopt",
		"routing_hash": RoutingHash(keys.PublicKeyBase64()),
	}).Info("Identity installed")
	return nil
}

// Clear wipes the active key pair and its persisted copy.
func (id *Identity) Clear() error {
	if err := id.store.Clear(); err != nil {
		return err
	}
	id.mu.Lock()
	id.keys = nil
	id.mu.Unlock()
	return nil
}

// PublicKey returns the base64 public key identifier, or "" when no
// identity is loaded.
func (id *Identity) PublicKey() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.keys == nil {
		return ""
	}
	return id.keys.PublicKeyBase64()
}

// PrivateKey returns the base64 PKCS#8 private key for backup export, or
// "" when no identity is loaded.
func (id *Identity) PrivateKey() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.keys == nil {
		return ""
	}
	return id.keys.PrivateKeyBase64()
}

// MyRoutingHash returns the relay address of the active identity.
func (id *Identity) MyRoutingHash() string {
	return RoutingHash(id.PublicKey())
}

// Sign signs data with the identity's private key, returning a base64
// signature.
func (id *Identity) Sign(data string) (string, error) {
	id.mu.RLock()
	keys := id.keys
	id.mu.RUnlock()
	if keys == nil {
		return "", ErrNoIdentity
	}

	sig, err := Sign([]byte(data), keys.Private)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature reports whether signatureBase64 verifies over data
// under the claimed sender's public key. Any decoding problem counts as
// a failed verification, never an error.
func (id *Identity) VerifySignature(data, signatureBase64, publicKeyBase64 string) bool {
	pub, err := ParsePublicKey(publicKeyBase64)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false
	}
	return Verify([]byte(data), sig, pub)
}

// Encrypt RSA-encrypts a small string for the given recipient, returning
// base64 ciphertext. Used to wrap symmetric keys and for legacy
// unkeyed envelopes.
func (id *Identity) Encrypt(data, recipientPublicKeyBase64 string) (string, error) {
	pub, err := ParsePublicKey(recipientPublicKeyBase64)
	if err != nil {
		return "", err
	}
	out, err := EncryptAsymmetric([]byte(data), pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens base64 RSA ciphertext with the identity's private key.
func (id *Identity) Decrypt(encryptedBase64 string) (string, error) {
	id.mu.RLock()
	keys := id.keys
	id.mu.RUnlock()
	if keys == nil {
		return "", ErrNoIdentity
	}

	raw, err := base64.StdEncoding.DecodeString(encryptedBase64)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	out, err := DecryptAsymmetric(raw, keys.Private)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DatabasePassphrase derives a stable secret from the private key for
// the storage collaborator's encryption at rest. Returns "" when no
// identity is loaded.
func (id *Identity) DatabasePassphrase() string {
	id.mu.RLock()
	keys := id.keys
	id.mu.RUnlock()
	if keys == nil {
		return ""
	}

	der, err := base64.StdEncoding.DecodeString(keys.PrivateKeyBase64())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:])
}
